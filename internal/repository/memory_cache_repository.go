package repository

import (
	"context"
	"path"
	"sync"

	"github.com/noah-isme/classroom-sync-api/internal/models"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
)

// MemoryCacheRepository keeps view cache entries in process memory. Patterns
// use the same glob syntax as the Redis repository.
type MemoryCacheRepository struct {
	mu      sync.RWMutex
	entries map[string]models.CacheEntry
}

// NewMemoryCacheRepository constructs an empty in-memory store.
func NewMemoryCacheRepository() *MemoryCacheRepository {
	return &MemoryCacheRepository{entries: make(map[string]models.CacheEntry)}
}

// Get returns a copy of the stored entry.
func (r *MemoryCacheRepository) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return nil, appErrors.ErrCacheMiss
	}
	return &entry, nil
}

// Put replaces the entry.
func (r *MemoryCacheRepository) Put(_ context.Context, entry models.CacheEntry) error {
	r.mu.Lock()
	r.entries[entry.Key] = entry
	r.mu.Unlock()
	return nil
}

// MarkStale flags matching entries as stale.
func (r *MemoryCacheRepository) MarkStale(_ context.Context, pattern string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	marked := 0
	for key, entry := range r.entries {
		if ok, _ := path.Match(pattern, key); !ok || entry.Stale {
			continue
		}
		entry.Stale = true
		r.entries[key] = entry
		marked++
	}
	return marked, nil
}

// DeleteByPattern removes matching entries.
func (r *MemoryCacheRepository) DeleteByPattern(_ context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(r.entries, key)
		}
	}
	return nil
}

// Len reports the number of stored entries.
func (r *MemoryCacheRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
