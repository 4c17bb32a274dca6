package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-sync-api/internal/models"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
)

// CacheRepository stores view cache entries in Redis, one key per entry.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// Get retrieves and unmarshals the entry stored under key.
func (r *CacheRepository) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}

	return &entry, nil
}

// Put replaces the entry in a single SET without expiry.
func (r *CacheRepository) Put(ctx context.Context, entry models.CacheEntry) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", entry.Key, err)
	}

	if err := r.client.Set(ctx, entry.Key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", entry.Key, err)
	}

	return nil
}

// MarkStale flags every entry matching pattern as stale. Each entry is
// rewritten whole under WATCH; an entry replaced concurrently is left alone
// because the replacement is already newer than the signal.
func (r *CacheRepository) MarkStale(ctx context.Context, pattern string) (int, error) {
	if r.client == nil {
		return 0, nil
	}

	marked := 0
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var entry models.CacheEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				return err
			}
			if entry.Stale {
				return nil
			}
			entry.Stale = true
			payload, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				return nil
			})
			if err == nil {
				marked++
			}
			return err
		}, key)
		switch {
		case err == nil, errors.Is(err, redis.Nil):
		case errors.Is(err, redis.TxFailedErr):
			r.logger.Debug("cache entry replaced while marking stale", zap.String("key", key))
		default:
			return marked, fmt.Errorf("redis mark stale %s: %w", key, err)
		}
	}

	if err := iter.Err(); err != nil {
		return marked, fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}

	return marked, nil
}

// DeleteByPattern removes cached entries matching the provided pattern.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if r.client == nil {
		return nil
	}

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", key, err)
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}

	return nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
