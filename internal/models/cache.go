package models

import (
	"encoding/json"
	"time"
)

// CacheEntry is one cached view payload. Entries are only ever written whole.
type CacheEntry struct {
	Key              string          `json:"key"`
	Payload          json.RawMessage `json:"payload"`
	FetchedAt        time.Time       `json:"fetchedAt"`
	Stale            bool            `json:"stale"`
	Partial          bool            `json:"partial"`
	DegradedBranches []string        `json:"degradedBranches,omitempty"`
}

// SyncMeta describes how a payload was served.
type SyncMeta struct {
	CacheHit         bool      `json:"cache_hit"`
	FetchedAt        time.Time `json:"fetched_at"`
	Stale            bool      `json:"stale"`
	Partial          bool      `json:"partial"`
	DegradedBranches []string  `json:"degraded_branches,omitempty"`
	RefreshQueued    bool      `json:"refresh_queued,omitempty"`
}

// AsMap converts the meta into the response envelope's meta map.
func (m SyncMeta) AsMap() map[string]interface{} {
	meta := map[string]interface{}{
		"cache_hit":  m.CacheHit,
		"fetched_at": m.FetchedAt,
		"stale":      m.Stale,
		"partial":    m.Partial,
	}
	if len(m.DegradedBranches) > 0 {
		meta["degraded_branches"] = m.DegradedBranches
	}
	if m.RefreshQueued {
		meta["refresh_queued"] = true
	}
	return meta
}
