package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-sync-api/internal/models"
)

const (
	responseMetaKey = "response_meta"
	syncMetaKey     = "sync_meta"
)

// WithResponseMeta initialises response metadata storage on the request context.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(responseMetaKey, map[string]interface{}{"started_at": start})
		c.Next()
	}
}

// SetSyncMeta records how the view payload was served.
func SetSyncMeta(c *gin.Context, sync models.SyncMeta) {
	c.Set(syncMetaKey, sync)
	meta := ensureMeta(c)
	for key, value := range sync.AsMap() {
		meta[key] = value
	}
}

// SyncMetaFromContext returns the sync meta recorded for this request, if any.
func SyncMetaFromContext(c *gin.Context) (models.SyncMeta, bool) {
	value, exists := c.Get(syncMetaKey)
	if !exists {
		return models.SyncMeta{}, false
	}
	meta, ok := value.(models.SyncMeta)
	return meta, ok
}

// ExtractMeta returns the metadata for the response body with the processing
// time filled in.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	value, exists := c.Get(responseMetaKey)
	if !exists {
		return nil
	}
	stored, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	meta := make(map[string]interface{}, len(stored))
	for key, v := range stored {
		if key == "started_at" {
			if start, ok := v.(time.Time); ok {
				meta["processing_time_ms"] = time.Since(start).Milliseconds()
			}
			continue
		}
		meta[key] = v
	}
	return meta
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	newMeta := make(map[string]interface{})
	c.Set(responseMetaKey, newMeta)
	return newMeta
}
