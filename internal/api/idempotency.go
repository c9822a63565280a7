package api

import (
	"sync"
	"time"

	"gymkaana/internal/models"
)

// replayCache remembers decisions by idempotency key so a retried confirm
// gets the original answer instead of a conflict.
type replayCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]replayEntry
}

type replayEntry struct {
	entry     models.AuditEntry
	expiresAt time.Time
}

func newReplayCache(ttl time.Duration) *replayCache {
	return &replayCache{ttl: ttl, now: time.Now, entries: make(map[string]replayEntry)}
}

func (c *replayCache) get(key string) (*models.AuditEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	entry := e.entry
	return &entry, true
}

func (c *replayCache) put(key string, entry *models.AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = replayEntry{entry: *entry, expiresAt: now.Add(c.ttl)}
}
