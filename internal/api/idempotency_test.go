package api

import (
	"testing"
	"time"

	"gymkaana/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayCache(t *testing.T) {
	c := newReplayCache(time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, ok := c.get("k")
	assert.False(t, ok)

	c.put("k", &models.AuditEntry{ID: "a1"})
	got, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, "a1", got.ID)

	now = now.Add(time.Minute)
	_, ok = c.get("k")
	assert.False(t, ok)

	c.put("other", &models.AuditEntry{ID: "a2"})
	assert.Len(t, c.entries, 1)
}
