package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"gymkaana/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestRequiredPermission(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/api/v1/entries/ABC123", permReadEntries},
		{http.MethodPost, "/api/v1/entries/bk-1/decision", permWriteDecisions},
		{http.MethodGet, "/api/v1/activity", permReadActivity},
		{http.MethodGet, "/healthz", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, requiredPermission(r), tt.path)
	}
}

func TestCheckPermissions(t *testing.T) {
	all := config.APIClientKey{Name: "desk"}
	limited := config.APIClientKey{Name: "dash", Permissions: []string{" read:activity "}}

	assert.NoError(t, checkPermissions(all, permWriteDecisions))
	assert.NoError(t, checkPermissions(limited, permReadActivity))
	assert.NoError(t, checkPermissions(limited, ""))
	assert.ErrorIs(t, checkPermissions(limited, permReadEntries), errPermissionDenied)
}

func TestClientName(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/activity", nil)
	r.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", clientName(r))

	r.RemoteAddr = "garbage"
	assert.Equal(t, clientKeyUnknown, clientName(r))
}

func TestRateLimiterDisabled(t *testing.T) {
	l := newRateLimiter(config.APIRateLimitConfig{})
	for i := 0; i < 100; i++ {
		assert.True(t, l.allow("k"))
	}
}

func TestRateLimiterSharesBucketPerKey(t *testing.T) {
	l := newRateLimiter(config.APIRateLimitConfig{RPS: 1})
	assert.Same(t, l.getLimiter("a"), l.getLimiter("a"))
	assert.NotSame(t, l.getLimiter("a"), l.getLimiter("b"))
	assert.Equal(t, defaultBurst, l.getLimiter("a").Burst())
}
