package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"gymkaana/internal/config"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	permReadEntries     = "read:entries"
	permWriteDecisions  = "write:decisions"
	permReadActivity    = "read:activity"
	clientKeyUnknown    = "unknown"
)

var (
	errMissingAPIKey    = errors.New("missing api key header")
	errInvalidAPIKey    = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

type clientCtxKey struct{}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	header  string
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	header := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return &HTTPAuth{cfg: cfg, header: header, limiter: newRateLimiter(cfg.RateLimit)}
}

// Middleware authenticates the caller, checks the permission the route needs
// and applies the per-client rate limit. The resolved client name is stored
// in the request context.
func (a *HTTPAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requiresAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := remoteHost(r)
		if a.cfg.Auth.Enabled {
			client, err := a.authenticate(r)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					status = http.StatusForbidden
				}
				writeError(w, status, err.Error())
				return
			}
			key = client.Name
			r = r.WithContext(context.WithValue(r.Context(), clientCtxKey{}, client.Name))
		}

		if !a.limiter.allow(key) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) authenticate(r *http.Request) (config.APIClientKey, error) {
	apiKey := strings.TrimSpace(r.Header.Get(a.header))
	if apiKey == "" {
		return config.APIClientKey{}, errMissingAPIKey
	}

	// Compare against every key so timing does not reveal a prefix match.
	var (
		match config.APIClientKey
		found bool
	)
	for _, k := range a.cfg.Auth.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(apiKey)) == 1 {
			match, found = k, true
		}
	}
	if !found {
		return config.APIClientKey{}, errInvalidAPIKey
	}
	if match.Name == "" {
		match.Name = "client"
	}

	if err := checkPermissions(match, requiredPermission(r)); err != nil {
		return config.APIClientKey{}, err
	}
	return match, nil
}

func checkPermissions(client config.APIClientKey, required string) error {
	// An empty permission list allows everything.
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/entries/") && strings.HasSuffix(path, "/decision"):
		return permWriteDecisions
	case strings.HasPrefix(path, "/api/v1/entries/"):
		return permReadEntries
	case path == "/api/v1/activity":
		return permReadActivity
	default:
		return ""
	}
}

func requiresAuth(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// clientName returns the authenticated client for r, or its remote host when
// auth is disabled.
func clientName(r *http.Request) string {
	if name, ok := r.Context().Value(clientCtxKey{}).(string); ok && name != "" {
		return name
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
