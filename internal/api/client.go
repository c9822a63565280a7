package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gymkaana/internal/config"
	"gymkaana/internal/domain"
	"gymkaana/internal/models"
	"gymkaana/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ActivityCache stores the recent-activity window between refreshes.
type ActivityCache interface {
	Get(ctx context.Context, limit int) ([]models.AuditEntry, bool, error)
	Set(ctx context.Context, limit int, entries []models.AuditEntry) error
	Invalidate(ctx context.Context) error
}

// EntryClient talks to the entry API on behalf of the check-in console.
// Lookups are retried on transport failures; decisions never are.
type EntryClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      worker.RetryPolicy
	cache      ActivityCache
	logger     *zerolog.Logger
}

func NewEntryClient(cfg config.ClientConfig, logger *zerolog.Logger) *EntryClient {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EntryClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		retry: worker.RetryPolicy{
			MaxRetries:    cfg.Retry.MaxRetries,
			InitialDelay:  time.Duration(cfg.Retry.InitialDelayMillis) * time.Millisecond,
			MaxDelay:      time.Duration(cfg.Retry.MaxDelayMillis) * time.Millisecond,
			BackoffFactor: cfg.Retry.BackoffFactor,
		},
		logger: logger,
	}
}

// UseActivityCache configures optional caching for the activity window.
func (c *EntryClient) UseActivityCache(cache ActivityCache) {
	c.cache = cache
}

func (c *EntryClient) LookupEntry(ctx context.Context, token string) (*models.Booking, error) {
	endpoint := fmt.Sprintf("%s/api/v1/entries/%s", c.baseURL, url.PathEscape(token))

	var booking models.Booking
	attempt := 0
	err := c.retry.Do(ctx, isUnreachable, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.logger.Debug().Int("attempt", attempt).Msg("retrying entry lookup")
		}
		return c.doJSON(ctx, http.MethodGet, endpoint, nil, nil, &booking)
	})
	if err != nil {
		return nil, err
	}
	booking.Token = token
	return &booking, nil
}

// ConfirmEntry records the decision. Transport failures are retried with the
// same idempotency key, so a decision the server already stored is answered
// from its replay cache instead of as a conflict.
func (c *EntryClient) ConfirmEntry(ctx context.Context, bookingID string, decision models.Decision, reason string) error {
	endpoint := fmt.Sprintf("%s/api/v1/entries/%s/decision", c.baseURL, url.PathEscape(bookingID))
	body := decisionRequest{Decision: string(decision), Reason: reason}
	key := uuid.NewString()
	headers := map[string]string{idempotencyHeader: key}

	attempt := 0
	err := c.retry.Do(ctx, isUnreachable, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.logger.Debug().Int("attempt", attempt).Str("idempotency_key", key).Msg("retrying entry decision")
		}
		return c.doJSON(ctx, http.MethodPost, endpoint, body, headers, nil)
	})
	if err != nil {
		return err
	}

	if c.cache != nil {
		if err := c.cache.Invalidate(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("failed to invalidate activity cache")
		}
	}
	return nil
}

func (c *EntryClient) ListRecentActivity(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if c.cache != nil {
		entries, ok, err := c.cache.Get(ctx, limit)
		if err != nil {
			c.logger.Debug().Err(err).Msg("activity cache read failed")
		} else if ok {
			return entries, nil
		}
	}

	endpoint := fmt.Sprintf("%s/api/v1/activity?limit=%d", c.baseURL, limit)
	var wrap struct {
		Entries []models.AuditEntry `json:"entries"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, nil, &wrap); err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, limit, wrap.Entries); err != nil {
			c.logger.Debug().Err(err).Msg("activity cache write failed")
		}
	}
	return wrap.Entries, nil
}

func (c *EntryClient) doJSON(ctx context.Context, method, endpoint string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeaderDefault, c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&payload)
	msg := payload.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusGone:
		return domain.ErrExpired
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrConflict, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.ErrThrottled
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: http %d: %s", domain.ErrUnreachable, resp.StatusCode, msg)
	default:
		return fmt.Errorf("http %d: %s", resp.StatusCode, msg)
	}
}

func isUnreachable(err error) bool {
	return errors.Is(err, domain.ErrUnreachable)
}
