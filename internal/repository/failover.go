package repository

import (
	"context"
	"sync"
	"time"

	"gymkaana/internal/domain"

	"github.com/rs/zerolog"
)

const defaultRecoveryInterval = time.Minute

// FailoverAttemptRepository prefers the primary counter and switches to the
// fallback on the first error. The primary is retried once per recovery
// interval.
type FailoverAttemptRepository struct {
	primary  domain.AttemptRepository
	fallback domain.AttemptRepository
	logger   *zerolog.Logger
	recovery time.Duration

	mu        sync.Mutex
	isDown    bool
	lastCheck time.Time
}

func NewFailoverAttemptRepository(primary, fallback domain.AttemptRepository, logger *zerolog.Logger) *FailoverAttemptRepository {
	return &FailoverAttemptRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		recovery: defaultRecoveryInterval,
	}
}

func (r *FailoverAttemptRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}

// Down reports whether calls currently go to the fallback.
func (r *FailoverAttemptRepository) Down() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isDown
}

func (r *FailoverAttemptRepository) usePrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isDown {
		return true
	}
	if time.Since(r.lastCheck) > r.recovery {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverAttemptRepository) markUp() {
	r.mu.Lock()
	wasDown := r.isDown
	r.isDown = false
	r.mu.Unlock()
	if wasDown {
		r.logger.Info().Msg("Primary attempt repository recovered")
	}
}

func (r *FailoverAttemptRepository) markDown(err error) {
	r.mu.Lock()
	wasDown := r.isDown
	r.isDown = true
	r.lastCheck = time.Now()
	r.mu.Unlock()
	if !wasDown {
		r.logger.Error().Err(err).Msg("Primary attempt repository failed, falling back to memory")
	}
}
