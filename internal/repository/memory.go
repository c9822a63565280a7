package repository

import (
	"context"
	"sync"
	"time"
)

type attemptWindow struct {
	count     int
	expiresAt time.Time
}

// MemoryAttemptRepository is the single-process attempt counter used when
// Redis is not configured or is down.
type MemoryAttemptRepository struct {
	mu      sync.Mutex
	windows map[string]*attemptWindow
	now     func() time.Time
}

func NewMemoryAttemptRepository() *MemoryAttemptRepository {
	return &MemoryAttemptRepository{
		windows: make(map[string]*attemptWindow),
		now:     time.Now,
	}
}

func (r *MemoryAttemptRepository) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &attemptWindow{expiresAt: now.Add(window)}
		r.windows[key] = w
	}
	w.count++

	r.pruneLocked(now)
	return w.count <= limit, nil
}

// pruneLocked drops expired windows once the map grows.
func (r *MemoryAttemptRepository) pruneLocked(now time.Time) {
	if len(r.windows) < 1024 {
		return
	}
	for k, w := range r.windows {
		if !now.Before(w.expiresAt) {
			delete(r.windows, k)
		}
	}
}
