package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockAttempts struct {
	mock.Mock
}

func (m *mockAttempts) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverAttemptRepository(t *testing.T) {
	primary := new(mockAttempts)
	fallback := new(mockAttempts)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverAttemptRepository(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "a", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "a", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.False(t, repo.Down())
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "b", 10, time.Minute).Return(false, errors.New("fail")).Once()
		fallback.On("CheckRateLimit", ctx, "b", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "b", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.True(t, repo.Down())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDown", func(t *testing.T) {
		fallback.On("CheckRateLimit", ctx, "c", 10, time.Minute).Return(false, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "c", 10, time.Minute)
		assert.NoError(t, err)
		assert.False(t, allowed)
		fallback.AssertExpectations(t)
		primary.AssertNotCalled(t, "CheckRateLimit", ctx, "c", 10, time.Minute)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		repo.mu.Lock()
		repo.lastCheck = time.Now().Add(-2 * time.Minute)
		repo.mu.Unlock()

		primary.On("CheckRateLimit", ctx, "d", 10, time.Minute).Return(false, errors.New("still fail")).Once()
		fallback.On("CheckRateLimit", ctx, "d", 10, time.Minute).Return(true, nil).Once()

		_, err := repo.CheckRateLimit(ctx, "d", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, repo.Down())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("Recovery", func(t *testing.T) {
		repo.mu.Lock()
		repo.lastCheck = time.Now().Add(-2 * time.Minute)
		repo.mu.Unlock()

		primary.On("CheckRateLimit", ctx, "e", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "e", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.False(t, repo.Down())
		primary.AssertExpectations(t)
	})

	t.Run("BothFail", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "f", 10, time.Minute).Return(false, errors.New("fail")).Once()
		fallback.On("CheckRateLimit", ctx, "f", 10, time.Minute).Return(false, errors.New("fail too")).Once()

		_, err := repo.CheckRateLimit(ctx, "f", 10, time.Minute)
		assert.Error(t, err)
	})
}

func TestFailoverWithRealRepositories(t *testing.T) {
	s, client := newTestRedis(t)
	logger := zerolog.Nop()
	repo := NewFailoverAttemptRepository(NewRedisAttemptRepository(client), NewMemoryAttemptRepository(), &logger)
	ctx := context.Background()

	allowed, err := repo.CheckRateLimit(ctx, "desk", 1, time.Minute)
	assert.NoError(t, err)
	assert.True(t, allowed)

	s.Close()

	allowed, err = repo.CheckRateLimit(ctx, "desk", 1, time.Minute)
	assert.NoError(t, err)
	assert.True(t, allowed, "fallback starts a fresh window")
	assert.True(t, repo.Down())
}
