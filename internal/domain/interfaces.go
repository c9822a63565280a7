package domain

import (
	"context"
	"time"

	"gymkaana/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// EntryLookup resolves a normalized entry token into a booking snapshot.
type EntryLookup interface {
	LookupEntry(ctx context.Context, token string) (*models.Booking, error)
}

// EntryConfirmer records an accept/reject decision for a located booking.
type EntryConfirmer interface {
	ConfirmEntry(ctx context.Context, bookingID string, decision models.Decision, reason string) error
}

// ActivityLister returns the most recent audit entries, newest first.
type ActivityLister interface {
	ListRecentActivity(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// EntryClient is the full remote contract consumed by the check-in console.
type EntryClient interface {
	EntryLookup
	EntryConfirmer
	ActivityLister
}

// EntryRepository is the storage behind the entry API.
type EntryRepository interface {
	GetBookingByToken(ctx context.Context, token string) (*models.Booking, error)
	RecordDecision(ctx context.Context, bookingID string, decision models.Decision, reason string) (*models.AuditEntry, error)
	ListRecentActivity(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// AttemptRepository counts lookup attempts per client within a window.
type AttemptRepository interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
