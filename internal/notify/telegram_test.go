package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"gymkaana/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTelegramSender struct {
	mock.Mock
}

func (m *mockTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func rejection() events.DecisionEventPayload {
	return events.DecisionEventPayload{
		BookingID:  "bk-2",
		MemberName: "Priya_Nair",
		PlanName:   "Day Pass",
		VenueID:    "venue-1",
		Decision:   "reject",
		Reason:     "Capacity Full",
		DecidedAt:  time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC),
	}
}

func TestFormatRejection(t *testing.T) {
	text := FormatRejection(rejection())

	assert.Contains(t, text, "*Entry denied*")
	assert.Contains(t, text, `Member: Priya\_Nair`)
	assert.Contains(t, text, "Reason: Capacity Full")
	assert.Contains(t, text, "Venue: venue-1")

	minimal := FormatRejection(events.DecisionEventPayload{MemberName: "A"})
	assert.NotContains(t, minimal, "Reason:")
	assert.NotContains(t, minimal, "Time:")
}

func TestRejectionNotifierSendsToEveryManager(t *testing.T) {
	sender := new(mockTelegramSender)
	for _, id := range []int64{100, 200} {
		chatID := id
		sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
			msg, ok := c.(tgbotapi.MessageConfig)
			return ok && msg.ChatID == chatID && msg.ParseMode == tgbotapi.ModeMarkdown
		})).Return(tgbotapi.Message{}, nil).Once()
	}

	n := NewRejectionNotifier(sender, []int64{100, 200}, nil)
	bus := events.NewEventBus()
	n.Subscribe(bus)

	ctx, cancel := context.WithCancel(context.Background())
	n.Start(ctx)

	require.NoError(t, bus.PublishJSON(events.EventEntryRejected, rejection()))
	// Accepted entries are not alerted.
	require.NoError(t, bus.PublishJSON(events.EventEntryAccepted, rejection()))

	cancel()
	n.Wait()
	sender.AssertExpectations(t)
	sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestRejectionNotifierKeepsGoingOnSendError(t *testing.T) {
	sender := new(mockTelegramSender)
	sender.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("blocked by user")).Once()
	sender.On("Send", mock.Anything).Return(tgbotapi.Message{}, nil).Once()

	n := NewRejectionNotifier(sender, []int64{1, 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	n.Start(ctx)
	n.Enqueue(rejection())
	cancel()
	n.Wait()

	sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestRejectionNotifierDropsWhenFull(t *testing.T) {
	sender := new(mockTelegramSender)
	n := NewRejectionNotifier(sender, []int64{1}, nil)

	for i := 0; i < queueSize+10; i++ {
		n.Enqueue(rejection())
	}
	assert.Len(t, n.queue, queueSize)
	sender.AssertNotCalled(t, "Send", mock.Anything)
}
