package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"gymkaana/internal/domain"
	"gymkaana/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const queueSize = 64

// NewBot connects to the Telegram Bot API.
func NewBot(token string, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

// RejectionNotifier tells venue managers on Telegram when a member is turned
// away at the door. Sending happens on its own goroutine so publishers are
// never blocked by the Telegram API.
type RejectionNotifier struct {
	sender  domain.TelegramSender
	chatIDs []int64
	logger  *zerolog.Logger

	queue chan events.DecisionEventPayload
	wg    sync.WaitGroup
}

func NewRejectionNotifier(sender domain.TelegramSender, chatIDs []int64, logger *zerolog.Logger) *RejectionNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RejectionNotifier{
		sender:  sender,
		chatIDs: chatIDs,
		logger:  logger,
		queue:   make(chan events.DecisionEventPayload, queueSize),
	}
}

// Subscribe queues every rejected entry published on bus.
func (n *RejectionNotifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventEntryRejected, func(e *events.Event) error {
		var p events.DecisionEventPayload
		if err := e.Decode(&p); err != nil {
			return fmt.Errorf("decode rejection: %w", err)
		}
		n.Enqueue(p)
		return nil
	})
}

// Enqueue drops the alert when the queue is full.
func (n *RejectionNotifier) Enqueue(p events.DecisionEventPayload) {
	select {
	case n.queue <- p:
	default:
		n.logger.Warn().Str("booking_id", p.BookingID).Msg("rejection alert queue full, dropping")
	}
}

// Start launches the sender and returns at once; call it before Wait. The
// sender runs until ctx is done and flushes alerts still queued at that point.
func (n *RejectionNotifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case p := <-n.queue:
				n.send(p)
			case <-ctx.Done():
				for {
					select {
					case p := <-n.queue:
						n.send(p)
					default:
						return
					}
				}
			}
		}
	}()
}

// Wait blocks until the sender goroutine has exited.
func (n *RejectionNotifier) Wait() {
	n.wg.Wait()
}

func (n *RejectionNotifier) send(p events.DecisionEventPayload) {
	text := FormatRejection(p)
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Str("booking_id", p.BookingID).Msg("failed to send rejection alert")
		}
	}
}

// FormatRejection renders the manager alert for a rejected entry.
func FormatRejection(p events.DecisionEventPayload) string {
	esc := func(s string) string { return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s) }

	var b strings.Builder
	b.WriteString("🚫 *Entry denied*\n")
	fmt.Fprintf(&b, "Member: %s\n", esc(p.MemberName))
	if p.PlanName != "" {
		fmt.Fprintf(&b, "Plan: %s\n", esc(p.PlanName))
	}
	if p.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", esc(p.Reason))
	}
	if p.VenueID != "" {
		fmt.Fprintf(&b, "Venue: %s\n", esc(p.VenueID))
	}
	if !p.DecidedAt.IsZero() {
		fmt.Fprintf(&b, "Time: %s\n", p.DecidedAt.Local().Format("02.01.2006 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}
