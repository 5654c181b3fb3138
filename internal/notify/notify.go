// Package notify posts sweep summaries to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/xaenox/callscope/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewTelegramNotifierWithAPI(api, chatID, logger), nil
}

// NewTelegramNotifierWithAPI wraps an already configured bot, e.g. one built with
// tgbotapi.NewBotAPIWithClient against a custom endpoint.
func NewTelegramNotifierWithAPI(api *tgbotapi.BotAPI, chatID int64, logger *zap.Logger) *TelegramNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramNotifier{api: api, chatID: chatID, logger: logger}
}

func (t *TelegramNotifier) Notify(_ context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Error("Failed to send telegram message",
			zap.Error(err),
			zap.Int64("chat_id", t.chatID))
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

func NewSlackNotifier(token, channel string, logger *zap.Logger, opts ...slack.Option) *SlackNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlackNotifier{
		client:  slack.New(token, opts...),
		channel: channel,
		logger:  logger,
	}
}

func (s *SlackNotifier) Notify(ctx context.Context, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		s.logger.Error("Failed to post slack message",
			zap.Error(err),
			zap.String("channel", s.channel))
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards messages. Used when no channel is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

func FormatValidationSummary(s models.ValidationSummary, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Booking validation %s\n", s.RunID)
	fmt.Fprintf(&b, "Window: %s to %s\n",
		s.From.In(loc).Format("2006-01-02 15:04"),
		s.To.In(loc).Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Candidates: %d\n", s.Candidates)
	if s.Pending > 0 {
		fmt.Fprintf(&b, "Awaiting match window: %d\n", s.Pending)
	}
	fmt.Fprintf(&b, "Checked: %d (confirmed %d, false positives %d)\n",
		s.Validated, s.Confirmed, s.FalsePositives)
	if s.Skipped > 0 || s.Failed > 0 {
		fmt.Fprintf(&b, "Skipped: %d, failed: %d\n", s.Skipped, s.Failed)
	}
	if s.Validated > 0 {
		fmt.Fprintf(&b, "Accuracy: %.1f%%", s.AccuracyRate*100)
	} else {
		b.WriteString("Accuracy: n/a")
	}
	return b.String()
}

func FormatReclassifySummary(s models.ReclassifySummary) string {
	return fmt.Sprintf("🔁 Reclassification: %d considered, %d needing work, %d processed (%d ok, %d failed)",
		s.Considered, s.NeedingWork, s.Processed, s.Succeeded, s.Failed)
}
