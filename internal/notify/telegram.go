package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/backtrue/omakase-app/internal/types"
)

// Telegram posts scan completion notices to an operator channel. Unlike the
// Expo notifier it ignores the per-job push token; the chat is fixed at
// construction.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram connects the bot and binds it to one chat.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) ScanDone(_ context.Context, _ string, jobID types.JobID, status types.JobStatus, itemCount int) error {
	text := fmt.Sprintf("scan %s finished: status=%s items=%d", jobID, status, itemCount)
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Multi fans one notice out to several channels, returning the first error
// after trying all of them.
type Multi []types.Notifier

func (m Multi) ScanDone(ctx context.Context, pushToken string, jobID types.JobID, status types.JobStatus, itemCount int) error {
	var firstErr error
	for _, n := range m {
		if err := n.ScanDone(ctx, pushToken, jobID, status, itemCount); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
