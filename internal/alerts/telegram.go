package alerts

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/config"
)

// TelegramNotifier sends day summaries to a Telegram chat
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegramNotifier connects the bot. Fails fast on a bad token so
// misconfiguration surfaces at startup rather than at the first alert.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is empty")
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}

	log := config.NewLogger("telegram")
	log.Info().Str("bot", bot.Self.UserName).Msg("Telegram notifier connected")
	return &TelegramNotifier{bot: bot, chatID: chatID, log: log}, nil
}

// Notify implements Notifier
func (t *TelegramNotifier) Notify(_ context.Context, title, message string) error {
	msg := tgbotapi.NewMessage(t.chatID, FormatTelegramMessage(title, message))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// FormatTelegramMessage renders the alert as a Markdown message
func FormatTelegramMessage(title, message string) string {
	return fmt.Sprintf("\U0001F4C8 *%s*\n\n%s", title, message)
}
