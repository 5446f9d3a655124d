// Package telegram delivers operator alerts to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avitobridge/avitobridge/internal/logging"
)

// Sender is the part of the bot API the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends alert texts to one chat. It satisfies alerts.Notifier.
type Notifier struct {
	sender Sender
	chatID int64
	logger *logging.Logger
}

// NewNotifier dials the Telegram API with the given bot token.
func NewNotifier(token string, chatID int64, logger *logging.Logger) (*Notifier, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat ID is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return newNotifierWithSender(bot, chatID, logger), nil
}

func newNotifierWithSender(sender Sender, chatID int64, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Notifier{sender: sender, chatID: chatID, logger: logger}
}

// Send delivers one message. The context only gates entry; tgbotapi does not
// take a context, so an expired deadline skips the call rather than
// interrupting it.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	n.logger.Debug("telegram alert delivered", "chat_id", n.chatID)
	return nil
}

// Notify sends a one-off message without keeping a notifier around. Errors
// are swallowed; startup and shutdown notices are best effort.
func Notify(token string, chatID int64, text string) {
	token = strings.TrimSpace(token)
	if token == "" || chatID == 0 || strings.TrimSpace(text) == "" {
		return
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	_, _ = bot.Send(msg)
}
