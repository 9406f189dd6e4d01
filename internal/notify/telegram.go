package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier pushes messages to one chat through the Bot API.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (n *TelegramNotifier) Push(_ context.Context, message string) error {
	msg := tgbotapi.NewMessage(n.chatID, message)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
