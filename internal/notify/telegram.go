package notify

import (
	"context"
	"fmt"

	"venuebook/internal/config"
	"venuebook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramAPI is the subset of *tgbotapi.BotAPI the sender needs.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers to the user's Telegram chat.
type TelegramSender struct {
	bot TelegramAPI
}

func NewTelegramSender(bot TelegramAPI) *TelegramSender {
	return &TelegramSender{bot: bot}
}

// NewTelegramBot authenticates against the Bot API.
func NewTelegramBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

func (s *TelegramSender) Channel() models.Channel { return models.ChannelTelegram }

func (s *TelegramSender) Send(ctx context.Context, user *models.User, subject, body string) error {
	if user == nil || user.TelegramChatID == 0 {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(user.TelegramChatID, subject+"\n\n"+body)
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message to %d: %w", user.TelegramChatID, err)
	}
	return nil
}
