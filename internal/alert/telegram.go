package alert

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Telegram delivers alerts to a chat via the bot API
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates the notifier. A failed token lookup returns an error
// rather than a half-working channel.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	log.Info().Str("bot", api.Self.UserName).Msg("Telegram bot authorized")
	return &Telegram{api: api, chatID: chatID}, nil
}

// Send posts one message to the configured chat
func (t *Telegram) Send(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	_, err := t.api.Send(msg)
	return err
}

// Name identifies the channel in logs
func (t *Telegram) Name() string { return "telegram" }
