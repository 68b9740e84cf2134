package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// TelegramSender delivers notifications through the Telegram Bot API in
// HTML parse mode.
type TelegramSender struct {
	api    *tgbotapi.BotAPI
	chatID string
}

// NewTelegramSender authenticates the bot token with getMe and returns a
// sender for chatID, which is either a numeric chat id or an @channel
// name. An empty endpoint means the public Bot API.
func NewTelegramSender(token, chatID, endpoint string) (*TelegramSender, error) {
	if token == "" || chatID == "" {
		return nil, fmt.Errorf("telegram: token and chat id are required")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: 10 * time.Second}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", mapTelegramErr(err))
	}
	return &TelegramSender{api: api, chatID: chatID}, nil
}

// Send posts the HTML rendering of m to the configured chat.
func (t *TelegramSender) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(t.chatID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, m.HTML)
	} else {
		msg = tgbotapi.NewMessageToChannel(t.chatID, m.HTML)
	}
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", mapTelegramErr(err))
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

func mapTelegramErr(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, apiErr.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: retry after %ds", domain.ErrRateLimited, apiErr.RetryAfter)
	}
	return err
}
