// Package telegram проверяет подписку пользователя на новостной канал через Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/magabrotheeeer/vpn-shop/internal/config"
)

// MembershipChecker выполняет getChatMember для канала из конфига.
type MembershipChecker struct {
	bot     *tgbotapi.BotAPI
	channel string
	log     *slog.Logger
}

// New подключается к Bot API с токеном из конфига.
func New(cfg config.Telegram, log *slog.Logger) (*MembershipChecker, error) {
	return NewWithEndpoint(cfg, tgbotapi.APIEndpoint, httpClient(cfg), log)
}

// httpClient ограничивает каждый запрос к Bot API сроком cfg.Timeout.
func httpClient(cfg config.Telegram) *http.Client {
	return &http.Client{Timeout: cfg.Timeout}
}

// NewWithEndpoint позволяет указать адрес Bot API и HTTP-клиент.
func NewWithEndpoint(cfg config.Telegram, endpoint string, client tgbotapi.HTTPClient, log *slog.Logger) (*MembershipChecker, error) {
	const op = "telegram.New"
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &MembershipChecker{bot: bot, channel: cfg.NewsChannel, log: log}, nil
}

// IsMember сообщает, состоит ли пользователь в канале.
func (m *MembershipChecker) IsMember(ctx context.Context, userID int64) (bool, error) {
	const op = "telegram.IsMember"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	member, err := m.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: m.channel,
			UserID:             userID,
		},
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	switch member.Status {
	case "creator", "administrator", "member":
		return true, nil
	case "restricted":
		return member.IsMember, nil
	default:
		m.log.Debug("user is not a channel member",
			slog.Int64("user_id", userID),
			slog.String("status", member.Status),
		)
		return false, nil
	}
}
