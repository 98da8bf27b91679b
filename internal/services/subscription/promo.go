package subscription

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/vpn-shop/internal/lib/expiry"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/metrics"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// PromoResult результат активации промокода.
type PromoResult struct {
	Days            int    `json:"days"`
	SubscriptionURL string `json:"subscription_url"`
}

// GrantPromo активирует промокод и продлевает подписку на его срок.
// Отказ по коду (нет, исчерпан, проиграна гонка) возвращается как
// models.ErrPromoNotFound или models.ErrPromoExhausted без побочных эффектов.
// Активация списывается до обращения к панели и при ошибке выдачи не возвращается.
func (e *Engine) GrantPromo(ctx context.Context, userID int64, code string) (*PromoResult, error) {
	const op = "subscription.GrantPromo"
	log := e.log.With(slog.String("op", op), sl.User(userID), slog.String("code", models.CanonicalPromoCode(code)))

	if _, err := e.ledger.LookupPromo(ctx, code); err != nil {
		e.metrics.PromoActivations.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	days, err := e.ledger.TryActivatePromo(ctx, code)
	if err != nil {
		e.metrics.PromoActivations.WithLabelValues(metrics.ResultRejected).Inc()
		log.Info("promo activation rejected", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	url, err := e.Grant(ctx, GrantRequest{UserID: userID, Months: expiry.DaysToMonths(days)})
	if err != nil {
		e.metrics.PromoActivations.WithLabelValues(metrics.ResultError).Inc()
		log.Error("promo activation spent but subscription not granted", slog.Int("days", days), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.metrics.PromoActivations.WithLabelValues(metrics.ResultOK).Inc()
	log.Info("promo code activated", slog.Int("days", days))
	return &PromoResult{Days: days, SubscriptionURL: url}, nil
}

// ClaimGift выдаёт разовый подарок подписчику новостного канала.
// Если выдача не удалась, отметка о подарке снимается.
func (e *Engine) ClaimGift(ctx context.Context, userID int64) (string, error) {
	const op = "subscription.ClaimGift"
	log := e.log.With(slog.String("op", op), sl.User(userID))

	member, err := e.membership.IsMember(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !member {
		return "", fmt.Errorf("%s: %w", op, models.ErrNotChannelMember)
	}

	marked, err := e.gifts.TryMarkGift(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !marked {
		return "", fmt.Errorf("%s: %w", op, models.ErrGiftAlreadyClaimed)
	}

	url, err := e.Grant(ctx, GrantRequest{UserID: userID, Months: e.cfg.GiftMonths})
	if err != nil {
		if uerr := e.gifts.UnmarkGift(context.WithoutCancel(ctx), userID); uerr != nil {
			log.Error("failed to roll back gift mark", sl.Err(uerr))
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("gift granted")
	return url, nil
}
