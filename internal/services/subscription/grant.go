package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/vpn-shop/internal/cache"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/expiry"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/randstr"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/metrics"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// Виды выдачи для метрик.
const (
	kindFree     = "free"
	kindPaid     = "paid"
	kindReferral = "referral"
)

// GrantRequest параметры выдачи подписки.
type GrantRequest struct {
	UserID    int64
	Months    float64
	Paid      bool
	InvoiceID string
	Amount    int64
}

// Grant продлевает или создаёт подписку пользователя и возвращает ссылку подписки.
// Оплаченная выдача фиксирует счёт и начисляет бонус пригласившему.
func (e *Engine) Grant(ctx context.Context, req GrantRequest) (string, error) {
	return e.grant(ctx, req, 0)
}

// GrantDays бесплатная выдача на указанное число дней.
func (e *Engine) GrantDays(ctx context.Context, userID int64, days int) (string, error) {
	if days <= 0 {
		return "", fmt.Errorf("subscription.GrantDays: %w: days=%d", models.ErrInvalidArgument, days)
	}
	return e.Grant(ctx, GrantRequest{UserID: userID, Months: expiry.DaysToMonths(days)})
}

// GrantPaid выдача по оплаченному счёту.
func (e *Engine) GrantPaid(ctx context.Context, userID int64, months int, amount int64, invoiceID string) (string, error) {
	return e.Grant(ctx, GrantRequest{
		UserID:    userID,
		Months:    float64(months),
		Paid:      true,
		InvoiceID: invoiceID,
		Amount:    amount,
	})
}

func (e *Engine) grant(ctx context.Context, req GrantRequest, depth int) (string, error) {
	const op = "subscription.Grant"
	log := e.log.With(slog.String("op", op), sl.User(req.UserID), slog.Int("depth", depth))

	kind := kindFree
	switch {
	case depth > 0:
		kind = kindReferral
	case req.Paid:
		kind = kindPaid
	}

	if req.Months <= 0 {
		return "", fmt.Errorf("%s: %w: months=%v", op, models.ErrInvalidArgument, req.Months)
	}
	if req.Paid && req.InvoiceID == "" {
		return "", fmt.Errorf("%s: %w", op, models.ErrInvoiceRequired)
	}

	token, acquired, err := e.lock.TryAcquire(ctx, req.UserID)
	if err != nil {
		e.metrics.Grants.WithLabelValues(kind, metrics.ResultError).Inc()
		return "", fmt.Errorf("%s: acquire lock: %w", op, err)
	}
	if !acquired {
		e.metrics.Grants.WithLabelValues(kind, metrics.ResultBusy).Inc()
		log.Info("user action already in progress")
		return "", fmt.Errorf("%s: %w", op, models.ErrLockContention)
	}
	defer e.release(ctx, req.UserID, token, log)

	ctx, cancel := e.withGrantTimeout(ctx)
	defer cancel()

	rec, err := e.provision(ctx, req.UserID, req.Months, log)
	if err != nil {
		e.metrics.Grants.WithLabelValues(kind, metrics.ResultError).Inc()
		return "", fmt.Errorf("%s: %w", op, err)
	}
	e.invalidateStatus(ctx, req.UserID, log)
	e.metrics.Grants.WithLabelValues(kind, metrics.ResultOK).Inc()
	log.Info("subscription granted",
		slog.Float64("months", req.Months),
		slog.Int64("expiry", rec.ExpiryTimestamp),
		slog.Bool("paid", req.Paid),
	)

	url := e.gateway.SubscriptionURL(rec.SubscriptionID)
	if !req.Paid {
		return url, nil
	}

	// Продление уже применено, поэтому ошибки учёта оплаты и бонуса
	// не возвращаются вызывающему.
	err = e.ledger.MarkPaid(ctx, req.UserID, req.Amount, req.InvoiceID)
	switch {
	case errors.Is(err, models.ErrDuplicateInvoice):
		e.metrics.DuplicateInvoices.Inc()
		log.Info("invoice already accounted, referral bonus skipped", sl.Invoice(req.InvoiceID))
		return url, nil
	case err != nil:
		log.Error("failed to mark invoice paid, referral bonus skipped", sl.Invoice(req.InvoiceID), sl.Err(err))
		return url, nil
	}

	if depth < maxCascadeDepth {
		e.cascade(ctx, req.UserID, depth+1, log)
	}
	return url, nil
}

// provision вычисляет новый срок, применяет его в панели и только после
// этого сохраняет запись клиента.
func (e *Engine) provision(ctx context.Context, userID int64, months float64, log *slog.Logger) (*models.ClientRecord, error) {
	rec, err := e.store.GetClient(ctx, userID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		rec, err = newClientRecord(userID)
		if err != nil {
			return nil, err
		}
		rec.ExpiryTimestamp = expiry.FromNow(e.now(), months)
	case err != nil:
		return nil, err
	default:
		current, err := e.gateway.GetExpiry(ctx, rec.EmailKey)
		switch {
		case errors.Is(err, models.ErrClientNotFound):
			log.Warn("client missing on panel, extending cached expiry",
				slog.Int64("cached_expiry", rec.ExpiryTimestamp))
			current = rec.ExpiryTimestamp
		case err != nil:
			return nil, err
		}
		rec.ExpiryTimestamp = expiry.Extend(current, months)
	}

	if err := e.gateway.UpsertClient(ctx, *rec); err != nil {
		return nil, err
	}
	if err := e.store.UpsertClient(ctx, *rec); err != nil {
		log.Error("panel updated but client record not saved", sl.Err(err))
		return nil, err
	}
	return rec, nil
}

// cascade начисляет бонус пригласившему. Ошибки только логируются.
func (e *Engine) cascade(ctx context.Context, userID int64, depth int, log *slog.Logger) {
	referrerID, ok, err := e.ledger.GetReferrer(ctx, userID)
	if err != nil {
		e.metrics.ReferralCascades.WithLabelValues(metrics.ResultError).Inc()
		log.Error("failed to look up referrer", sl.Err(err))
		return
	}
	if !ok {
		return
	}

	bonus := GrantRequest{
		UserID: referrerID,
		Months: expiry.DaysToMonths(e.cfg.ReferralBonusDays),
	}
	if _, err := e.grant(ctx, bonus, depth); err != nil {
		e.metrics.ReferralCascades.WithLabelValues(metrics.ResultError).Inc()
		log.Error("referral bonus not granted",
			slog.Int64("referrer_id", referrerID),
			slog.Int("bonus_days", e.cfg.ReferralBonusDays),
			sl.Err(err),
		)
		return
	}
	e.metrics.ReferralCascades.WithLabelValues(metrics.ResultOK).Inc()
	log.Info("referral bonus granted", slog.Int64("referrer_id", referrerID))
}

// withGrantTimeout ограничивает работу под блокировкой сроком GrantTimeout.
func (e *Engine) withGrantTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.GrantTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.GrantTimeout)
}

func (e *Engine) release(ctx context.Context, userID int64, token string, log *slog.Logger) {
	if err := e.lock.Release(context.WithoutCancel(ctx), userID, token); err != nil {
		log.Error("failed to release user lock", sl.Err(err))
	}
}

func (e *Engine) invalidateStatus(ctx context.Context, userID int64, log *slog.Logger) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, cache.StatusKey(userID)); err != nil {
		log.Warn("failed to invalidate status cache", sl.Err(err))
	}
}

func newClientRecord(userID int64) (*models.ClientRecord, error) {
	subID, err := randstr.Generate(randstr.SubscriptionIDLength)
	if err != nil {
		return nil, err
	}
	emailKey, err := randstr.Generate(randstr.EmailKeyLength)
	if err != nil {
		return nil, err
	}
	return &models.ClientRecord{
		UserID:         userID,
		ClientUUID:     uuid.NewString(),
		SubscriptionID: subID,
		EmailKey:       emailKey,
	}, nil
}
