// Package bonus реализует учёт бонусов: промокоды, реферальные связи и
// отметки об оплате, по которым начисляется реферальный бонус.
package bonus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// Repository хранилище бонусов.
type Repository interface {
	RecordReferral(ctx context.Context, referrerID, referredUserID int64) (bool, error)
	GetReferrer(ctx context.Context, userID int64) (int64, error)
	ReferralStats(ctx context.Context, referrerID int64) (models.ReferralStats, error)
	CreatePromo(ctx context.Context, promo models.PromoCode) error
	GetPromo(ctx context.Context, code string) (*models.PromoCode, error)
	TryActivatePromo(ctx context.Context, code string) (int, error)
	MarkPaid(ctx context.Context, mark models.PaidMark) error
	HasPaidMark(ctx context.Context, invoiceID string) (bool, error)
}

// Ledger бизнес-логика бонусов поверх Repository.
type Ledger struct {
	repo Repository
	log  *slog.Logger
}

// NewLedger создаёт Ledger.
func NewLedger(repo Repository, log *slog.Logger) *Ledger {
	return &Ledger{repo: repo, log: log}
}

// RecordReferral запоминает, кто пригласил пользователя. Самоприглашение и
// повторное приглашение ничего не меняют и ошибкой не считаются.
// Возвращает true, если связь создана этим вызовом.
func (l *Ledger) RecordReferral(ctx context.Context, referrerID, referredUserID int64) (bool, error) {
	const op = "bonus.RecordReferral"
	if referrerID == referredUserID {
		l.log.Debug("self referral ignored", slog.String("op", op), sl.User(referredUserID))
		return false, nil
	}

	created, err := l.repo.RecordReferral(ctx, referrerID, referredUserID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if created {
		l.log.Info("referral recorded",
			slog.String("op", op),
			slog.Int64("referrer_id", referrerID),
			sl.User(referredUserID),
		)
	}
	return created, nil
}

// GetReferrer возвращает пригласившего. false — пользователя никто не приглашал.
func (l *Ledger) GetReferrer(ctx context.Context, userID int64) (int64, bool, error) {
	const op = "bonus.GetReferrer"
	referrerID, err := l.repo.GetReferrer(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}
	return referrerID, true, nil
}

// ReferralStats статистика приглашений пользователя.
func (l *Ledger) ReferralStats(ctx context.Context, userID int64) (models.ReferralStats, error) {
	const op = "bonus.ReferralStats"
	stats, err := l.repo.ReferralStats(ctx, userID)
	if err != nil {
		return models.ReferralStats{}, fmt.Errorf("%s: %w", op, err)
	}
	return stats, nil
}

// CreatePromo выпускает промокод. Повторный выпуск сбрасывает пул активаций.
func (l *Ledger) CreatePromo(ctx context.Context, code string, days, activations int) error {
	const op = "bonus.CreatePromo"
	canonical := models.CanonicalPromoCode(code)
	if canonical == "" || days <= 0 || activations < 0 {
		return fmt.Errorf("%s: %w: code=%q days=%d activations=%d", op, models.ErrInvalidArgument, code, days, activations)
	}

	promo := models.PromoCode{Code: canonical, Days: days, ActivationsLeft: activations}
	if err := l.repo.CreatePromo(ctx, promo); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	l.log.Info("promo code issued",
		slog.String("code", canonical),
		slog.Int("days", days),
		slog.Int("activations", activations),
	)
	return nil
}

// LookupPromo возвращает промокод, если по нему остались активации.
func (l *Ledger) LookupPromo(ctx context.Context, code string) (*models.PromoCode, error) {
	const op = "bonus.LookupPromo"
	promo, err := l.repo.GetPromo(ctx, models.CanonicalPromoCode(code))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if promo.ActivationsLeft <= 0 {
		return nil, fmt.Errorf("%s: %w", op, models.ErrPromoExhausted)
	}
	return promo, nil
}

// TryActivatePromo атомарно списывает активацию и возвращает число дней.
func (l *Ledger) TryActivatePromo(ctx context.Context, code string) (int, error) {
	const op = "bonus.TryActivatePromo"
	days, err := l.repo.TryActivatePromo(ctx, models.CanonicalPromoCode(code))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return days, nil
}

// MarkPaid фиксирует оплату счёта. Повторный счёт возвращает models.ErrDuplicateInvoice.
func (l *Ledger) MarkPaid(ctx context.Context, userID, amount int64, invoiceID string) error {
	const op = "bonus.MarkPaid"
	if invoiceID == "" {
		return fmt.Errorf("%s: %w", op, models.ErrInvoiceRequired)
	}
	err := l.repo.MarkPaid(ctx, models.PaidMark{UserID: userID, InvoiceID: invoiceID, Amount: amount})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IsInvoicePaid проверяет, учтён ли уже счёт.
func (l *Ledger) IsInvoicePaid(ctx context.Context, invoiceID string) (bool, error) {
	const op = "bonus.IsInvoicePaid"
	paid, err := l.repo.HasPaidMark(ctx, invoiceID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return paid, nil
}
