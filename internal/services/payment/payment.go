// Package payment выставляет счета по тарифам и подтверждает их оплату:
// захват счёта, запрос к платёжному провайдеру и выдача оплаченной подписки.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/metrics"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
	"github.com/magabrotheeeer/vpn-shop/internal/paymentprovider"
)

// InvoiceRepository хранилище счетов.
type InvoiceRepository interface {
	CreateInvoice(ctx context.Context, inv models.Invoice) error
	GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error)
	// ClaimInvoice переводит счёт в processing. Для оплаченного счёта
	// возвращает сам счёт и models.ErrAlreadyProcessed.
	ClaimInvoice(ctx context.Context, invoiceID string, staleAfter time.Duration) (*models.Invoice, error)
	ReleaseInvoice(ctx context.Context, invoiceID string) error
	CompleteInvoice(ctx context.Context, invoiceID string) error
	ListPendingInvoices(ctx context.Context, createdAfter time.Time, limit int) ([]models.Invoice, error)
	ExpireInvoices(ctx context.Context, createdBefore time.Time) (int64, error)
}

// Oracle платёжный провайдер.
type Oracle interface {
	CreateInvoice(ctx context.Context, amount int64, orderRef string) (*paymentprovider.CreatedInvoice, error)
	IsPaid(ctx context.Context, invoiceID string) (bool, error)
}

// Granter выдача оплаченной подписки.
type Granter interface {
	GrantPaid(ctx context.Context, userID int64, months int, amount int64, invoiceID string) (string, error)
	SubscriptionLink(ctx context.Context, userID int64) (string, error)
}

// PaidChecker проверяет, учтена ли оплата по счёту.
type PaidChecker interface {
	IsInvoicePaid(ctx context.Context, invoiceID string) (bool, error)
}

// Config параметры сервиса.
type Config struct {
	Tariffs    []models.Tariff
	StaleAfter time.Duration
}

// Service сервис счетов.
type Service struct {
	repo    InvoiceRepository
	oracle  Oracle
	granter Granter
	paid    PaidChecker
	metrics *metrics.Metrics
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
}

// New создаёт сервис счетов.
func New(repo InvoiceRepository, oracle Oracle, granter Granter, paid PaidChecker, m *metrics.Metrics, cfg Config, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		oracle:  oracle,
		granter: granter,
		paid:    paid,
		metrics: m,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Tariffs возвращает доступные тарифы.
func (s *Service) Tariffs() []models.Tariff {
	return s.cfg.Tariffs
}

func (s *Service) price(months int) (int64, bool) {
	for _, t := range s.cfg.Tariffs {
		if t.Months == months {
			return t.Price, true
		}
	}
	return 0, false
}

// CreateInvoice выставляет счёт на тариф в months месяцев.
func (s *Service) CreateInvoice(ctx context.Context, userID int64, months int) (*models.Invoice, error) {
	const op = "payment.CreateInvoice"
	log := s.log.With(slog.String("op", op), sl.User(userID), slog.Int("months", months))

	amount, ok := s.price(months)
	if !ok {
		return nil, fmt.Errorf("%s: %w: months=%d", op, models.ErrUnknownTariff, months)
	}

	orderRef := strconv.FormatInt(userID, 10) + ":" + strconv.Itoa(months)
	created, err := s.oracle.CreateInvoice(ctx, amount, orderRef)
	if err != nil {
		log.Error("failed to create invoice at provider", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	inv := models.Invoice{
		InvoiceID: created.InvoiceID,
		UserID:    userID,
		Months:    months,
		Amount:    amount,
		PayURL:    created.PayURL,
		Status:    models.InvoicePending,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("invoice created", sl.Invoice(inv.InvoiceID), slog.Int64("amount", amount))
	return &inv, nil
}

// GetInvoice возвращает счёт.
func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	const op = "payment.GetInvoice"
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return inv, nil
}

// ConfirmInvoice проверяет оплату счёта и выдаёт подписку.
// Неоплаченный счёт возвращается в pending с models.ErrPaymentPending.
// Для уже обработанного счёта возвращается ссылка подписки вместе с
// models.ErrAlreadyProcessed, повторного продления не происходит.
func (s *Service) ConfirmInvoice(ctx context.Context, invoiceID string) (string, error) {
	const op = "payment.ConfirmInvoice"
	log := s.log.With(slog.String("op", op), sl.Invoice(invoiceID))

	inv, err := s.repo.ClaimInvoice(ctx, invoiceID, s.cfg.StaleAfter)
	switch {
	case errors.Is(err, models.ErrAlreadyProcessed):
		s.metrics.InvoiceConfirms.WithLabelValues(metrics.ResultRejected).Inc()
		return s.processed(ctx, op, inv.UserID)
	case err != nil:
		if errors.Is(err, models.ErrLockContention) {
			s.metrics.InvoiceConfirms.WithLabelValues(metrics.ResultBusy).Inc()
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	log = log.With(sl.User(inv.UserID))

	// Продление могло пройти, а перевод счёта в paid нет.
	accounted, err := s.paid.IsInvoicePaid(ctx, invoiceID)
	if err != nil {
		s.release(ctx, invoiceID, log)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if accounted {
		log.Warn("invoice already accounted, completing without grant")
		s.complete(ctx, invoiceID, log)
		s.metrics.InvoiceConfirms.WithLabelValues(metrics.ResultRejected).Inc()
		return s.processed(ctx, op, inv.UserID)
	}

	paid, err := s.oracle.IsPaid(ctx, invoiceID)
	if err != nil {
		log.Warn("payment provider check failed", sl.Err(err))
	}
	if err != nil || !paid {
		s.release(ctx, invoiceID, log)
		s.metrics.InvoiceConfirms.WithLabelValues(metrics.ResultPending).Inc()
		return "", fmt.Errorf("%s: %w", op, models.ErrPaymentPending)
	}

	url, err := s.granter.GrantPaid(ctx, inv.UserID, inv.Months, inv.Amount, invoiceID)
	if err != nil {
		s.release(ctx, invoiceID, log)
		s.metrics.InvoiceConfirms.WithLabelValues(metrics.ResultError).Inc()
		log.Error("paid invoice not granted, left for retry", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	s.complete(ctx, invoiceID, log)
	s.metrics.InvoiceConfirms.WithLabelValues(metrics.ResultOK).Inc()
	log.Info("invoice confirmed", slog.Int("months", inv.Months))
	return url, nil
}

func (s *Service) processed(ctx context.Context, op string, userID int64) (string, error) {
	url, err := s.granter.SubscriptionLink(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, errors.Join(models.ErrAlreadyProcessed, err))
	}
	return url, fmt.Errorf("%s: %w", op, models.ErrAlreadyProcessed)
}

func (s *Service) release(ctx context.Context, invoiceID string, log *slog.Logger) {
	if err := s.repo.ReleaseInvoice(context.WithoutCancel(ctx), invoiceID); err != nil {
		log.Error("failed to release invoice claim", sl.Err(err))
	}
}

func (s *Service) complete(ctx context.Context, invoiceID string, log *slog.Logger) {
	if err := s.repo.CompleteInvoice(context.WithoutCancel(ctx), invoiceID); err != nil {
		log.Error("failed to mark invoice paid", sl.Err(err))
	}
}

// ExpireStale помечает истёкшими неоплаченные счета старше ttl.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	const op = "payment.ExpireStale"
	n, err := s.repo.ExpireInvoices(ctx, s.now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		s.log.Info("invoices expired", slog.String("op", op), slog.Int64("count", n))
	}
	return n, nil
}

// PendingInvoices возвращает неоплаченные счета моложе ttl.
func (s *Service) PendingInvoices(ctx context.Context, ttl time.Duration, limit int) ([]models.Invoice, error) {
	const op = "payment.PendingInvoices"
	invoices, err := s.repo.ListPendingInvoices(ctx, s.now().Add(-ttl), limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return invoices, nil
}

// IsPaid спрашивает провайдера об оплате счёта.
func (s *Service) IsPaid(ctx context.Context, invoiceID string) (bool, error) {
	const op = "payment.IsPaid"
	paid, err := s.oracle.IsPaid(ctx, invoiceID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return paid, nil
}
