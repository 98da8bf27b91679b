// Package poller периодически проверяет неоплаченные счета у платёжного
// провайдера и публикует события об оплате в брокер.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/metrics"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// PaymentService операции над счетами, нужные поллеру.
type PaymentService interface {
	ExpireStale(ctx context.Context, ttl time.Duration) (int64, error)
	PendingInvoices(ctx context.Context, ttl time.Duration, limit int) ([]models.Invoice, error)
	IsPaid(ctx context.Context, invoiceID string) (bool, error)
}

// Publisher публикация событий об оплате.
type Publisher interface {
	Publish(ctx context.Context, message any) error
}

// Config параметры опроса.
type Config struct {
	Interval   time.Duration
	InvoiceTTL time.Duration
	BatchSize  int
}

// Service поллер счетов.
type Service struct {
	payments  PaymentService
	publisher Publisher
	metrics   *metrics.Metrics
	cfg       Config
	log       *slog.Logger
}

// New создает новый экземпляр Service.
func New(payments PaymentService, publisher Publisher, m *metrics.Metrics, cfg Config, log *slog.Logger) *Service {
	return &Service{
		payments:  payments,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		log:       log,
	}
}

// Run опрашивает счета каждые Interval до отмены ctx.
func (s *Service) Run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("payment poller stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce одна итерация: истёкшие счета помечаются expired, по оплаченным
// публикуется событие. Возвращает число опубликованных событий.
func (s *Service) RunOnce(ctx context.Context) int {
	const op = "poller.RunOnce"
	log := s.log.With(slog.String("op", op))
	defer s.metrics.PollerRuns.Inc()

	if _, err := s.payments.ExpireStale(ctx, s.cfg.InvoiceTTL); err != nil {
		log.Error("failed to expire stale invoices", sl.Err(err))
	}

	invoices, err := s.payments.PendingInvoices(ctx, s.cfg.InvoiceTTL, s.cfg.BatchSize)
	if err != nil {
		log.Error("failed to list pending invoices", sl.Err(err))
		return 0
	}
	if len(invoices) == 0 {
		log.Debug("no pending invoices")
		return 0
	}
	log.Info("checking pending invoices", slog.Int("count", len(invoices)))

	published := 0
	for _, inv := range invoices {
		if ctx.Err() != nil {
			break
		}
		paid, err := s.payments.IsPaid(ctx, inv.InvoiceID)
		if err != nil {
			log.Warn("payment check failed", sl.Invoice(inv.InvoiceID), sl.Err(err))
			continue
		}
		if !paid {
			continue
		}
		if err := s.publisher.Publish(ctx, models.PaymentConfirmed{InvoiceID: inv.InvoiceID}); err != nil {
			log.Error("failed to publish payment event", sl.Invoice(inv.InvoiceID), sl.Err(err))
			continue
		}
		published++
		log.Info("payment event published", sl.Invoice(inv.InvoiceID), sl.User(inv.UserID))
	}
	return published
}
