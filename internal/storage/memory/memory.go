// Package memory реализует хранилище на картах под мьютексом.
// Используется в режиме разработки (storage_driver: memory) и в тестах сервисов.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

type invoiceRow struct {
	invoice   models.Invoice
	updatedAt time.Time
}

// Storage хранит все данные в памяти процесса.
type Storage struct {
	mu        sync.Mutex
	clients   map[int64]models.ClientRecord
	promos    map[string]models.PromoCode
	referrers map[int64]int64
	paid      map[string]models.PaidMark
	invoices  map[string]*invoiceRow
	gifts     map[int64]time.Time
	now       func() time.Time
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		clients:   make(map[int64]models.ClientRecord),
		promos:    make(map[string]models.PromoCode),
		referrers: make(map[int64]int64),
		paid:      make(map[string]models.PaidMark),
		invoices:  make(map[string]*invoiceRow),
		gifts:     make(map[int64]time.Time),
		now:       time.Now,
	}
}

func check(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}
	return nil
}

// GetClient возвращает запись клиента или models.ErrNotFound.
func (s *Storage) GetClient(ctx context.Context, userID int64) (*models.ClientRecord, error) {
	const op = "storage.memory.GetClient"
	if err := check(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.clients[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return &rec, nil
}

// ClientExists проверяет наличие записи клиента.
func (s *Storage) ClientExists(ctx context.Context, userID int64) (bool, error) {
	if err := check(ctx, "storage.memory.ClientExists"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.clients[userID]
	return ok, nil
}

// UpsertClient создаёт запись клиента либо перезаписывает изменяемые поля.
func (s *Storage) UpsertClient(ctx context.Context, rec models.ClientRecord) error {
	if err := check(ctx, "storage.memory.UpsertClient"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.clients[rec.UserID]; ok {
		rec.CreatedAt = old.CreatedAt
	} else {
		rec.CreatedAt = s.now()
	}
	s.clients[rec.UserID] = rec
	return nil
}

// UpdateExpiry обновляет закэшированный срок действия.
func (s *Storage) UpdateExpiry(ctx context.Context, userID int64, expiry int64) error {
	const op = "storage.memory.UpdateExpiry"
	if err := check(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.clients[userID]
	if !ok {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	rec.ExpiryTimestamp = expiry
	s.clients[userID] = rec
	return nil
}

// CreatePromo создаёт промокод или сбрасывает пул активаций существующего.
func (s *Storage) CreatePromo(ctx context.Context, promo models.PromoCode) error {
	if err := check(ctx, "storage.memory.CreatePromo"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.promos[promo.Code] = promo
	return nil
}

// GetPromo возвращает промокод или models.ErrPromoNotFound.
func (s *Storage) GetPromo(ctx context.Context, code string) (*models.PromoCode, error) {
	const op = "storage.memory.GetPromo"
	if err := check(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.promos[code]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrPromoNotFound)
	}
	return &p, nil
}

// TryActivatePromo списывает одну активацию; код с нулём активаций остаётся неактивным.
func (s *Storage) TryActivatePromo(ctx context.Context, code string) (int, error) {
	const op = "storage.memory.TryActivatePromo"
	if err := check(ctx, op); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.promos[code]
	if !ok {
		return 0, fmt.Errorf("%s: %w", op, models.ErrPromoNotFound)
	}
	if p.ActivationsLeft <= 0 {
		return 0, fmt.Errorf("%s: %w", op, models.ErrPromoExhausted)
	}
	p.ActivationsLeft--
	s.promos[code] = p
	return p.Days, nil
}

// RecordReferral сохраняет связь; первая запись для приглашённого окончательна.
func (s *Storage) RecordReferral(ctx context.Context, referrerID, referredUserID int64) (bool, error) {
	if err := check(ctx, "storage.memory.RecordReferral"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.referrers[referredUserID]; ok {
		return false, nil
	}
	s.referrers[referredUserID] = referrerID
	return true, nil
}

// GetReferrer возвращает пригласившего или models.ErrNotFound.
func (s *Storage) GetReferrer(ctx context.Context, userID int64) (int64, error) {
	const op = "storage.memory.GetReferrer"
	if err := check(ctx, op); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	referrer, ok := s.referrers[userID]
	if !ok {
		return 0, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return referrer, nil
}

// ReferralStats считает приглашённых и оплативших.
func (s *Storage) ReferralStats(ctx context.Context, referrerID int64) (models.ReferralStats, error) {
	if err := check(ctx, "storage.memory.ReferralStats"); err != nil {
		return models.ReferralStats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	payers := make(map[int64]struct{}, len(s.paid))
	for _, m := range s.paid {
		payers[m.UserID] = struct{}{}
	}
	var stats models.ReferralStats
	for referred, referrer := range s.referrers {
		if referrer != referrerID {
			continue
		}
		stats.Total++
		if _, ok := payers[referred]; ok {
			stats.Paid++
		}
	}
	return stats, nil
}

// MarkPaid фиксирует оплату; повторный invoice_id возвращает models.ErrDuplicateInvoice.
func (s *Storage) MarkPaid(ctx context.Context, mark models.PaidMark) error {
	const op = "storage.memory.MarkPaid"
	if err := check(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paid[mark.InvoiceID]; ok {
		return fmt.Errorf("%s: %w", op, models.ErrDuplicateInvoice)
	}
	mark.PaidAt = s.now()
	s.paid[mark.InvoiceID] = mark
	return nil
}

// HasPaidMark проверяет, учтён ли счёт.
func (s *Storage) HasPaidMark(ctx context.Context, invoiceID string) (bool, error) {
	if err := check(ctx, "storage.memory.HasPaidMark"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.paid[invoiceID]
	return ok, nil
}

// PaidMarks возвращает число учтённых оплат.
func (s *Storage) PaidMarks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paid)
}

// TryMarkGift отмечает получение подарка; false, если подарок уже получен.
func (s *Storage) TryMarkGift(ctx context.Context, userID int64) (bool, error) {
	if err := check(ctx, "storage.memory.TryMarkGift"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.gifts[userID]; ok {
		return false, nil
	}
	s.gifts[userID] = s.now()
	return true, nil
}

// UnmarkGift снимает отметку о подарке.
func (s *Storage) UnmarkGift(ctx context.Context, userID int64) error {
	if err := check(ctx, "storage.memory.UnmarkGift"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.gifts, userID)
	return nil
}

// CreateInvoice сохраняет счёт в статусе pending.
func (s *Storage) CreateInvoice(ctx context.Context, inv models.Invoice) error {
	const op = "storage.memory.CreateInvoice"
	if err := check(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[inv.InvoiceID]; ok {
		return fmt.Errorf("%s: %w", op, models.ErrDuplicateInvoice)
	}
	now := s.now()
	inv.Status = models.InvoicePending
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	s.invoices[inv.InvoiceID] = &invoiceRow{invoice: inv, updatedAt: now}
	return nil
}

// GetInvoice возвращает счёт или models.ErrNotFound.
func (s *Storage) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	const op = "storage.memory.GetInvoice"
	if err := check(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	inv := row.invoice
	return &inv, nil
}

// ClaimInvoice переводит счёт в processing по тем же правилам, что и PostgreSQL-хранилище.
func (s *Storage) ClaimInvoice(ctx context.Context, invoiceID string, staleAfter time.Duration) (*models.Invoice, error) {
	const op = "storage.memory.ClaimInvoice"
	if err := check(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	now := s.now()
	switch row.invoice.Status {
	case models.InvoicePaid:
		inv := row.invoice
		return &inv, fmt.Errorf("%s: %w", op, models.ErrAlreadyProcessed)
	case models.InvoiceProcessing:
		if now.Sub(row.updatedAt) <= staleAfter {
			return nil, fmt.Errorf("%s: %w", op, models.ErrLockContention)
		}
	}
	row.invoice.Status = models.InvoiceProcessing
	row.updatedAt = now
	inv := row.invoice
	return &inv, nil
}

// ReleaseInvoice возвращает захваченный счёт в pending.
func (s *Storage) ReleaseInvoice(ctx context.Context, invoiceID string) error {
	return s.setInvoiceStatus(ctx, "storage.memory.ReleaseInvoice", invoiceID, models.InvoiceProcessing, models.InvoicePending)
}

// CompleteInvoice помечает захваченный счёт оплаченным.
func (s *Storage) CompleteInvoice(ctx context.Context, invoiceID string) error {
	return s.setInvoiceStatus(ctx, "storage.memory.CompleteInvoice", invoiceID, models.InvoiceProcessing, models.InvoicePaid)
}

func (s *Storage) setInvoiceStatus(ctx context.Context, op, invoiceID, from, to string) error {
	if err := check(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.invoices[invoiceID]
	if !ok || row.invoice.Status != from {
		return fmt.Errorf("%s: invoice %s is not %s: %w", op, invoiceID, from, models.ErrNotFound)
	}
	row.invoice.Status = to
	row.updatedAt = s.now()
	return nil
}

// ListPendingInvoices возвращает неоплаченные счета, созданные после createdAfter.
func (s *Storage) ListPendingInvoices(ctx context.Context, createdAfter time.Time, limit int) ([]models.Invoice, error) {
	if err := check(ctx, "storage.memory.ListPendingInvoices"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.Invoice
	for _, row := range s.invoices {
		if row.invoice.Status == models.InvoicePending && row.invoice.CreatedAt.After(createdAfter) {
			result = append(result, row.invoice)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ExpireInvoices переводит в expired неоплаченные счета старше createdBefore.
func (s *Storage) ExpireInvoices(ctx context.Context, createdBefore time.Time) (int64, error) {
	if err := check(ctx, "storage.memory.ExpireInvoices"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, row := range s.invoices {
		if row.invoice.Status == models.InvoicePending && !row.invoice.CreatedAt.After(createdBefore) {
			row.invoice.Status = models.InvoiceExpired
			row.updatedAt = s.now()
			n++
		}
	}
	return n, nil
}
