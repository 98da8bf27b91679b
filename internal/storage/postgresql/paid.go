package postgresql

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// MarkPaid фиксирует оплату. Уникальность invoice_id обеспечивает идемпотентность:
// повторный счёт возвращает models.ErrDuplicateInvoice.
func (s *Storage) MarkPaid(ctx context.Context, mark models.PaidMark) error {
	const op = "storage.postgresql.MarkPaid"
	if err := s.begin(ctx, op); err != nil {
		return err
	}

	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO paid_marks (invoice_id, user_id, amount)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (invoice_id) DO NOTHING`, mark.InvoiceID, mark.UserID, mark.Amount)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, models.ErrDuplicateInvoice)
		}
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrDuplicateInvoice)
	}
	return nil
}

// HasPaidMark проверяет, учтён ли счёт.
func (s *Storage) HasPaidMark(ctx context.Context, invoiceID string) (bool, error) {
	const op = "storage.postgresql.HasPaidMark"
	if err := s.begin(ctx, op); err != nil {
		return false, err
	}

	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM paid_marks WHERE invoice_id = $1)`, invoiceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, classify(err))
	}
	return exists, nil
}
