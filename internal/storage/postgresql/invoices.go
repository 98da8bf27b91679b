package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// CreateInvoice сохраняет выставленный счёт в статусе pending.
func (s *Storage) CreateInvoice(ctx context.Context, inv models.Invoice) error {
	const op = "storage.postgresql.CreateInvoice"
	if err := s.begin(ctx, op); err != nil {
		return err
	}

	query := `INSERT INTO invoices (invoice_id, user_id, months, amount, pay_url, status)
			  VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.DB.ExecContext(ctx, query,
		inv.InvoiceID, inv.UserID, inv.Months, inv.Amount, inv.PayURL, models.InvoicePending)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, models.ErrDuplicateInvoice)
		}
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}

// GetInvoice возвращает счёт или models.ErrNotFound.
func (s *Storage) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	const op = "storage.postgresql.GetInvoice"
	if err := s.begin(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT invoice_id, user_id, months, amount, pay_url, status, created_at
			  FROM invoices
			  WHERE invoice_id = $1`
	inv, err := scanInvoice(s.DB.QueryRowContext(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	return inv, nil
}

// ClaimInvoice переводит счёт в processing. Захватить можно счёт в статусе
// pending или expired, а также processing, зависший дольше staleAfter.
// Оплаченный счёт возвращает models.ErrAlreadyProcessed, захваченный другим
// обработчиком возвращает models.ErrLockContention.
func (s *Storage) ClaimInvoice(ctx context.Context, invoiceID string, staleAfter time.Duration) (*models.Invoice, error) {
	const op = "storage.postgresql.ClaimInvoice"
	if err := s.begin(ctx, op); err != nil {
		return nil, err
	}

	query := `UPDATE invoices
			  SET status = $2, updated_at = NOW()
			  WHERE invoice_id = $1
			    AND (status IN ($3, $4)
			         OR (status = $2 AND updated_at < NOW() - make_interval(secs => $5)))
			  RETURNING invoice_id, user_id, months, amount, pay_url, status, created_at`
	inv, err := scanInvoice(s.DB.QueryRowContext(ctx, query,
		invoiceID, models.InvoiceProcessing, models.InvoicePending, models.InvoiceExpired, staleAfter.Seconds()))
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}

	current, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if current.Status == models.InvoicePaid {
		return current, fmt.Errorf("%s: %w", op, models.ErrAlreadyProcessed)
	}
	return nil, fmt.Errorf("%s: %w", op, models.ErrLockContention)
}

// ReleaseInvoice возвращает захваченный счёт в pending.
func (s *Storage) ReleaseInvoice(ctx context.Context, invoiceID string) error {
	const op = "storage.postgresql.ReleaseInvoice"
	return s.setInvoiceStatus(ctx, op, invoiceID, models.InvoiceProcessing, models.InvoicePending)
}

// CompleteInvoice помечает захваченный счёт оплаченным.
func (s *Storage) CompleteInvoice(ctx context.Context, invoiceID string) error {
	const op = "storage.postgresql.CompleteInvoice"
	return s.setInvoiceStatus(ctx, op, invoiceID, models.InvoiceProcessing, models.InvoicePaid)
}

func (s *Storage) setInvoiceStatus(ctx context.Context, op, invoiceID, from, to string) error {
	if err := s.begin(ctx, op); err != nil {
		return err
	}

	res, err := s.DB.ExecContext(ctx,
		`UPDATE invoices SET status = $1, updated_at = NOW() WHERE invoice_id = $2 AND status = $3`,
		to, invoiceID, from)
	if err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: invoice %s is not %s: %w", op, invoiceID, from, models.ErrNotFound)
	}
	return nil
}

// ListPendingInvoices возвращает неоплаченные счета, созданные после createdAfter.
func (s *Storage) ListPendingInvoices(ctx context.Context, createdAfter time.Time, limit int) ([]models.Invoice, error) {
	const op = "storage.postgresql.ListPendingInvoices"
	if err := s.begin(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT invoice_id, user_id, months, amount, pay_url, status, created_at
			  FROM invoices
			  WHERE status = $1 AND created_at > $2
			  ORDER BY created_at
			  LIMIT $3`
	rows, err := s.DB.QueryContext(ctx, query, models.InvoicePending, createdAfter, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	return result, nil
}

// ExpireInvoices переводит в expired неоплаченные счета старше createdBefore.
func (s *Storage) ExpireInvoices(ctx context.Context, createdBefore time.Time) (int64, error) {
	const op = "storage.postgresql.ExpireInvoices"
	if err := s.begin(ctx, op); err != nil {
		return 0, err
	}

	res, err := s.DB.ExecContext(ctx,
		`UPDATE invoices SET status = $1, updated_at = NOW() WHERE status = $2 AND created_at <= $3`,
		models.InvoiceExpired, models.InvoicePending, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(
		&inv.InvoiceID,
		&inv.UserID,
		&inv.Months,
		&inv.Amount,
		&inv.PayURL,
		&inv.Status,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
