package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// GetClient возвращает запись клиента или models.ErrNotFound.
func (s *Storage) GetClient(ctx context.Context, userID int64) (*models.ClientRecord, error) {
	const op = "storage.postgresql.GetClient"
	if err := s.begin(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT user_id, client_uuid, subscription_id, email_key, expiry_timestamp, created_at
			  FROM clients
			  WHERE user_id = $1`
	var rec models.ClientRecord
	err := s.DB.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID,
		&rec.ClientUUID,
		&rec.SubscriptionID,
		&rec.EmailKey,
		&rec.ExpiryTimestamp,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	return &rec, nil
}

// ClientExists проверяет наличие записи клиента.
func (s *Storage) ClientExists(ctx context.Context, userID int64) (bool, error) {
	const op = "storage.postgresql.ClientExists"
	if err := s.begin(ctx, op); err != nil {
		return false, err
	}

	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM clients WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, classify(err))
	}
	return exists, nil
}

// UpsertClient создаёт запись клиента либо перезаписывает изменяемые поля существующей.
func (s *Storage) UpsertClient(ctx context.Context, rec models.ClientRecord) error {
	const op = "storage.postgresql.UpsertClient"
	if err := s.begin(ctx, op); err != nil {
		return err
	}

	query := `INSERT INTO clients (user_id, client_uuid, subscription_id, email_key, expiry_timestamp)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (user_id) DO UPDATE SET
			      client_uuid = EXCLUDED.client_uuid,
			      subscription_id = EXCLUDED.subscription_id,
			      email_key = EXCLUDED.email_key,
			      expiry_timestamp = EXCLUDED.expiry_timestamp,
			      updated_at = NOW()`
	_, err := s.DB.ExecContext(ctx, query,
		rec.UserID, rec.ClientUUID, rec.SubscriptionID, rec.EmailKey, rec.ExpiryTimestamp)
	if err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}

// UpdateExpiry обновляет закэшированный срок действия.
func (s *Storage) UpdateExpiry(ctx context.Context, userID int64, expiry int64) error {
	const op = "storage.postgresql.UpdateExpiry"
	if err := s.begin(ctx, op); err != nil {
		return err
	}

	res, err := s.DB.ExecContext(ctx,
		`UPDATE clients SET expiry_timestamp = $1, updated_at = NOW() WHERE user_id = $2`,
		expiry, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}
