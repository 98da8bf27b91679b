package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// CreatePromo создаёт промокод; повторный выпуск того же кода сбрасывает число активаций.
func (s *Storage) CreatePromo(ctx context.Context, promo models.PromoCode) error {
	const op = "storage.postgresql.CreatePromo"
	if err := s.begin(ctx, op); err != nil {
		return err
	}

	query := `INSERT INTO promo_codes (code, days, activations_left)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (code) DO UPDATE SET
			      days = EXCLUDED.days,
			      activations_left = EXCLUDED.activations_left`
	if _, err := s.DB.ExecContext(ctx, query, promo.Code, promo.Days, promo.ActivationsLeft); err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}

// GetPromo возвращает промокод или models.ErrPromoNotFound.
func (s *Storage) GetPromo(ctx context.Context, code string) (*models.PromoCode, error) {
	const op = "storage.postgresql.GetPromo"
	if err := s.begin(ctx, op); err != nil {
		return nil, err
	}

	var p models.PromoCode
	err := s.DB.QueryRowContext(ctx,
		`SELECT code, days, activations_left FROM promo_codes WHERE code = $1`, code).
		Scan(&p.Code, &p.Days, &p.ActivationsLeft)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrPromoNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	return &p, nil
}

// TryActivatePromo списывает одну активацию одним условным UPDATE.
// Код с нулём активаций остаётся в таблице как неактивный, чтобы
// отличать исчерпанный код от несуществующего. Возвращает число дней бонуса.
func (s *Storage) TryActivatePromo(ctx context.Context, code string) (int, error) {
	const op = "storage.postgresql.TryActivatePromo"
	if err := s.begin(ctx, op); err != nil {
		return 0, err
	}

	var days int
	err := s.DB.QueryRowContext(ctx,
		`UPDATE promo_codes
		 SET activations_left = activations_left - 1
		 WHERE code = $1 AND activations_left > 0
		 RETURNING days`, code).Scan(&days)
	if err == nil {
		return days, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", op, classify(err))
	}

	var exists bool
	if err = s.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM promo_codes WHERE code = $1)`, code).Scan(&exists); err != nil {
		return 0, fmt.Errorf("%s: %w", op, classify(err))
	}
	if exists {
		return 0, fmt.Errorf("%s: %w", op, models.ErrPromoExhausted)
	}
	return 0, fmt.Errorf("%s: %w", op, models.ErrPromoNotFound)
}
