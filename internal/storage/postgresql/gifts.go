package postgresql

import (
	"context"
	"fmt"
)

// TryMarkGift отмечает, что пользователь получил подарок.
// Возвращает false, если подарок уже был получен.
func (s *Storage) TryMarkGift(ctx context.Context, userID int64) (bool, error) {
	const op = "storage.postgresql.TryMarkGift"
	if err := s.begin(ctx, op); err != nil {
		return false, err
	}

	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO user_gifts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

// UnmarkGift снимает отметку о подарке (откат при неудачной выдаче).
func (s *Storage) UnmarkGift(ctx context.Context, userID int64) error {
	const op = "storage.postgresql.UnmarkGift"
	if err := s.begin(ctx, op); err != nil {
		return err
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM user_gifts WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}
