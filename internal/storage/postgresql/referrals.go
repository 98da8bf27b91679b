package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// RecordReferral сохраняет связь «пригласивший → приглашённый».
// Первая запись для приглашённого окончательна, повтор ничего не меняет.
// Возвращает true, если связь была создана этим вызовом.
func (s *Storage) RecordReferral(ctx context.Context, referrerID, referredUserID int64) (bool, error) {
	const op = "storage.postgresql.RecordReferral"
	if err := s.begin(ctx, op); err != nil {
		return false, err
	}

	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO referrals (referrer_id, referred_user_id)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, referrerID, referredUserID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

// GetReferrer возвращает пригласившего пользователя или models.ErrNotFound.
func (s *Storage) GetReferrer(ctx context.Context, userID int64) (int64, error) {
	const op = "storage.postgresql.GetReferrer"
	if err := s.begin(ctx, op); err != nil {
		return 0, err
	}

	var referrerID int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT referrer_id FROM referrals WHERE referred_user_id = $1`, userID).Scan(&referrerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return 0, fmt.Errorf("%s: %w", op, classify(err))
	}
	return referrerID, nil
}

// ReferralStats считает приглашённых и тех из них, кто хотя бы раз оплатил.
func (s *Storage) ReferralStats(ctx context.Context, referrerID int64) (models.ReferralStats, error) {
	const op = "storage.postgresql.ReferralStats"
	if err := s.begin(ctx, op); err != nil {
		return models.ReferralStats{}, err
	}

	query := `SELECT COUNT(*),
			         COUNT(*) FILTER (WHERE EXISTS (
			             SELECT 1 FROM paid_marks p WHERE p.user_id = r.referred_user_id))
			  FROM referrals r
			  WHERE r.referrer_id = $1`
	var stats models.ReferralStats
	if err := s.DB.QueryRowContext(ctx, query, referrerID).Scan(&stats.Total, &stats.Paid); err != nil {
		return models.ReferralStats{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	return stats, nil
}
