package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserLock — блокировка действий пользователя на строке таблицы user_locks.
// Захват выполняется одним условным UPSERT; истёкшая по ttl блокировка
// считается свободной, чтобы упавший процесс не держал пользователя вечно.
// Строка хранит токен захвата, освобождение без совпадения токена ничего не меняет.
type UserLock struct {
	storage *Storage
	ttl     time.Duration
}

// NewUserLock создаёт блокировку поверх хранилища.
func NewUserLock(storage *Storage, ttl time.Duration) *UserLock {
	return &UserLock{storage: storage, ttl: ttl}
}

// TryAcquire пытается захватить блокировку без ожидания и возвращает токен захвата.
func (l *UserLock) TryAcquire(ctx context.Context, userID int64) (string, bool, error) {
	const op = "storage.postgresql.TryAcquire"
	if err := l.storage.begin(ctx, op); err != nil {
		return "", false, err
	}

	token := uuid.NewString()
	query := `INSERT INTO user_locks (user_id, locked, locked_at, owner)
			  VALUES ($1, TRUE, NOW(), $3)
			  ON CONFLICT (user_id) DO UPDATE SET locked = TRUE, locked_at = NOW(), owner = EXCLUDED.owner
			  WHERE user_locks.locked = FALSE
			     OR user_locks.locked_at < NOW() - make_interval(secs => $2)`
	res, err := l.storage.DB.ExecContext(ctx, query, userID, l.ttl.Seconds(), token)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	if n != 1 {
		return "", false, nil
	}
	return token, true, nil
}

// Release освобождает блокировку, если она всё ещё захвачена с token.
func (l *UserLock) Release(ctx context.Context, userID int64, token string) error {
	const op = "storage.postgresql.Release"
	if err := l.storage.begin(ctx, op); err != nil {
		return err
	}

	if _, err := l.storage.DB.ExecContext(ctx,
		`UPDATE user_locks SET locked = FALSE, owner = NULL WHERE user_id = $1 AND owner = $2`,
		userID, token); err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}
