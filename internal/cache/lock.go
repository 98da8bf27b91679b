package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript удаляет ключ, только если он захвачен с переданным токеном.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// UserLock — неблокирующая блокировка действий пользователя в Redis.
// Ключ живёт не дольше ttl, поэтому упавший процесс не держит пользователя вечно.
// Каждый захват получает свой токен: освободить ключ может только тот, кто его захватил.
type UserLock struct {
	db  *redis.Client
	ttl time.Duration
}

// NewUserLock создаёт блокировку.
func NewUserLock(c *Cache, ttl time.Duration) *UserLock {
	return &UserLock{db: c.Db, ttl: ttl}
}

func lockKey(userID int64) string {
	return fmt.Sprintf("vpn:lock:%d", userID)
}

// TryAcquire пытается захватить блокировку и возвращает токен захвата;
// false — она уже захвачена.
func (l *UserLock) TryAcquire(ctx context.Context, userID int64) (string, bool, error) {
	const op = "cache.UserLock.TryAcquire"
	token := uuid.NewString()
	ok, err := l.db.SetNX(ctx, lockKey(userID), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release освобождает блокировку, если она всё ещё захвачена с token.
func (l *UserLock) Release(ctx context.Context, userID int64, token string) error {
	const op = "cache.UserLock.Release"
	if err := releaseScript.Run(ctx, l.db, []string{lockKey(userID)}, token).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
