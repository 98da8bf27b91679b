// Package lock содержит блокировку действий пользователя в памяти процесса.
package lock

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory — неблокирующая блокировка на карте под мьютексом.
type Memory struct {
	mu     sync.Mutex
	owners map[int64]string
}

// NewMemory создаёт блокировку.
func NewMemory() *Memory {
	return &Memory{owners: make(map[int64]string)}
}

// TryAcquire захватывает блокировку пользователя и возвращает токен захвата;
// false — уже захвачена.
func (m *Memory) TryAcquire(_ context.Context, userID int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.owners[userID]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	m.owners[userID] = token
	return token, true, nil
}

// Release освобождает блокировку, только если она захвачена с этим токеном.
func (m *Memory) Release(_ context.Context, userID int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owners[userID] == token {
		delete(m.owners, userID)
	}
	return nil
}
