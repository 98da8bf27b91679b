// Package randstr генерирует случайные идентификаторы для панели VPN.
package randstr

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Алфавит совпадает с тем, что панель принимает в subId и email.
const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

const (
	// SubscriptionIDLength — длина идентификатора подписки.
	SubscriptionIDLength = 16
	// EmailKeyLength — длина ключа клиента в панели.
	EmailKeyLength = 12
)

// Generate возвращает криптографически случайную строку указанной длины.
func Generate(length int) (string, error) {
	const op = "randstr.Generate"
	if length <= 0 {
		return "", fmt.Errorf("%s: invalid length %d", op, length)
	}

	result := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		result[i] = alphabet[n.Int64()]
	}
	return string(result), nil
}
