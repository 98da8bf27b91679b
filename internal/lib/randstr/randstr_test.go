package randstr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	for _, length := range []int{SubscriptionIDLength, EmailKeyLength, 1} {
		s, err := Generate(length)
		require.NoError(t, err)
		assert.Len(t, s, length)
		for _, r := range s {
			assert.True(t, strings.ContainsRune(alphabet, r), "unexpected rune %q", r)
		}
	}
}

func TestGenerate_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		s, err := Generate(SubscriptionIDLength)
		require.NoError(t, err)
		_, dup := seen[s]
		require.False(t, dup)
		seen[s] = struct{}{}
	}
}

func TestGenerate_InvalidLength(t *testing.T) {
	_, err := Generate(0)
	assert.Error(t, err)
}
