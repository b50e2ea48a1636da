package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ponyo877/collab/server/domain"
)

func TestColorFor(t *testing.T) {
	t.Parallel()

	color := domain.ColorFor("file:42", "alice")
	require.Regexp(t, `^#[0-9a-f]{6}$`, color)
	for i := 0; i < 10; i++ {
		require.Equal(t, color, domain.ColorFor("file:42", "alice"))
	}

	seen := map[string]struct{}{}
	for _, user := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n"} {
		seen[domain.ColorFor("file:42", user)] = struct{}{}
	}
	require.Greater(t, len(seen), 1)
}
