package uuid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratorNewRunID(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	first, err := gen.NewRunID()
	require.NoError(t, err)
	second, err := gen.NewRunID()
	require.NoError(t, err)

	require.Equal(t, 7, int(first.Version()))
	require.NotEqual(t, first, second)
	require.LessOrEqual(t, first.String()[:12], second.String()[:12], "time prefix is monotonic")
}
