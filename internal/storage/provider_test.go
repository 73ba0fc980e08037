package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResultPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "results/abc.json", ResultPath("results", "abc"))
	require.Equal(t, "results/abc.json", ResultPath("results/", "abc"))
	require.Equal(t, "abc.json", ResultPath("", "abc"))
}
