package jobs

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestTruncateBodyKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantLen int
	}{
		{name: "short", body: "bad gateway", wantLen: len("bad gateway")},
		{name: "ascii", body: strings.Repeat("x", maxErrorBody+10), wantLen: maxErrorBody + 3},
		// "é" is two bytes, so byte maxErrorBody lands inside a rune.
		{name: "split rune", body: "x" + strings.Repeat("é", maxErrorBody), wantLen: maxErrorBody - 1 + 3},
		// "€" is three bytes.
		{name: "split wide rune", body: "x" + strings.Repeat("€", maxErrorBody), wantLen: maxErrorBody - 1 + 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := truncateBody(tt.body)
			require.True(t, utf8.ValidString(got))
			require.Len(t, got, tt.wantLen)
			require.LessOrEqual(t, len(got), maxErrorBody+3)
		})
	}
}
