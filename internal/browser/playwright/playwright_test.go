package playwright

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithContextReturnsResult(t *testing.T) {
	t.Parallel()

	want := errors.New("boom")
	err := withContext(context.Background(), func() error { return want })
	require.ErrorIs(t, err, want)
	require.NoError(t, withContext(context.Background(), func() error { return nil }))
}

func TestWithContextHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	release := make(chan struct{})
	defer close(release)

	err := withContext(ctx, func() error {
		<-release
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMillis(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 180000.0, millis(180*time.Second), 0.001)
	require.InDelta(t, 1.0, millis(time.Millisecond), 0.001)
}
