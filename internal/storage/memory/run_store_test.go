package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/video-optimizer-proxy/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewRunStore(0)
	ctx := context.Background()
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.StartRun(ctx, store.JobRun{
		RunID:     runID,
		JobID:     "abc",
		Operation: "optimize",
		StartedAt: started,
	}))
	// Replays keep the first row.
	require.NoError(t, s.StartRun(ctx, store.JobRun{RunID: runID, JobID: "other"}))

	require.NoError(t, s.MarkDisconnected(ctx, runID, started.Add(time.Second)))
	require.NoError(t, s.MarkDisconnected(ctx, runID, started.Add(time.Minute)))

	msg := "upstream returned 500"
	require.NoError(t, s.FinishRun(ctx, runID, started.Add(2*time.Minute), store.RunFailed, &msg))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, "abc", run.JobID)
	require.Equal(t, store.RunFailed, run.Status)
	require.NotNil(t, run.DisconnectedAt)
	require.True(t, run.DisconnectedAt.Equal(started.Add(time.Second)))
	require.NotNil(t, run.ErrorMessage)
	require.Equal(t, msg, *run.ErrorMessage)

	msg = "mutated"
	run, err = s.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, "upstream returned 500", *run.ErrorMessage)
}

func TestRunStoreUnknownRun(t *testing.T) {
	t.Parallel()

	s := NewRunStore(0)
	ctx := context.Background()
	_, err := s.GetRun(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.FinishRun(ctx, uuid.New(), time.Now(), store.RunComplete, nil), store.ErrNotFound)
	require.ErrorIs(t, s.MarkDisconnected(ctx, uuid.New(), time.Now()), store.ErrNotFound)
}

func TestRunStoreListFiltersAndPages(t *testing.T) {
	t.Parallel()

	s := NewRunStore(0)
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
		jobID := "abc"
		if i == 3 {
			jobID = "def"
		}
		require.NoError(t, s.StartRun(ctx, store.JobRun{
			RunID:     ids[i],
			JobID:     jobID,
			Operation: "optimize",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.FinishRun(ctx, ids[0], base.Add(time.Hour), store.RunComplete, nil))

	runs, err := s.ListRuns(ctx, store.RunFilter{JobID: "abc"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, ids[2], runs[0].RunID, "newest first")

	runs, err = s.ListRuns(ctx, store.RunFilter{JobID: "abc"}, 1, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, ids[1], runs[0].RunID)

	complete := store.RunComplete
	runs, err = s.ListRuns(ctx, store.RunFilter{Status: &complete}, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, ids[0], runs[0].RunID)

	runs, err = s.ListRuns(ctx, store.RunFilter{}, 10, 50)
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestRunStoreEvictsOldest(t *testing.T) {
	t.Parallel()

	s := NewRunStore(2)
	ctx := context.Background()
	first, second, third := uuid.New(), uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{first, second, third} {
		require.NoError(t, s.StartRun(ctx, store.JobRun{RunID: id, Operation: "tags", StartedAt: time.Now()}))
	}
	_, err := s.GetRun(ctx, first)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetRun(ctx, third)
	require.NoError(t, err)
}
