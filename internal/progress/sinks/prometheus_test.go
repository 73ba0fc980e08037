package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/video-optimizer-proxy/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	ok, failed := uuid.New(), uuid.New()
	now := time.Now()
	batch := []progress.Event{
		{RunID: ok, Operation: progress.OperationOptimize, TS: now, Stage: progress.StageJobStart},
		{RunID: failed, Operation: "tags", TS: now, Stage: progress.StageJobStart},
		{RunID: ok, Operation: progress.OperationOptimize, TS: now, Stage: progress.StageJobDisconnect},
		{RunID: ok, Operation: progress.OperationOptimize, TS: now, Stage: progress.StageJobDone, Dur: 30 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsStarted.WithLabelValues("optimize")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsStarted.WithLabelValues("tags")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsDisconnected.WithLabelValues("optimize")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("optimize", "success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsRunning), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobRuntime, "optimizer_job_runtime_seconds"))

	// Finish arrives in a later batch and is replayed once.
	finish := progress.Event{RunID: failed, Operation: "tags", TS: now, Stage: progress.StageJobError, Note: "boom"}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{finish, finish}))
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.jobsRunning), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("tags", "error")), 1e-9)
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
