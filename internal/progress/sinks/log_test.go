package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/video-optimizer-proxy/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := uuid.New()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, JobID: "abc", Operation: progress.OperationOptimize, Stage: progress.StageJobStart, TS: time.Now()},
		{RunID: runID, JobID: "abc", Operation: progress.OperationOptimize, Stage: progress.StageJobError,
			TS: time.Now(), Dur: time.Second, Note: "upstream returned 502"},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "upstream returned 502", entries[1].ContextMap()["note"])
	require.Equal(t, runID.String(), entries[0].ContextMap()["run_id"])
}
