package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/video-optimizer-proxy/internal/progress"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunID),
			zap.String("job_id", evt.JobID),
			zap.String("video_id", evt.VideoID),
			zap.String("operation", string(evt.Operation)),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Stage == progress.StageJobError {
			s.logger.Warn("job progress", append(fields, zap.String("note", evt.Note))...)
			continue
		}
		s.logger.Info("job progress", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
