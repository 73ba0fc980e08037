package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/video-optimizer-proxy/internal/progress"
	"github.com/JakeFAU/video-optimizer-proxy/internal/store"
)

// StoreSink writes the job run audit trail through a store.RunRepository.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies each event in order. A failing event does not stop the
// rest of the batch; the errors are joined.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if err := s.apply(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *StoreSink) apply(ctx context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageJobStart:
		err := s.repo.StartRun(ctx, store.JobRun{
			RunID:     evt.RunID,
			JobID:     evt.JobID,
			VideoID:   evt.VideoID,
			Operation: string(evt.Operation),
			StartedAt: evt.TS,
			Status:    store.RunRunning,
		})
		if err != nil {
			return fmt.Errorf("start run %s: %w", evt.RunID, err)
		}
	case progress.StageJobDone:
		if err := s.repo.FinishRun(ctx, evt.RunID, evt.TS, store.RunComplete, nil); err != nil {
			return fmt.Errorf("finish run %s: %w", evt.RunID, err)
		}
	case progress.StageJobError:
		note := evt.Note
		if err := s.repo.FinishRun(ctx, evt.RunID, evt.TS, store.RunFailed, &note); err != nil {
			return fmt.Errorf("finish run %s: %w", evt.RunID, err)
		}
	case progress.StageJobDisconnect:
		if err := s.repo.MarkDisconnected(ctx, evt.RunID, evt.TS); err != nil {
			return fmt.Errorf("mark run %s disconnected: %w", evt.RunID, err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
