package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-optimizer-proxy/internal/jobkey"
	"github.com/JakeFAU/video-optimizer-proxy/internal/progress"
	"github.com/JakeFAU/video-optimizer-proxy/internal/telemetry"
)

// Refine runs a sub-operation against an already optimized video and returns
// the refreshed record. When the record names its video, it replaces the
// cached result of the job it belongs to. Thumbnails come back as a flat list
// of URLs under youtube_optimized_thumbnails.
//
// Like Optimize, the upstream call is not aborted when ctx ends.
func (s *Service) Refine(ctx context.Context, op Operation, req RefineRequest) (Result, error) {
	if _, ok := op.UpstreamPath(); !ok || op == OperationOptimize {
		return nil, &InvalidInputError{Field: "operation", Message: fmt.Sprintf("unknown operation %q", op)}
	}
	if strings.TrimSpace(req.VideoID) == "" {
		return nil, &InvalidInputError{Field: "video_id", Message: "video_id is required"}
	}
	payload := map[string]any{
		"selected_title": req.SelectedTitle,
		"video_id":       req.VideoID,
	}
	if op == OperationThumbnails {
		payload["with_caption_in_images"] = req.WithCaption
	}

	done := make(chan outcome, 1)
	go func() {
		res, err := s.refine(context.WithoutCancel(ctx), op, req.VideoID, payload)
		done <- outcome{res: res, err: err}
	}()
	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		s.logger.Info("client left sub-operation, upstream call continues",
			zap.String("operation", string(op)), zap.String("video_id", req.VideoID))
		return nil, fmt.Errorf("%s %s: %w", op, req.VideoID, ctx.Err())
	}
}

func (s *Service) refine(ctx context.Context, op Operation, videoID string, payload map[string]any) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "jobs.refine", trace.WithAttributes(
		telemetry.AttrOperation.String(string(op)),
		telemetry.AttrVideoID.String(videoID),
	))
	defer span.End()
	logger := s.logger.With(zap.String("operation", string(op)), zap.String("video_id", videoID))

	acquireCtx, cancelAcquire := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	lease, err := s.sessions.Acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		recordSpanError(span, err)
		logger.Error("acquire session failed", zap.Error(err))
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	defer lease.Release()

	r := s.newRun(op, "", videoID)
	s.emit(r, progress.StageJobStart, "")

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	res, err := s.invoke(callCtx, lease, op, payload)
	cancel()
	if err != nil {
		if !errors.Is(err, errRateLimited) {
			lease.Invalidate(string(op) + " failed: " + err.Error())
		}
		s.emit(r, progress.StageJobError, err.Error())
		recordSpanError(span, err)
		logger.Error("sub-operation failed", zap.String("run_id", r.id.String()), zap.Error(err))
		return nil, err
	}

	var record Result
	if op == OperationThumbnails {
		record = flattenThumbnails(res)
	} else {
		record = stripThumbnails(res)
	}
	if jobID, recVideoID, ok := recordJobID(record); ok {
		r.jobID = jobID
		s.cache.Set(jobkey.ResultKey(jobID), record)
		span.SetAttributes(telemetry.AttrJobID.String(jobID))
		logger.Debug("refreshed cached result", zap.String("job_id", jobID), zap.String("record_video_id", recVideoID))
		s.background(ctx, func(ctx context.Context) {
			s.archiveResult(ctx, jobID, record)
		})
	}
	s.emit(r, progress.StageJobDone, "")
	span.SetStatus(codes.Ok, "")
	logger.Info("sub-operation completed", zap.String("run_id", r.id.String()))
	return record, nil
}
