package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-optimizer-proxy/internal/browser"
	"github.com/JakeFAU/video-optimizer-proxy/internal/metrics"
	"github.com/JakeFAU/video-optimizer-proxy/internal/progress"
	"github.com/JakeFAU/video-optimizer-proxy/internal/session"
)

// errRateLimited marks calls that never reached the page because the
// limiter wait failed. They leave the session alone.
var errRateLimited = errors.New("upstream rate limit")

func (s *Service) endpoint(path string) string {
	return s.cfg.BaseURL + s.cfg.APIPrefix + "/" + path
}

// invoke POSTs payload to op's upstream path from inside the leased page and
// decodes the JSON reply.
func (s *Service) invoke(ctx context.Context, lease *session.Lease, op Operation, payload any) (Result, error) {
	path, ok := op.UpstreamPath()
	if !ok {
		return nil, fmt.Errorf("no upstream path for operation %q", op)
	}
	if err := s.limiter.Wait(ctx, string(op)); err != nil {
		return nil, fmt.Errorf("%w: %w", errRateLimited, err)
	}
	script, err := browser.FetchScript(s.endpoint(path), payload)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var res browser.FetchResult
	if err := lease.Page().Evaluate(ctx, script, &res); err != nil {
		metrics.ObserveUpstreamCall(string(op), 0, time.Since(start))
		if errors.Is(err, browser.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &session.TimeoutError{Op: "upstream " + path, Err: err}
		}
		return nil, fmt.Errorf("upstream %s: %w", path, err)
	}
	metrics.ObserveUpstreamCall(string(op), res.Status, time.Since(start))

	if !res.OK {
		return nil, &UpstreamError{Path: path, Status: res.Status, Body: truncateBody(res.Body)}
	}
	var out Result
	if err := json.Unmarshal([]byte(res.Body), &out); err != nil {
		return nil, &UpstreamError{Path: path, Status: res.Status, Body: truncateBody(res.Body), Err: fmt.Errorf("decode response: %w", err)}
	}
	if out == nil {
		return nil, &UpstreamError{Path: path, Status: res.Status, Err: errors.New("empty response")}
	}
	return out, nil
}

// run identifies one upstream call for the progress event stream.
type run struct {
	id      uuid.UUID
	op      Operation
	jobID   string
	videoID string
	started time.Time
}

func (s *Service) newRun(op Operation, jobID, videoID string) *run {
	id, err := s.ids.NewRunID()
	if err != nil {
		s.logger.Warn("run id generation failed, using random id", zap.Error(err))
		id = uuid.New()
	}
	return &run{id: id, op: op, jobID: jobID, videoID: videoID, started: s.clock.Now()}
}

func (s *Service) emit(r *run, stage progress.Stage, note string) {
	now := s.clock.Now()
	evt := progress.Event{
		RunID:     r.id,
		JobID:     r.jobID,
		VideoID:   r.videoID,
		Operation: progress.Operation(r.op),
		TS:        now,
		Stage:     stage,
		Note:      note,
	}
	if stage.Terminal() {
		evt.Dur = now.Sub(r.started)
	}
	s.events.Emit(evt)
}
