package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/video-optimizer-proxy/internal/cache"
	"github.com/JakeFAU/video-optimizer-proxy/internal/clock"
	idgen "github.com/JakeFAU/video-optimizer-proxy/internal/id/uuid"
	"github.com/JakeFAU/video-optimizer-proxy/internal/jobkey"
	"github.com/JakeFAU/video-optimizer-proxy/internal/metrics"
	"github.com/JakeFAU/video-optimizer-proxy/internal/policy/ratelimit"
	"github.com/JakeFAU/video-optimizer-proxy/internal/progress"
	"github.com/JakeFAU/video-optimizer-proxy/internal/publisher"
	"github.com/JakeFAU/video-optimizer-proxy/internal/session"
	"github.com/JakeFAU/video-optimizer-proxy/internal/storage"
	"github.com/JakeFAU/video-optimizer-proxy/internal/telemetry"
	"github.com/JakeFAU/video-optimizer-proxy/internal/youtube"
)

const (
	defaultRequestTimeout = 600 * time.Second
	defaultArchivePrefix  = "results"
	sideChannelTimeout    = 30 * time.Second
)

// Config tunes the Service.
type Config struct {
	// BaseURL and APIPrefix locate the upstream API, e.g.
	// https://app.taja.ai + /api/proxy/videos.
	BaseURL   string
	APIPrefix string
	// RequestTimeout bounds waiting for the session and, separately, the
	// in-page call.
	RequestTimeout     time.Duration
	ArchivePrefix      string
	ArchiveContentType string
	// NotifyTopic receives a publisher.Completion per finished optimize job.
	NotifyTopic string
}

// Dependencies are the collaborators of a Service. Sessions and Cache are
// required; the rest fall back to no-op implementations.
type Dependencies struct {
	Sessions  *session.Manager
	Cache     *cache.Cache
	Limiter   *ratelimit.Limiter
	Events    progress.Emitter
	Archive   storage.BlobStore
	Publisher publisher.Publisher
	Tracer    trace.Tracer
	Clock     clock.Clock
	// IDs mints run ids; defaults to time-ordered UUIDs.
	IDs    IDGenerator
	Logger *zap.Logger
}

// IDGenerator mints run ids for the progress event stream.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Service orchestrates optimize jobs and sub-operations.
type Service struct {
	cfg       Config
	sessions  *session.Manager
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	events    progress.Emitter
	archive   storage.BlobStore
	publisher publisher.Publisher
	tracer    trace.Tracer
	clock     clock.Clock
	ids       IDGenerator
	logger    *zap.Logger

	group singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
	closed  bool
	side    sync.WaitGroup
}

// New validates cfg and deps and returns a Service.
func New(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Sessions == nil {
		return nil, errors.New("jobs: session manager is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("jobs: cache is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("jobs: base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.APIPrefix = "/" + strings.Trim(cfg.APIPrefix, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = defaultArchivePrefix
	}
	if cfg.ArchiveContentType == "" {
		cfg.ArchiveContentType = "application/json"
	}
	s := &Service{
		cfg:       cfg,
		sessions:  deps.Sessions,
		cache:     deps.Cache,
		limiter:   deps.Limiter,
		events:    deps.Events,
		archive:   deps.Archive,
		publisher: deps.Publisher,
		tracer:    deps.Tracer,
		clock:     deps.Clock,
		ids:       deps.IDs,
		logger:    deps.Logger,
		flights:   make(map[string]*flight),
	}
	if s.events == nil {
		s.events = progress.Discard
	}
	if s.publisher == nil {
		s.publisher = publisher.Discard{}
	}
	if s.tracer == nil {
		s.tracer = telemetry.Tracer()
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.ids == nil {
		s.ids = idgen.NewUUIDGenerator()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// flight is one in-progress execution of a job id. It lives in
// Service.flights exactly as long as its execution runs.
type flight struct {
	jobID   string
	videoID string
	req     OptimizeRequest
	// ctx is detached from the creating caller so the upstream call outlives
	// a disconnect.
	ctx context.Context

	// guarded by Service.mu
	waiters   int
	finished  bool
	status    Status
	abandoned chan struct{}
	abandon   sync.Once
}

// Optimize returns the result for req, running the upstream job unless the
// result is cached. Concurrent calls with the same job id share one run.
// If ctx ends first the caller gets ctx's error while the run continues.
func (s *Service) Optimize(ctx context.Context, req OptimizeRequest) (Result, error) {
	videoID, err := youtube.ExtractVideoID(req.YouTubeURL)
	if err != nil {
		return nil, &InvalidInputError{Field: "youtube_url", Message: MsgInvalidVideoURL}
	}
	jobID := req.JobID(videoID)

	if res, ok := s.cachedResult(jobID); ok {
		metrics.ObserveCacheLookup(true)
		trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrCacheHit.Bool(true))
		s.logger.Debug("optimize served from cache", zap.String("job_id", jobID), zap.String("video_id", videoID))
		return res, nil
	}
	metrics.ObserveCacheLookup(false)

	f, ch := s.join(ctx, jobID, videoID, req)
	select {
	case r := <-ch:
		s.leave(f, false)
		if r.Err != nil {
			return nil, r.Err
		}
		res, _ := r.Val.(Result)
		return res, nil
	case <-ctx.Done():
		s.leave(f, true)
		return nil, fmt.Errorf("optimize %s: %w", videoID, ctx.Err())
	}
}

// Status reports the progress record for the job req identifies. It never
// runs a job.
func (s *Service) Status(_ context.Context, req OptimizeRequest) (ProgressRecord, error) {
	videoID, err := youtube.ExtractVideoID(req.YouTubeURL)
	if err != nil {
		return ProgressRecord{}, &InvalidInputError{Field: "youtube_url", Message: MsgInvalidVideoURL}
	}
	v, ok := s.cache.Get(jobkey.ProgressKey(req.JobID(videoID)))
	if !ok {
		return ProgressRecord{Status: StatusNotFound}, nil
	}
	rec, ok := v.(ProgressRecord)
	if !ok {
		return ProgressRecord{Status: StatusNotFound}, nil
	}
	return rec, nil
}

// Close waits for archive and notification work still in flight. Later
// completions skip their side channels.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.side.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for job side channels: %w", ctx.Err())
	}
}

func (s *Service) cachedResult(jobID string) (Result, bool) {
	v, ok := s.cache.Get(jobkey.ResultKey(jobID))
	if !ok {
		return nil, false
	}
	res, ok := v.(Result)
	return res, ok
}

// join attaches the caller to the flight for jobID, starting one if needed.
func (s *Service) join(ctx context.Context, jobID, videoID string, req OptimizeRequest) (*flight, <-chan singleflight.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flights[jobID]
	if !ok {
		f = &flight{
			jobID:     jobID,
			videoID:   videoID,
			req:       req,
			ctx:       context.WithoutCancel(ctx),
			abandoned: make(chan struct{}),
		}
		s.flights[jobID] = f
	} else {
		s.logger.Debug("joining in-flight job", zap.String("job_id", jobID), zap.Int("waiters", f.waiters))
	}
	f.waiters++
	ch := s.group.DoChan(jobID, func() (any, error) {
		return s.execute(f)
	})
	return f, ch
}

// leave detaches a caller. The last caller leaving early abandons the flight.
func (s *Service) leave(f *flight, cancelled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.waiters--
	if cancelled && f.waiters == 0 && !f.finished {
		f.abandon.Do(func() { close(f.abandoned) })
	}
}

// finish removes f from the registry so the next submission starts afresh.
func (s *Service) finish(f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.finished = true
	if s.flights[f.jobID] == f {
		delete(s.flights, f.jobID)
		s.group.Forget(f.jobID)
	}
}

// transition moves f's progress record to status unless the run already
// reached a terminal state.
func (s *Service) transition(f *flight, status Status, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.status.Terminal() {
		return false
	}
	f.status = status
	s.cache.Set(jobkey.ProgressKey(f.jobID), ProgressRecord{
		Status:    status,
		Message:   message,
		UpdatedAt: s.clock.Now().UTC().Format(time.RFC3339),
	})
	return true
}

type outcome struct {
	res Result
	err error
}

// execute runs one optimize job. It is the singleflight function for the
// flight's job id.
func (s *Service) execute(f *flight) (any, error) {
	defer s.finish(f)

	ctx, span := s.tracer.Start(f.ctx, "jobs.optimize", trace.WithAttributes(
		telemetry.AttrJobID.String(f.jobID),
		telemetry.AttrVideoID.String(f.videoID),
		telemetry.AttrOperation.String(string(OperationOptimize)),
		telemetry.AttrCacheHit.Bool(false),
	))
	defer span.End()
	logger := s.logger.With(zap.String("job_id", f.jobID), zap.String("video_id", f.videoID))

	acquireCtx, cancelAcquire := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	lease, err := s.sessions.Acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		s.transition(f, StatusFailed, err.Error())
		recordSpanError(span, err)
		logger.Error("acquire session failed", zap.Error(err))
		s.notify(ctx, f, StatusFailed, err)
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	defer lease.Release()

	r := s.newRun(OperationOptimize, f.jobID, f.videoID)
	s.transition(f, StatusStarted, "")
	s.emit(r, progress.StageJobStart, "")
	logger.Info("video optimization started", zap.String("run_id", r.id.String()))

	done := make(chan outcome, 1)
	go func() {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
		res, err := s.invoke(callCtx, lease, OperationOptimize, f.req.upstreamBody())
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-f.abandoned:
		select {
		case out = <-done:
		default:
			if lease.PageOpen() && s.transition(f, StatusDisconnected, "client disconnected") {
				s.emit(r, progress.StageJobDisconnect, "")
				logger.Warn("client disconnected, upstream call continues", zap.String("run_id", r.id.String()))
			}
			out = <-done
		}
	}

	if out.err != nil {
		if !errors.Is(out.err, errRateLimited) {
			lease.Invalidate("optimize failed: " + out.err.Error())
		}
		s.transition(f, StatusFailed, out.err.Error())
		s.emit(r, progress.StageJobError, out.err.Error())
		recordSpanError(span, out.err)
		logger.Error("video optimization failed", zap.String("run_id", r.id.String()), zap.Error(out.err))
		s.notify(ctx, f, StatusFailed, out.err)
		return nil, out.err
	}

	result := stripThumbnails(out.res)
	s.cache.Set(jobkey.ResultKey(f.jobID), result)
	s.transition(f, StatusComplete, "")
	s.emit(r, progress.StageJobDone, "")
	span.SetStatus(codes.Ok, "")
	logger.Info("video optimization completed", zap.String("run_id", r.id.String()))
	s.archiveAndNotify(ctx, f, result)
	return result, nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	var upErr *UpstreamError
	if errors.As(err, &upErr) && upErr.Status > 0 {
		span.SetAttributes(telemetry.AttrStatus.Int(upErr.Status))
	}
}
