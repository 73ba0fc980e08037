// Package server builds the optimizer proxy from configuration and runs it
// until the process is signalled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-optimizer-proxy/internal/api"
	"github.com/JakeFAU/video-optimizer-proxy/internal/browser"
	chromedpengine "github.com/JakeFAU/video-optimizer-proxy/internal/browser/chromedp"
	playwrightengine "github.com/JakeFAU/video-optimizer-proxy/internal/browser/playwright"
	"github.com/JakeFAU/video-optimizer-proxy/internal/cache"
	"github.com/JakeFAU/video-optimizer-proxy/internal/clock"
	"github.com/JakeFAU/video-optimizer-proxy/internal/config"
	idgen "github.com/JakeFAU/video-optimizer-proxy/internal/id/uuid"
	"github.com/JakeFAU/video-optimizer-proxy/internal/jobs"
	"github.com/JakeFAU/video-optimizer-proxy/internal/logging"
	"github.com/JakeFAU/video-optimizer-proxy/internal/metrics"
	"github.com/JakeFAU/video-optimizer-proxy/internal/policy/ratelimit"
	"github.com/JakeFAU/video-optimizer-proxy/internal/progress"
	progresssinks "github.com/JakeFAU/video-optimizer-proxy/internal/progress/sinks"
	"github.com/JakeFAU/video-optimizer-proxy/internal/publisher"
	memorypublisher "github.com/JakeFAU/video-optimizer-proxy/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/video-optimizer-proxy/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/video-optimizer-proxy/internal/publisher/pubsub"
	"github.com/JakeFAU/video-optimizer-proxy/internal/session"
	"github.com/JakeFAU/video-optimizer-proxy/internal/storage"
	gcsstorage "github.com/JakeFAU/video-optimizer-proxy/internal/storage/gcs"
	localstorage "github.com/JakeFAU/video-optimizer-proxy/internal/storage/local"
	memorystorage "github.com/JakeFAU/video-optimizer-proxy/internal/storage/memory"
	pgstore "github.com/JakeFAU/video-optimizer-proxy/internal/storage/postgres"
	"github.com/JakeFAU/video-optimizer-proxy/internal/store"
	"github.com/JakeFAU/video-optimizer-proxy/internal/telemetry"
)

// Bounds for the in-process backends. memoryRunCapacity covers the audit
// trail kept when no database is configured.
const (
	memoryRunCapacity     = 1000
	memoryArchiveCapacity = 1000
	memoryNotifyCapacity  = 1000
)

type closer interface {
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg     config.Config
	version string
	logger  *zap.Logger

	apiServer   *api.Server
	jobs        *jobs.Service
	sessions    *session.Manager
	cache       *cache.Cache
	progressHub *progress.Hub
	runRepo     store.RunRepository
	pgRuns      *pgstore.RunStore
	archive     storage.BlobStore
	publisher   publisher.Publisher
	tracer      *sdktrace.TracerProvider
}

// Options tune Build beyond the config file.
type Options struct {
	Version string
	// Registerer receives the progress collectors; defaults to the global
	// Prometheus registry.
	Registerer prometheus.Registerer
	// Launcher overrides the browser engine selected by browser.engine.
	Launcher browser.Launcher
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, version: opts.Version, logger: logger}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.String("browser_engine", cfg.Browser.Engine),
		zap.String("upstream_email", cfg.Upstream.Email),
		zap.String("upstream_password", logging.Redact(cfg.Upstream.Password)),
	)

	app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     opts.Version,
		Exporter:    cfg.Telemetry.Exporter,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err = app.setupRunStore(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	events, err := app.setupProgress(ctx, opts.Registerer)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err = app.setupArchive(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	topic, err := app.setupPublisher(ctx)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err = app.setupSessions(opts.Launcher); err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.cache = cache.New(cache.Config{
		TTL:           cfg.CacheTTL(),
		SweepInterval: cfg.SweepInterval(),
	})

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})
		logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
		)
	}

	app.jobs, err = jobs.New(jobs.Config{
		BaseURL:            cfg.Upstream.BaseURL,
		APIPrefix:          cfg.Upstream.APIPrefix,
		RequestTimeout:     cfg.RequestTimeout(),
		ArchivePrefix:      cfg.Artifacts.Prefix,
		ArchiveContentType: cfg.Artifacts.ContentType,
		NotifyTopic:        topic,
	}, jobs.Dependencies{
		Sessions:  app.sessions,
		Cache:     app.cache,
		Limiter:   limiter,
		Events:    events,
		Archive:   app.archive,
		Publisher: app.publisher,
		Tracer:    app.tracer.Tracer(telemetry.TracerName),
		Clock:     clock.New(),
		IDs:       idgen.NewUUIDGenerator(),
		Logger:    logger.Named("jobs"),
	})
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("job service init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.jobs, app.sessions, app.runRepo, cfg, logger.Named("api"))
	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: time.Duration(a.cfg.Server.ReadHeaderTimeoutSec) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port), zap.String("version", a.version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	grace := time.Duration(a.cfg.Server.ShutdownGracePeriodSec) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	// Closing the browser first unblocks handlers waiting on page calls.
	if err := a.sessions.Close(shutdownCtx); err != nil {
		a.logger.Warn("session manager close failed", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases everything Build acquired. It is safe on a partially
// built App.
func (a *App) Close(ctx context.Context) {
	if a.sessions != nil {
		if err := a.sessions.Close(ctx); err != nil {
			a.logger.Warn("session manager close failed", zap.Error(err))
		}
	}
	if a.jobs != nil {
		if err := a.jobs.Close(ctx); err != nil {
			a.logger.Warn("job service close failed", zap.Error(err))
		}
	}
	if a.cache != nil {
		a.cache.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if c, ok := a.publisher.(closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if c, ok := a.archive.(closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("archive close failed", zap.Error(err))
		}
	}
	if a.pgRuns != nil {
		a.pgRuns.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
}

func (a *App) setupRunStore(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database dsn configured, keeping job runs in memory",
			zap.Int("capacity", memoryRunCapacity))
		a.runRepo = memorystorage.NewRunStore(memoryRunCapacity)
		return nil
	}
	runs, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		Table:           a.cfg.Database.Table,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.pgRuns = runs
	if err := runs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run store schema: %w", err)
	}
	a.runRepo = runs
	a.logger.Info("postgres run store initialized", zap.String("table", a.cfg.Database.Table))
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return progress.Discard, nil
	}
	var sinkList []progress.Sink
	if a.runRepo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runRepo, a.logger.Named("progress_store")))
	}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if a.cfg.Progress.PrometheusEnabled {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return nil, fmt.Errorf("progress prometheus sink: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if len(sinkList) == 0 {
		a.logger.Warn("progress tracking enabled but no sinks configured")
		return progress.Discard, nil
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}

func (a *App) setupArchive(ctx context.Context) error {
	var err error
	switch a.cfg.Artifacts.Backend {
	case "gcs":
		a.archive, err = gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket:       a.cfg.Artifacts.Bucket,
			VerifyBucket: true,
		})
		if err != nil {
			return fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Artifacts.Bucket))
	case "local":
		a.archive, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Artifacts.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("using local archive", zap.String("path", a.cfg.Artifacts.Local.BaseDir))
	case "memory":
		a.logger.Info("using in-memory archive", zap.Int("capacity", memoryArchiveCapacity))
		a.archive = memorystorage.NewBlobStore(memoryArchiveCapacity)
	default:
		a.logger.Info("result archive disabled")
	}
	return nil
}

// setupPublisher returns the topic completions are published to; empty
// disables notifications.
func (a *App) setupPublisher(ctx context.Context) (string, error) {
	switch a.cfg.Notify.Backend {
	case "pubsub":
		pub, err := gcppublisher.Open(ctx, a.cfg.Notify.PubSub.ProjectID, a.cfg.Notify.PubSub.TopicName)
		if err != nil {
			return "", fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = pub
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Notify.PubSub.ProjectID),
			zap.String("topic", a.cfg.Notify.PubSub.TopicName),
		)
		return a.cfg.Notify.PubSub.TopicName, nil
	case "nats":
		pub, err := natspublisher.Connect(natspublisher.Config{
			URL:  a.cfg.Notify.NATS.URL,
			Name: a.cfg.Notify.NATS.ClientName,
		})
		if err != nil {
			return "", fmt.Errorf("nats publisher init failed: %w", err)
		}
		a.publisher = pub
		a.logger.Info("NATS publisher initialized",
			zap.String("url", a.cfg.Notify.NATS.URL),
			zap.String("subject", a.cfg.Notify.Subject),
		)
		return a.cfg.Notify.Subject, nil
	case "memory":
		a.logger.Info("using in-memory publisher", zap.Int("capacity", memoryNotifyCapacity))
		a.publisher = memorypublisher.New(memoryNotifyCapacity)
		return a.cfg.Notify.Subject, nil
	default:
		a.publisher = publisher.Discard{}
		return "", nil
	}
}

func (a *App) setupSessions(launcher browser.Launcher) error {
	if launcher == nil {
		switch a.cfg.Browser.Engine {
		case "playwright":
			launcher = playwrightengine.Launch
		default:
			launcher = chromedpengine.Launch
		}
	}
	if a.cfg.Upstream.Email == "" || a.cfg.Upstream.Password == "" {
		a.logger.Warn("upstream credentials not set, sign-in relies on a persisted browser profile",
			zap.String("user_data_dir", a.cfg.Browser.UserDataDir))
	}
	var err error
	a.sessions, err = session.New(session.Config{
		BaseURL:       a.cfg.Upstream.BaseURL,
		SignInPath:    a.cfg.Upstream.SignInPath,
		WorkspacePath: a.cfg.Upstream.WorkspacePath,
		DashboardPath: a.cfg.Upstream.DashboardPath,
		Email:         a.cfg.Upstream.Email,
		Password:      a.cfg.Upstream.Password,
		Browser: browser.Options{
			Headless:          a.cfg.Browser.Headless,
			UserDataDir:       a.cfg.Browser.UserDataDir,
			ViewportWidth:     a.cfg.Browser.ViewportWidth,
			ViewportHeight:    a.cfg.Browser.ViewportHeight,
			UserAgent:         a.cfg.Browser.UserAgent,
			NavigationTimeout: a.cfg.NavigationTimeout(),
			InstallDriver:     a.cfg.Browser.InstallDriver,
		},
		Launcher: launcher,
		Logger:   a.logger.Named("session"),
	})
	if err != nil {
		return fmt.Errorf("session manager init failed: %w", err)
	}
	return nil
}
