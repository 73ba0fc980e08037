package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-optimizer-proxy/internal/browser"
	"github.com/JakeFAU/video-optimizer-proxy/internal/browser/browsertest"
	"github.com/JakeFAU/video-optimizer-proxy/internal/cache"
	"github.com/JakeFAU/video-optimizer-proxy/internal/config"
	"github.com/JakeFAU/video-optimizer-proxy/internal/jobs"
	"github.com/JakeFAU/video-optimizer-proxy/internal/progress"
	"github.com/JakeFAU/video-optimizer-proxy/internal/progress/sinks"
	"github.com/JakeFAU/video-optimizer-proxy/internal/session"
	"github.com/JakeFAU/video-optimizer-proxy/internal/storage/memory"
)

const (
	scenarioBaseURL  = "https://app.example.com"
	scenarioVideoURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
)

type scenario struct {
	server *Server
	site   *browsertest.Site
	engine *browsertest.Engine
	runs   *memory.RunStore
}

// newScenario wires the real session manager, job service and run audit
// pipeline around a simulated upstream site.
func newScenario(t *testing.T, api browsertest.Handler) *scenario {
	t.Helper()
	logger := zap.NewNop()
	site := browsertest.NewSite(scenarioBaseURL, "ops@example.com", "secret", api)
	engine := site.Engine()
	sessions, err := session.New(session.Config{
		BaseURL:        scenarioBaseURL,
		SignInPath:     "/signin",
		WorkspacePath:  "/optimize",
		DashboardPath:  "/dashboard",
		Email:          "ops@example.com",
		Password:       "secret",
		Browser:        browser.Options{NavigationTimeout: 100 * time.Millisecond},
		Launcher:       engine.Launcher(nil),
		Logger:         logger,
		SettleInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	runs := memory.NewRunStore(0)
	hub := progress.NewHub(progress.Config{MaxBatchEvents: 1, Logger: logger}, sinks.NewStoreSink(runs, logger))
	svc, err := jobs.New(jobs.Config{
		BaseURL:        scenarioBaseURL,
		APIPrefix:      "/api/proxy/videos",
		RequestTimeout: 2 * time.Second,
	}, jobs.Dependencies{
		Sessions: sessions,
		Cache:    cache.New(cache.Config{}),
		Events:   hub,
		Archive:  memory.NewBlobStore(0),
		Logger:   logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		_ = svc.Close(ctx)
		_ = hub.Close(ctx)
		_ = sessions.Close(ctx)
	})

	return &scenario{
		server: NewServer(svc, sessions, runs, config.Config{}, logger),
		site:   site,
		engine: engine,
		runs:   runs,
	}
}

func (sc *scenario) get(t *testing.T, ctx context.Context, target string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	sc.server.Handler().ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func optimizeQuery(videoURL string) string {
	q := url.Values{}
	q.Set("youtube_url", videoURL)
	q.Set("additional_context", "launch trailer")
	q.Add("voices_selection[]", "alloy")
	q.Set("output_language", "en")
	return q.Encode()
}

func videoRecord() map[string]any {
	return map[string]any{
		"youtube_id": "dQw4w9WgXcQ",
		"titles":     []any{"A", "B"},
		"youtube_optimized_thumbnails": map[string]any{
			"youtube_optimized_thumbnails": []any{},
		},
	}
}

func TestScenarioOptimizeSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	sc := newScenario(t, func(context.Context, string, map[string]any) (int, any) {
		calls.Add(1)
		return 200, videoRecord()
	})
	ctx := context.Background()
	query := optimizeQuery(scenarioVideoURL)

	code, body := sc.get(t, ctx, "/status?"+query)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "notfound", body["status"])

	code, body = sc.get(t, ctx, "/optimize?"+query)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "dQw4w9WgXcQ", body["youtube_id"])
	require.NotContains(t, body, "youtube_optimized_thumbnails")

	code, body = sc.get(t, ctx, "/status?"+query)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "complete", body["status"])

	// Same parameters through another URL shape hit the cache.
	code, _ = sc.get(t, ctx, "/optimize?"+optimizeQuery("https://youtu.be/dQw4w9WgXcQ"))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, int32(1), calls.Load())

	require.Eventually(t, func() bool {
		code, body := sc.get(t, ctx, "/runs?status=complete")
		runs, _ := body["runs"].([]any)
		return code == http.StatusOK && len(runs) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestScenarioMalformedURL(t *testing.T) {
	t.Parallel()

	sc := newScenario(t, func(context.Context, string, map[string]any) (int, any) {
		return 200, videoRecord()
	})
	ctx := context.Background()

	code, body := sc.get(t, ctx, "/optimize?"+optimizeQuery("https://example.com/not-a-video"))
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Please enter correct youtube Video URL!", body["message"])

	code, body = sc.get(t, ctx, "/status?"+optimizeQuery("https://example.com/not-a-video"))
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Please enter correct youtube Video URL!", body["message"])

	require.Empty(t, sc.site.Calls())
	require.Empty(t, sc.engine.Pages())
}

func TestScenarioUpstreamFailure(t *testing.T) {
	t.Parallel()

	sc := newScenario(t, func(context.Context, string, map[string]any) (int, any) {
		return 502, map[string]any{"detail": "bad gateway"}
	})
	ctx := context.Background()
	query := optimizeQuery(scenarioVideoURL)

	code, body := sc.get(t, ctx, "/optimize?"+query)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "An error occurred: HTTP error! status: 502", body["message"])

	_, body = sc.get(t, ctx, "/status?"+query)
	require.Equal(t, "failed", body["status"])

	pages := sc.engine.Pages()
	require.Len(t, pages, 1)
	require.True(t, pages[0].Closed())

	_, body = sc.get(t, ctx, "/readyz")
	sess := body["session"].(map[string]any)
	require.Equal(t, "unauthenticated", sess["state"])

	require.Eventually(t, func() bool {
		_, body := sc.get(t, ctx, "/runs?status=failed")
		runs, _ := body["runs"].([]any)
		return len(runs) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestScenarioClientDisconnect(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	sc := newScenario(t, func(ctx context.Context, _ string, _ map[string]any) (int, any) {
		calls.Add(1)
		started <- struct{}{}
		select {
		case <-release:
			return 200, videoRecord()
		case <-ctx.Done():
			return 504, "timeout"
		}
	})
	query := optimizeQuery(scenarioVideoURL)

	reqCtx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		code, _ := sc.get(t, reqCtx, "/optimize?"+query)
		done <- code
	}()
	<-started
	cancel()
	require.Equal(t, statusClientClosedRequest, <-done)

	ctx := context.Background()
	require.Eventually(t, func() bool {
		_, body := sc.get(t, ctx, "/status?"+query)
		return body["status"] == "disconnected"
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		code, body := sc.get(t, ctx, "/optimize?"+query)
		return code == http.StatusOK && body["youtube_id"] == "dQw4w9WgXcQ"
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), calls.Load(), "the cached result answers the retry")

	_, body := sc.get(t, ctx, "/status?"+query)
	require.Equal(t, "disconnected", body["status"])
}
