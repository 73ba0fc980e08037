package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-optimizer-proxy/internal/config"
	"github.com/JakeFAU/video-optimizer-proxy/internal/jobs"
	"github.com/JakeFAU/video-optimizer-proxy/internal/metrics"
	"github.com/JakeFAU/video-optimizer-proxy/internal/session"
	"github.com/JakeFAU/video-optimizer-proxy/internal/store"
)

// statusClientClosedRequest is logged when the caller left before the job
// finished. Nobody reads the response.
const statusClientClosedRequest = 499

// Optimizer is the job surface the routes drive.
type Optimizer interface {
	Optimize(ctx context.Context, req jobs.OptimizeRequest) (jobs.Result, error)
	Status(ctx context.Context, req jobs.OptimizeRequest) (jobs.ProgressRecord, error)
	Refine(ctx context.Context, op jobs.Operation, req jobs.RefineRequest) (jobs.Result, error)
}

// SessionReporter exposes the browser session state for readiness.
type SessionReporter interface {
	State() session.Snapshot
}

// Server wires HTTP handlers to the job service and the run audit store.
type Server struct {
	router    chi.Router
	optimizer Optimizer
	sessions  SessionReporter
	runs      *RunHandler
	logger    *zap.Logger
}

// refineRoutes maps sub-operation routes onto job operations.
var refineRoutes = map[string]jobs.Operation{
	"/youtube-titles-ranked":             jobs.OperationTitles,
	"/youtube-tags":                      jobs.OperationTags,
	"/youtube-description":               jobs.OperationDescription,
	"/youtube-description-chapters-tags": jobs.OperationDescriptionChaptersTags,
	"/youtube-generate-thumbnails":       jobs.OperationThumbnails,
}

// NewServer constructs a Server with middleware and routes. runs may be nil,
// in which case the /runs routes answer 503.
func NewServer(
	optimizer Optimizer,
	sessions SessionReporter,
	runs store.RunRepository,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		optimizer: optimizer,
		sessions:  sessions,
		runs:      NewRunHandler(runs, logger),
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/", s.root)
		r.Get("/optimize", s.optimize)
		r.Get("/status", s.status)
		for route, op := range refineRoutes {
			r.Get(route, s.refine(op))
		}
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.runs.ListRuns)
			r.Get("/{run_id}", s.runs.GetRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Server running..."})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ready"}
	if s.sessions != nil {
		body["session"] = s.sessions.State()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) optimize(w http.ResponseWriter, r *http.Request) {
	req := parseOptimizeRequest(r)
	res, err := s.optimizer.Optimize(r.Context(), req)
	if err != nil {
		s.writeOptimizeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	rec, err := s.optimizer.Status(r.Context(), parseOptimizeRequest(r))
	if err != nil {
		if jobs.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("status lookup failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "An error occurred: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) refine(op jobs.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := jobs.RefineRequest{
			SelectedTitle: q.Get("selected_title"),
			VideoID:       q.Get("video_id"),
		}
		if op == jobs.OperationThumbnails {
			req.WithCaption, _ = strconv.ParseBool(q.Get("with_caption"))
		}
		res, err := s.optimizer.Refine(r.Context(), op, req)
		if err != nil {
			s.writeRefineError(w, r, op, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// writeOptimizeError maps job failures on /optimize: bad input and upstream
// rejections are the caller's 400, anything else is ours.
func (s *Server) writeOptimizeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case jobs.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case clientGone(r, err):
		s.logger.Info("client disconnected before optimize finished", zap.Error(err))
		w.WriteHeader(statusClientClosedRequest)
	case jobs.IsUpstream(err):
		s.logger.Error("video optimization failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "An error occurred: "+err.Error())
	default:
		s.logger.Error("video optimization failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "An error occurred: "+err.Error())
	}
}

func (s *Server) writeRefineError(w http.ResponseWriter, r *http.Request, op jobs.Operation, err error) {
	switch {
	case jobs.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case clientGone(r, err):
		s.logger.Info("client disconnected before sub-operation finished", zap.String("operation", string(op)))
		w.WriteHeader(statusClientClosedRequest)
	default:
		s.logger.Error("sub-operation failed", zap.String("operation", string(op)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func clientGone(r *http.Request, err error) bool {
	return r.Context().Err() != nil && errors.Is(err, r.Context().Err())
}

// parseOptimizeRequest reads the /optimize and /status query. Voices may be
// sent as voices_selection[] or repeated voices_selection.
func parseOptimizeRequest(r *http.Request) jobs.OptimizeRequest {
	q := r.URL.Query()
	voices := q["voices_selection[]"]
	if len(voices) == 0 {
		voices = q["voices_selection"]
	}
	return jobs.OptimizeRequest{
		YouTubeURL:        q.Get("youtube_url"),
		AdditionalContext: q.Get("additional_context"),
		Voices:            voices,
		OutputLanguage:    q.Get("output_language"),
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("request_id", RequestID(r.Context())),
						zap.Stack("stack"),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
