package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/video-optimizer-proxy/internal/progress"
)

// PrometheusSink exports job lifecycle metrics derived from progress events.
type PrometheusSink struct {
	jobsStarted      *prometheus.CounterVec
	jobsCompleted    *prometheus.CounterVec
	jobsDisconnected *prometheus.CounterVec
	jobsRunning      prometheus.Gauge
	jobRuntime       *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_jobs_started_total",
			Help: "Upstream job runs started, by operation.",
		}, []string{"operation"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_jobs_completed_total",
			Help: "Upstream job runs finished, by operation and result.",
		}, []string{"operation", "result"}),
		jobsDisconnected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_jobs_disconnected_total",
			Help: "Runs whose clients left before the upstream call returned.",
		}, []string{"operation"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optimizer_jobs_running",
			Help: "Upstream job runs currently in flight.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optimizer_job_runtime_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"operation", "result"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsDisconnected,
		s.jobsRunning,
		s.jobRuntime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		op := string(evt.Operation)
		switch evt.Stage {
		case progress.StageJobStart:
			s.jobsStarted.WithLabelValues(op).Inc()
			if s.tracker.start(evt.RunID) {
				s.jobsRunning.Inc()
			}
		case progress.StageJobDisconnect:
			s.jobsDisconnected.WithLabelValues(op).Inc()
		case progress.StageJobDone:
			s.finish(evt, "success")
		case progress.StageJobError:
			s.finish(evt, "error")
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	op := string(evt.Operation)
	s.jobsCompleted.WithLabelValues(op, result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(op, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.jobsRunning.Dec()
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// runTracker keeps the running gauge honest when a start and its finish
// arrive in separate batches or a finish is replayed.
type runTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[uuid.UUID]struct{})}
}

func (t *runTracker) start(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
