package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/video-optimizer-proxy/internal/store"
)

// DefaultRunCapacity bounds how many runs RunStore retains.
const DefaultRunCapacity = 1000

// RunStore is an in-process store.RunRepository used when no database is
// configured. Once full, the oldest started run is evicted.
type RunStore struct {
	mu       sync.RWMutex
	capacity int
	runs     map[uuid.UUID]store.JobRun
	order    []uuid.UUID
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs a RunStore. capacity <= 0 uses DefaultRunCapacity.
func NewRunStore(capacity int) *RunStore {
	if capacity <= 0 {
		capacity = DefaultRunCapacity
	}
	return &RunStore{
		capacity: capacity,
		runs:     make(map[uuid.UUID]store.JobRun),
	}
}

// StartRun records a running run. Replays of the same id are ignored.
func (s *RunStore) StartRun(_ context.Context, run store.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.RunID]; exists {
		return nil
	}
	run.Status = store.RunRunning
	run.FinishedAt = nil
	run.ErrorMessage = nil
	s.runs[run.RunID] = run
	s.order = append(s.order, run.RunID)
	for len(s.order) > s.capacity {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// FinishRun records the outcome of a run.
func (s *RunStore) FinishRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("finish run %s: %w", runID, store.ErrNotFound)
	}
	run.Status = status
	run.FinishedAt = pointerTime(finishedAt)
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// MarkDisconnected stamps the first disconnect time.
func (s *RunStore) MarkDisconnected(_ context.Context, runID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("mark run %s disconnected: %w", runID, store.ErrNotFound)
	}
	if run.DisconnectedAt == nil {
		run.DisconnectedAt = pointerTime(at)
		s.runs[runID] = run
	}
	return nil
}

// GetRun returns a copy of the run.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.JobRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns matching runs newest first.
func (s *RunStore) ListRuns(_ context.Context, filter store.RunFilter, limit, offset int) ([]store.JobRun, error) {
	s.mu.RLock()
	matched := make([]store.JobRun, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.JobID != "" && run.JobID != filter.JobID {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		matched = append(matched, run)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	if offset >= len(matched) {
		return []store.JobRun{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
