package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-optimizer-proxy/internal/storage/memory"
	"github.com/JakeFAU/video-optimizer-proxy/internal/store"
)

// ExampleRunHandler_ListRuns shows how to serve the /runs endpoint.
func ExampleRunHandler_ListRuns() {
	repo := memory.NewRunStore(0)
	if err := repo.StartRun(context.Background(), store.JobRun{
		RunID:     uuid.MustParse("00000000-0000-0000-0000-0000000000aa"),
		JobID:     "4684670d934eefc17143b029803c83ac293ce86ffd3f408d9368edbebd0e3385",
		Operation: "optimize",
		StartedAt: time.Unix(0, 0),
	}); err != nil {
		panic(err)
	}
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/runs?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	var payload struct {
		Runs []map[string]any `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned runs: %d, status: %s\n", len(payload.Runs), payload.Runs[0]["status"])
	// Output:
	// returned runs: 1, status: running
}
