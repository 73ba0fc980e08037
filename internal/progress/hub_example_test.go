package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	var total int
	sink := sinkFunc(func(_ context.Context, batch []Event) error {
		total += len(batch)
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		RunID:     uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		JobID:     "4684670d934eefc17143b029803c83ac293ce86ffd3f408d9368edbebd0e3385",
		Operation: OperationOptimize,
		TS:        time.Unix(0, 0),
		Stage:     StageJobStart,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", total)
	// Output:
	// events forwarded: 1
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
