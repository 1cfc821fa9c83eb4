package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		RunID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:    time.Unix(0, 0),
		Stage: StageRunStart,
		Count: 12,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleReporter shows a worker reporting item results for one run.
func ExampleReporter() {
	var failed int
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageItemError {
				failed++
			}
		}
		return nil
	})
	hub := NewHub(Config{MaxBatchEvents: 1, MaxBatchWait: time.Second}, capture)
	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000002"))
	reporter := NewReporter(hub, runID, "extract", nil)

	reporter.Emit(Event{Stage: StageItemDone, Index: 0, URL: "https://example.com/@a/video/1"})
	reporter.Emit(Event{Stage: StageItemError, Index: 1, URL: "https://example.com/@a/video/2", Note: "timeout"})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("failed items: %d\n", failed)
	// Output:
	// failed items: 1
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
