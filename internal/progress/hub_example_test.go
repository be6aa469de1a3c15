package progress

import (
	"context"
	"fmt"
	"time"
)

type countingSink struct {
	docs int
}

func (s *countingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		s.docs += evt.Documents
	}
	return nil
}

func (s *countingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit emits a finished run and flushes it via Close.
func ExampleHub_Emit() {
	sink := &countingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Second}, sink)

	hub.Emit(Event{
		RunID:     NewRunID(),
		SourceID:  "feed-1",
		TS:        time.Unix(0, 0),
		Stage:     StageSyncDone,
		Documents: 3,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("documents reported: %d\n", sink.docs)
	// Output:
	// documents reported: 3
}
