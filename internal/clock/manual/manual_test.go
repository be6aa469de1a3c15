package manual

import (
	"testing"
	"time"
)

func TestClockAdvanceAndSet(t *testing.T) {
	t.Parallel()

	start := time.Unix(1700000000, 0).UTC()
	clk := New(start)
	if got := clk.Now(); !got.Equal(start) {
		t.Fatalf("expected %v, got %v", start, got)
	}
	if got := clk.Advance(6 * time.Hour); !got.Equal(start.Add(6 * time.Hour)) {
		t.Fatalf("unexpected advance result %v", got)
	}
	clk.Set(start)
	if got := clk.Now(); !got.Equal(start) {
		t.Fatalf("expected reset to %v, got %v", start, got)
	}
}
