package lifecycle

import (
	"testing"
	"time"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

func TestValidateTransition(t *testing.T) {
	t.Parallel()

	legal := [][2]State{
		{StateIdle, StateDue},
		{StateDue, StateCollecting},
		{StateCollecting, StateCooldown},
		{StateCollecting, StateErroring},
		{StateCooldown, StateIdle},
		{StateErroring, StateIdle},
		{StateIdle, StatePaused},
		{StatePaused, StateIdle},
	}
	for _, tr := range legal {
		if err := ValidateTransition(tr[0], tr[1]); err != nil {
			t.Fatalf("expected %s -> %s to be legal: %v", tr[0], tr[1], err)
		}
	}

	illegal := [][2]State{
		{StatePaused, StateCollecting},
		{StatePaused, StateDue},
		{StateIdle, StateCollecting},
		{StateCooldown, StateCollecting},
	}
	for _, tr := range illegal {
		if err := ValidateTransition(tr[0], tr[1]); err == nil {
			t.Fatalf("expected %s -> %s to be rejected", tr[0], tr[1])
		}
	}
	if err := ValidateTransition("bogus", StateIdle); err == nil {
		t.Fatal("expected unknown state to be rejected")
	}
}

func TestStateOf(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	src := ingest.Source{IsActive: true, NextSync: now}

	if got := StateOf(src, now, false); got != StateDue {
		t.Fatalf("expected due, got %s", got)
	}
	if got := StateOf(src, now, true); got != StateCollecting {
		t.Fatalf("expected collecting, got %s", got)
	}
	src.IsPaused = true
	if got := StateOf(src, now, true); got != StatePaused {
		t.Fatalf("expected paused to win, got %s", got)
	}
	src.IsPaused = false
	src.NextSync = now.Add(time.Hour)
	if got := StateOf(src, now, false); got != StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if got := OutcomeState(ingest.SyncOutcome{Success: true}); got != StateCooldown {
		t.Fatalf("expected cooldown, got %s", got)
	}
	if got := OutcomeState(ingest.SyncOutcome{}); got != StateErroring {
		t.Fatalf("expected erroring, got %s", got)
	}
}
