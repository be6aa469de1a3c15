package lifecycle

import (
	"fmt"
	"time"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

// State is a Source's position in the collection lifecycle.
type State string

// Lifecycle states.
const (
	StateIdle       State = "idle"
	StateDue        State = "due"
	StateCollecting State = "collecting"
	StateCooldown   State = "cooldown"
	StateErroring   State = "erroring"
	StatePaused     State = "paused"
)

var validTransitions = map[State][]State{
	StateIdle:       {StateDue, StatePaused},
	StateDue:        {StateCollecting, StatePaused},
	StateCollecting: {StateCooldown, StateErroring, StatePaused},
	StateCooldown:   {StateIdle, StatePaused},
	StateErroring:   {StateIdle, StatePaused},
	StatePaused:     {StateIdle},
}

// ValidateTransition returns an error when from→to is not a legal move.
func ValidateTransition(from, to State) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source state: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition from %s to %s", from, to)
}

// StateOf derives the current state of a source. Cooldown and Erroring are
// transient: once next_sync lies in the future the source reads as Idle.
func StateOf(source ingest.Source, now time.Time, collecting bool) State {
	switch {
	case source.IsPaused:
		return StatePaused
	case collecting:
		return StateCollecting
	case source.IsActive && !source.NextSync.After(now):
		return StateDue
	default:
		return StateIdle
	}
}

// OutcomeState is the state a collection moves its source into.
func OutcomeState(outcome ingest.SyncOutcome) State {
	if outcome.Success {
		return StateCooldown
	}
	return StateErroring
}
