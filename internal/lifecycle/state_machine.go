// Package lifecycle owns the state machine for a tracked failure
// record: creation, duplicate referencing, retry marking, fix queuing,
// and the label/comment side effects each transition carries.
//
// State Flow:
// - new failure            → Tracked-Open (record created, tracked label)
// - signature changed      → Flagged-FixPending (possibly fixed, stays open)
// - validated as actionable → Flagged-FixQueued (fix dispatch emitted)
// - fix change awaiting merge → Flagged-PendingMerge (applied by fix tooling)
// - external actor closes  → Closed (terminal; the engine never closes)
package lifecycle

import (
	"fmt"

	"github.com/cisift/cisift/internal/types"
)

// State is a tracked failure's position in the lifecycle, derived from
// its tracker status and labels.
type State string

const (
	// StateNew is the initial state before a record exists
	StateNew State = "new"
	// StateTrackedOpen is an open, tracked record awaiting attention
	StateTrackedOpen State = "tracked-open"
	// StateFlaggedFixPending is an open record whose failure signature
	// changed, suggesting it may be fixed
	StateFlaggedFixPending State = "flagged-fix-pending"
	// StateFlaggedPendingMerge is a record whose fix change awaits merge
	StateFlaggedPendingMerge State = "flagged-pending-merge"
	// StateFlaggedFixQueued is a record with a dispatched fix attempt
	StateFlaggedFixQueued State = "flagged-fix-queued"
	// StateClosed is terminal; reopening is an external action
	StateClosed State = "closed"
)

// transitions maps each state to the states it may legally move to.
// Closing is legal from any open state because the engine does not own
// it; everything else is engine-driven.
var transitions = map[State][]State{
	StateNew:                 {StateTrackedOpen},
	StateTrackedOpen:         {StateFlaggedFixPending, StateFlaggedFixQueued, StateClosed},
	StateFlaggedFixPending:   {StateFlaggedFixQueued, StateClosed},
	StateFlaggedFixQueued:    {StateFlaggedPendingMerge, StateClosed},
	StateFlaggedPendingMerge: {StateClosed},
	StateClosed:              {},
}

// CanTransition reports whether moving from one state to another is
// legal.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// stateLabels maps flagged states to the label that encodes them on
// the tracker. StateTrackedOpen is encoded by LabelTracked alone;
// StateNew and StateClosed have no label of their own.
var stateLabels = map[State]string{
	StateFlaggedFixPending:   types.LabelFixPending,
	StateFlaggedPendingMerge: types.LabelPendingMerge,
	StateFlaggedFixQueued:    types.LabelFixQueued,
}

// StateOf derives the lifecycle state from a record's tracker status
// and label set. Flagged states take precedence over plain tracked;
// fix-queued outranks fix-pending because queuing implies the pending
// question was answered.
func StateOf(status types.Status, labels []string) State {
	if status == types.StatusClosed {
		return StateClosed
	}

	has := func(label string) bool {
		for _, l := range labels {
			if l == label {
				return true
			}
		}
		return false
	}

	switch {
	case has(types.LabelPendingMerge):
		return StateFlaggedPendingMerge
	case has(types.LabelFixQueued):
		return StateFlaggedFixQueued
	case has(types.LabelFixPending):
		return StateFlaggedFixPending
	case has(types.LabelTracked):
		return StateTrackedOpen
	}
	return StateNew
}

// labelFor returns the tracker label that encodes a state, if any.
func labelFor(state State) (string, bool) {
	label, ok := stateLabels[state]
	return label, ok
}

// validateTransition returns an error for illegal moves, naming both
// states.
func validateTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	return nil
}
