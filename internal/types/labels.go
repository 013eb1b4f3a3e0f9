package types

// Label constants driving the tracked-failure state machine. The labels
// are the externally visible half of the lifecycle: the tracker itself
// only knows open/closed.
const (
	// LabelTracked marks a record created by the engine for a CI failure.
	LabelTracked = "ci-failure:tracked"

	// LabelFixPending marks an open record whose failure signature has
	// changed on the same feature, suggesting the original failure may
	// have been fixed. The record stays open until a human confirms.
	LabelFixPending = "ci-failure:fix-pending"

	// LabelPendingMerge marks a record whose fix attempt produced a
	// change that is awaiting merge. Applied by the fix tooling, never
	// by the engine itself.
	LabelPendingMerge = "ci-failure:pending-merge"

	// LabelFixQueued marks a record for which a fix attempt has been
	// dispatched. Doubles as the dispatch idempotency marker: a record
	// carrying it is never dispatched again.
	LabelFixQueued = "ci-failure:fix-queued"

	// LabelPreviouslyResolved marks a closed record that was considered
	// fixed. A new failure matching its correlation key is a retry: the
	// fix did not hold.
	LabelPreviouslyResolved = "ci-failure:previously-resolved"
)
