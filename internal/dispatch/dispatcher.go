// Package dispatch emits the asynchronous trigger that hands a
// validated tracked failure to the automated fix tooling. Dispatch is
// idempotent per record id: the fix-queued label goes on before the
// event goes out, so a re-run can never double-queue a fix attempt.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/cisift/cisift/internal/events"
	"github.com/cisift/cisift/internal/lifecycle"
	"github.com/cisift/cisift/internal/types"
)

// EventTypeFixRequested is the event type carried by emitted triggers.
const EventTypeFixRequested = "ci-failure.fix-requested"

// FixPayload is the full metadata payload an automated fix attempt
// needs to start work.
type FixPayload struct {
	IssueID    string `json:"issue_id"`
	FeatureID  string `json:"feature_id"`
	BranchName string `json:"branch_name"`
	JobName    string `json:"job_name"`
	StepName   string `json:"step_name"`
}

// Sink is the fire-and-forget boundary to the fix tooling. Emit must
// not block on the fix attempt itself; the engine never awaits
// completion.
type Sink interface {
	Emit(eventType string, payload FixPayload) error
}

// ValidationError reports a dispatch precondition failure: required
// metadata fields are missing. No side effect occurs on validation
// errors.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cannot dispatch fix: missing %s", strings.Join(e.Missing, ", "))
}

// Journal tracks dispatched record ids as a local idempotency backstop
// alongside the tracker label.
type Journal interface {
	StoreEvent(ctx context.Context, event *events.PipelineEvent) error
	MarkDispatched(ctx context.Context, recordID string) error
	WasDispatched(ctx context.Context, recordID string) (bool, error)
}

// DispatchResult reports what a dispatch call did.
type DispatchResult struct {
	// Queued is true when a fix trigger was emitted by this call
	Queued bool `json:"queued"`
	// AlreadyQueued is true when a prior call had dispatched this record
	AlreadyQueued bool `json:"already_queued"`
}

// Dispatcher validates tracked records and emits fix triggers.
type Dispatcher struct {
	lifecycle *lifecycle.Manager
	sink      Sink
	journal   Journal
}

// New creates a Dispatcher.
func New(lc *lifecycle.Manager, sink Sink, journal Journal) *Dispatcher {
	return &Dispatcher{lifecycle: lc, sink: sink, journal: journal}
}

// Dispatch validates the record's metadata, marks it fix-queued, and
// emits one trigger event. Calling it again for the same id returns
// AlreadyQueued without emitting.
func (d *Dispatcher) Dispatch(ctx context.Context, recordID string, payload FixPayload) (DispatchResult, error) {
	payload.IssueID = recordID

	var missing []string
	if payload.FeatureID == "" {
		missing = append(missing, "feature_id")
	}
	if payload.JobName == "" {
		missing = append(missing, "job_name")
	}
	if payload.BranchName == "" {
		missing = append(missing, "branch_name")
	}
	if len(missing) > 0 {
		d.journalSkip(ctx, recordID, "missing "+strings.Join(missing, ", "))
		return DispatchResult{}, &ValidationError{Missing: missing}
	}

	if d.journal != nil {
		if done, err := d.journal.WasDispatched(ctx, recordID); err == nil && done {
			d.journalSkip(ctx, recordID, "already dispatched")
			return DispatchResult{AlreadyQueued: true}, nil
		}
	}

	// The fix-queued label is the shared marker: it goes on before the
	// emit so a crash between the two leaves "queued, not yet emitted"
	// rather than a double emit on the retry path.
	queued, err := d.lifecycle.QueueFix(ctx, recordID)
	if err != nil {
		return DispatchResult{}, err
	}
	if !queued {
		d.journalSkip(ctx, recordID, "fix-queued label already present")
		return DispatchResult{AlreadyQueued: true}, nil
	}

	if d.journal != nil {
		if err := d.journal.MarkDispatched(ctx, recordID); err == nil {
			_ = d.journal.StoreEvent(ctx, events.NewFixDispatched(recordID, payload.FeatureID, payload.JobName))
		}
	}

	if err := d.sink.Emit(EventTypeFixRequested, payload); err != nil {
		// The marker is already on; surfacing the error lets the
		// operator re-trigger the sink manually rather than re-queue.
		return DispatchResult{}, fmt.Errorf("emit fix trigger for %s: %w", recordID, err)
	}

	return DispatchResult{Queued: true}, nil
}

func (d *Dispatcher) journalSkip(ctx context.Context, recordID, reason string) {
	if d.journal == nil {
		return
	}
	_ = d.journal.StoreEvent(ctx, events.NewDispatchSkipped(recordID, reason))
}

// PayloadFromMetadata builds a dispatch payload from extracted record
// metadata plus the branch the failure ran on.
func PayloadFromMetadata(recordID string, md types.Metadata, branchName string) FixPayload {
	return FixPayload{
		IssueID:    recordID,
		FeatureID:  md.FeatureID.OrEmpty(),
		JobName:    md.JobName.OrEmpty(),
		StepName:   md.StepName.OrEmpty(),
		BranchName: branchName,
	}
}
