package lifecycle

import (
	"context"
	"fmt"

	"github.com/cisift/cisift/internal/events"
	"github.com/cisift/cisift/internal/metadata"
	"github.com/cisift/cisift/internal/normalize"
	"github.com/cisift/cisift/internal/recurrence"
	"github.com/cisift/cisift/internal/tracker"
	"github.com/cisift/cisift/internal/types"
)

// Journal receives the manager's audit events. Failures to journal are
// never fatal; the tracker is the source of truth.
type Journal interface {
	StoreEvent(ctx context.Context, event *events.PipelineEvent) error
}

// Manager applies lifecycle transitions to tracked failure records.
//
// Side-effect ordering is deliberate: the record itself (the fact that
// the failure exists) is always persisted first; labels and comments
// are best-effort enrichments. A run killed between calls leaves a
// plain record, never a half-created one.
type Manager struct {
	store   tracker.Tracker
	journal Journal
}

// NewManager creates a lifecycle manager backed by the given tracker.
func NewManager(store tracker.Tracker, journal Journal) *Manager {
	return &Manager{store: store, journal: journal}
}

// TrackNew creates a tracked record for a failure the duplicate
// detector cleared. When the failure is a retry of a previously
// resolved record, the new record carries the back-reference and the
// old record gets a comment noting the failed fix attempt.
//
// Only the create call can fail the operation; every later side effect
// degrades to a journal warning.
func (m *Manager) TrackNew(ctx context.Context, ev types.FailureEvent, retry recurrence.RetryDecision) (*types.TrackedFailure, error) {
	digest := normalize.Digest(normalize.Normalize(ev.RawLogExcerpt))
	title := fmt.Sprintf("CI failure: %s / %s (feature %s)", ev.JobName, ev.StepName, ev.FeatureID)
	body := metadata.RenderBody(ev, digest, retry.RetryOfID, retry.AttemptCount)

	id, err := m.store.Create(ctx, title, body)
	if err != nil {
		return nil, fmt.Errorf("create tracked record: %w", err)
	}

	record := &types.TrackedFailure{
		ID:                  id,
		Title:               title,
		Key:                 ev.Key(),
		LogLineRange:        ev.LogLineRange,
		NormalizedLogDigest: digest,
		Status:              types.StatusOpen,
		RetryOfID:           retry.RetryOfID,
		AttemptCount:        retry.AttemptCount,
	}

	m.journalEvent(ctx, events.NewRecordCreated(id, ev.Key().String(), ev.RunURL, retry.AttemptCount))
	m.journalEvent(ctx, events.NewStateTransition(id, string(StateNew), string(StateTrackedOpen), "not_duplicate"))

	if err := m.store.AddLabel(ctx, id, types.LabelTracked); err != nil {
		m.degrade(ctx, id, "add_tracked_label", err)
	} else {
		record.Labels = append(record.Labels, types.LabelTracked)
	}

	if retry.IsRetry {
		if err := m.NoteRetry(ctx, retry.RetryOfID, id, retry.AttemptCount, ev.RunURL); err != nil {
			m.degrade(ctx, retry.RetryOfID, "retry_comment", err)
		}
	}

	return record, nil
}

// ReferenceDuplicate points at an existing record instead of creating
// a new one: a comment on the existing record noting the fresh run.
// No state transition occurs.
func (m *Manager) ReferenceDuplicate(ctx context.Context, matchedID string, ev types.FailureEvent, reason string) error {
	comment := fmt.Sprintf("Same failure observed again in %s (%s).", ev.RunURL, reason)
	if ev.PRURL != "" {
		comment = fmt.Sprintf("Same failure observed again in %s for %s (%s).", ev.RunURL, ev.PRURL, reason)
	}

	if err := m.store.AddComment(ctx, matchedID, comment); err != nil {
		return fmt.Errorf("reference duplicate %s: %w", matchedID, err)
	}

	m.journalEvent(ctx, events.New(events.EventTypeDuplicateReferenced, events.SeverityInfo, matchedID,
		fmt.Sprintf("duplicate of %s, reference comment added", matchedID)))
	return nil
}

// MarkFixPending flags an open record whose failure signature changed:
// the previously tracked failure may be fixed. The record stays open;
// confirming and closing is a human call.
func (m *Manager) MarkFixPending(ctx context.Context, id string) error {
	ref, err := m.store.GetRef(ctx, id)
	if err != nil {
		return fmt.Errorf("mark fix-pending %s: %w", id, err)
	}

	from := StateOf(ref.Status, ref.Labels)
	if from == StateFlaggedFixPending {
		return nil
	}
	if err := validateTransition(from, StateFlaggedFixPending); err != nil {
		return fmt.Errorf("mark fix-pending %s: %w", id, err)
	}

	if err := m.applyTransition(ctx, id, from, StateFlaggedFixPending, "signature_changed"); err != nil {
		return err
	}

	comment := "A different failure signature appeared on this feature; the failure tracked here may have been fixed. Leaving open for confirmation."
	if err := m.store.AddComment(ctx, id, comment); err != nil {
		m.degrade(ctx, id, "fix_pending_comment", err)
	}

	m.journalEvent(ctx, events.New(events.EventTypeFixPendingFlagged, events.SeverityInfo, id,
		"flagged as possibly fixed after signature change"))
	return nil
}

// QueueFix transitions a validated record to fix-queued. The label is
// the dispatch idempotency marker, so it goes on before any dispatch
// event is emitted. Returns false when the record is already queued.
func (m *Manager) QueueFix(ctx context.Context, id string) (bool, error) {
	ref, err := m.store.GetRef(ctx, id)
	if err != nil {
		return false, fmt.Errorf("queue fix for %s: %w", id, err)
	}

	from := StateOf(ref.Status, ref.Labels)
	if from == StateFlaggedFixQueued || from == StateFlaggedPendingMerge {
		return false, nil
	}
	if err := validateTransition(from, StateFlaggedFixQueued); err != nil {
		return false, fmt.Errorf("queue fix for %s: %w", id, err)
	}

	if err := m.applyTransition(ctx, id, from, StateFlaggedFixQueued, "validated"); err != nil {
		return false, err
	}
	return true, nil
}

// NoteRetry comments on a closed record whose fix did not hold. The
// record stays closed: reopening is an external action, and the fresh
// failure already has its own open record. newRecordID, when known,
// lets the comment point readers at the fresh record.
func (m *Manager) NoteRetry(ctx context.Context, closedID, newRecordID string, attempt int, runURL string) error {
	m.journalEvent(ctx, events.NewRetryDetected(closedID, attempt))

	comment := fmt.Sprintf(
		"The fix for this failure did not hold: the same failure signature reappeared in %s (attempt %d).",
		runURL, attempt)
	if newRecordID != "" {
		comment += fmt.Sprintf(" Now tracked as %s.", newRecordID)
	}
	if err := m.store.AddComment(ctx, closedID, comment); err != nil {
		return fmt.Errorf("note retry on %s: %w", closedID, err)
	}
	return nil
}

// applyTransition swaps state labels and journals the move. The old
// state's label (if any) comes off only after the new one is on, so an
// interrupted run leaves the record over-labeled rather than stateless.
func (m *Manager) applyTransition(ctx context.Context, id string, from, to State, trigger string) error {
	toLabel, ok := labelFor(to)
	if ok {
		if err := m.store.AddLabel(ctx, id, toLabel); err != nil {
			return fmt.Errorf("add label %s: %w", toLabel, err)
		}
	}

	if fromLabel, ok := labelFor(from); ok && fromLabel != toLabel {
		if err := m.store.RemoveLabel(ctx, id, fromLabel); err != nil {
			m.degrade(ctx, id, "remove_label_"+fromLabel, err)
		}
	}

	m.journalEvent(ctx, events.NewStateTransition(id, string(from), string(to), trigger))
	return nil
}

func (m *Manager) journalEvent(ctx context.Context, ev *events.PipelineEvent) {
	if m.journal == nil {
		return
	}
	// Journal failures are reported nowhere else; the tracker already
	// holds the authoritative state.
	_ = m.journal.StoreEvent(ctx, ev)
}

func (m *Manager) degrade(ctx context.Context, id, op string, err error) {
	m.journalEvent(ctx, events.NewSideEffectDegraded(id, op, err))
}
