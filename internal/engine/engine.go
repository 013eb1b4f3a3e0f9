// Package engine runs the failure-processing pipeline: metadata
// extraction, duplicate detection, retry detection, then the lifecycle
// action the decision calls for. One Process call handles one CI
// failure event end to end.
package engine

import (
	"context"
	"fmt"

	"github.com/cisift/cisift/internal/dedup"
	"github.com/cisift/cisift/internal/events"
	"github.com/cisift/cisift/internal/lifecycle"
	"github.com/cisift/cisift/internal/metadata"
	"github.com/cisift/cisift/internal/recurrence"
	"github.com/cisift/cisift/internal/tracker"
	"github.com/cisift/cisift/internal/types"
)

// Action says what the pipeline did with the event.
type Action string

const (
	// ActionCreated means a new tracked record was created.
	ActionCreated Action = "created"
	// ActionReferenced means an existing record was referenced instead.
	ActionReferenced Action = "referenced_duplicate"
)

// Outcome summarizes one pipeline run for the caller.
type Outcome struct {
	// Action is what the pipeline did
	Action Action `json:"action"`
	// RecordID is the created record, or the matched one on duplicates
	RecordID string `json:"record_id"`
	// Dedup is the duplicate detector's decision
	Dedup dedup.ComparisonResult `json:"dedup"`
	// Retry is the retry detector's decision, zero-valued on duplicates
	Retry recurrence.RetryDecision `json:"retry,omitempty"`
	// FixPendingFlagged lists records flagged as possibly fixed
	FixPendingFlagged []string `json:"fix_pending_flagged,omitempty"`
}

// Engine wires the pipeline stages together.
//
// Error policy: only two calls can fail a run, the open-candidate fetch
// (creating without dedup would file duplicate records) and the record
// create itself. Everything downstream of a created or matched record
// is best-effort and degrades to a journal warning.
type Engine struct {
	store    tracker.Tracker
	detector *dedup.Detector
	manager  *lifecycle.Manager
	journal  lifecycle.Journal
	resolve  metadata.JobNameResolver
}

// New creates an engine. journal and resolve may be nil.
func New(store tracker.Tracker, detector *dedup.Detector, manager *lifecycle.Manager, journal lifecycle.Journal, resolve metadata.JobNameResolver) *Engine {
	return &Engine{
		store:    store,
		detector: detector,
		manager:  manager,
		journal:  journal,
		resolve:  resolve,
	}
}

// Process runs the pipeline for one failure event.
func (e *Engine) Process(ctx context.Context, ev types.FailureEvent) (*Outcome, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid failure event: %w", err)
	}

	// Fold the derived feature id and canonical job name back into the
	// event so every downstream stage (and the persisted body) sees the
	// same tuple the candidate queries use.
	md := metadata.ExtractFromEvent(ev, e.resolve)
	ev.FeatureID = md.FeatureID.OrEmpty()
	ev.JobName = md.JobName.OrEmpty()
	key := md.Key()

	e.journalEvent(ctx, e.startedEvent(ev, key))

	// The fetch is feature-scoped, wider than the full key, so that a
	// changed job/step signature on the same feature is visible to the
	// fix-pending check. An absent feature id cannot match anything on
	// the provider side, so the fetch is skipped and the event tracks
	// as new.
	var candidates []types.TrackedRef
	if key.FeatureID != "" {
		var err error
		candidates, err = e.store.ListOpenByFeature(ctx, key.FeatureID)
		if err != nil {
			e.journalEvent(ctx, e.trackerError("list_open_candidates", err))
			return nil, fmt.Errorf("list open candidates for feature %s: %w", key.FeatureID, err)
		}
	}

	result := e.detector.Detect(ev, candidates)
	e.journalEvent(ctx, events.NewDuplicateDecision(result.MatchedID, string(result.Reason),
		result.IsDuplicate, result.ComparedCount, ev.RunURL))

	if result.IsDuplicate {
		if err := e.manager.ReferenceDuplicate(ctx, result.MatchedID, ev, string(result.Reason)); err != nil {
			// The decision stands; only the reference comment is lost.
			e.journalEvent(ctx, events.NewSideEffectDegraded(result.MatchedID, "reference_duplicate", err))
		}
		return &Outcome{
			Action:   ActionReferenced,
			RecordID: result.MatchedID,
			Dedup:    result,
		}, nil
	}

	flagged := e.flagFixPending(ctx, result.FixPendingIDs)
	retry := e.detectRetry(ctx, ev, key)

	record, err := e.manager.TrackNew(ctx, ev, retry)
	if err != nil {
		e.journalEvent(ctx, e.trackerError("create_record", err))
		return nil, err
	}

	return &Outcome{
		Action:            ActionCreated,
		RecordID:          record.ID,
		Dedup:             result,
		Retry:             retry,
		FixPendingFlagged: flagged,
	}, nil
}

// flagFixPending marks signature-changed records as possibly fixed.
// Best-effort: a flag that fails to apply is journaled and skipped.
func (e *Engine) flagFixPending(ctx context.Context, ids []string) []string {
	var flagged []string
	for _, id := range ids {
		if err := e.manager.MarkFixPending(ctx, id); err != nil {
			e.journalEvent(ctx, events.NewSideEffectDegraded(id, "mark_fix_pending", err))
			continue
		}
		flagged = append(flagged, id)
	}
	return flagged
}

// detectRetry checks closed records for a resolved failure this event
// repeats. A failed closed-candidate fetch degrades to a first attempt
// rather than blocking the create.
func (e *Engine) detectRetry(ctx context.Context, ev types.FailureEvent, key types.CorrelationKey) recurrence.RetryDecision {
	if !key.Complete() {
		return recurrence.RetryDecision{AttemptCount: 1}
	}
	closed, err := e.store.ListClosedByKey(ctx, key)
	if err != nil {
		e.journalEvent(ctx, events.NewSideEffectDegraded("", "list_closed_candidates", err))
		return recurrence.RetryDecision{AttemptCount: 1}
	}
	return recurrence.Detect(ev, closed)
}

func (e *Engine) startedEvent(ev types.FailureEvent, key types.CorrelationKey) *events.PipelineEvent {
	started := events.New(events.EventTypePipelineStarted, events.SeverityInfo, "",
		fmt.Sprintf("processing failure %s from %s", key, ev.RunURL))
	started.RunURL = ev.RunURL
	return started
}

func (e *Engine) trackerError(op string, err error) *events.PipelineEvent {
	ev := events.New(events.EventTypeTrackerError, events.SeverityError, "",
		fmt.Sprintf("tracker call %s failed: %v", op, err))
	ev.Data = map[string]interface{}{"op": op, "error": err.Error()}
	return ev
}

func (e *Engine) journalEvent(ctx context.Context, ev *events.PipelineEvent) {
	if e.journal == nil {
		return
	}
	_ = e.journal.StoreEvent(ctx, ev)
}
