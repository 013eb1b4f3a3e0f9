package events

import (
	"time"
)

// EventType represents the type of event that occurred during a
// pipeline run.
type EventType string

const (
	// EventTypePipelineStarted indicates a pipeline run began for a failure event
	EventTypePipelineStarted EventType = "pipeline_started"
	// EventTypeDuplicateDecision indicates the duplicate detector made a decision
	EventTypeDuplicateDecision EventType = "duplicate_decision"
	// EventTypeRecordCreated indicates a new tracked failure record was created
	EventTypeRecordCreated EventType = "record_created"
	// EventTypeDuplicateReferenced indicates an existing record was referenced instead of creating one
	EventTypeDuplicateReferenced EventType = "duplicate_referenced"
	// EventTypeRetryDetected indicates a new failure repeats a previously resolved one
	EventTypeRetryDetected EventType = "retry_detected"
	// EventTypeStateTransition indicates a label-driven lifecycle transition occurred
	EventTypeStateTransition EventType = "state_transition"
	// EventTypeFixPendingFlagged indicates an open record was flagged as possibly fixed
	EventTypeFixPendingFlagged EventType = "fix_pending_flagged"
	// EventTypeFixDispatched indicates a fix attempt was queued for a record
	EventTypeFixDispatched EventType = "fix_dispatched"
	// EventTypeDispatchSkipped indicates a dispatch was skipped (already queued or invalid)
	EventTypeDispatchSkipped EventType = "dispatch_skipped"
	// EventTypeTrackerError indicates a tracker API call failed after retries
	EventTypeTrackerError EventType = "tracker_error"
	// EventTypeSideEffectDegraded indicates a best-effort label/comment call failed
	EventTypeSideEffectDegraded EventType = "side_effect_degraded"
)

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	// SeverityInfo indicates informational events
	SeverityInfo EventSeverity = "info"
	// SeverityWarning indicates potentially problematic events
	SeverityWarning EventSeverity = "warning"
	// SeverityError indicates error events
	SeverityError EventSeverity = "error"
)

// PipelineEvent is one structured entry in the engine's durable journal.
// Events record what the pipeline decided and why, so dedup and
// lifecycle decisions stay auditable after the run exits.
type PipelineEvent struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// Type is the type of event
	Type EventType `json:"type"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// RecordID is the tracked record this event concerns, when known
	RecordID string `json:"record_id,omitempty"`
	// RunURL links to the CI run that triggered the pipeline
	RunURL string `json:"run_url,omitempty"`
	// Severity is the severity level of this event
	Severity EventSeverity `json:"severity"`
	// Message is a human-readable description of the event
	Message string `json:"message"`
	// Data contains structured, type-specific data (must be JSON-serializable)
	Data map[string]interface{} `json:"data,omitempty"`
}
