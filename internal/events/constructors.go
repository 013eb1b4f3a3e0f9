package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New creates a PipelineEvent with a fresh id and timestamp.
func New(eventType EventType, severity EventSeverity, recordID, message string) *PipelineEvent {
	return &PipelineEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		RecordID:  recordID,
		Severity:  severity,
		Message:   message,
	}
}

// NewDuplicateDecision records a duplicate detector decision.
func NewDuplicateDecision(recordID, reason string, isDuplicate bool, comparedCount int, runURL string) *PipelineEvent {
	ev := New(EventTypeDuplicateDecision, SeverityInfo, recordID,
		fmt.Sprintf("duplicate decision: %s (duplicate=%t, compared=%d)", reason, isDuplicate, comparedCount))
	ev.RunURL = runURL
	ev.Data = map[string]interface{}{
		"reason":         reason,
		"is_duplicate":   isDuplicate,
		"compared_count": comparedCount,
	}
	return ev
}

// NewRecordCreated records the creation of a tracked failure.
func NewRecordCreated(recordID, key, runURL string, attempt int) *PipelineEvent {
	ev := New(EventTypeRecordCreated, SeverityInfo, recordID,
		fmt.Sprintf("tracked new failure %s (key %s, attempt %d)", recordID, key, attempt))
	ev.RunURL = runURL
	ev.Data = map[string]interface{}{
		"correlation_key": key,
		"attempt":         attempt,
	}
	return ev
}

// NewRetryDetected records that a failure repeats a resolved one.
func NewRetryDetected(retryOfID string, attempt int) *PipelineEvent {
	ev := New(EventTypeRetryDetected, SeverityWarning, retryOfID,
		fmt.Sprintf("fix attempt for %s did not hold (attempt %d)", retryOfID, attempt))
	ev.Data = map[string]interface{}{
		"attempt": attempt,
	}
	return ev
}

// NewStateTransition records a label-driven lifecycle transition.
func NewStateTransition(recordID, from, to, trigger string) *PipelineEvent {
	ev := New(EventTypeStateTransition, SeverityInfo, recordID,
		fmt.Sprintf("state transition: %s -> %s (trigger: %s)", from, to, trigger))
	ev.Data = map[string]interface{}{
		"from":    from,
		"to":      to,
		"trigger": trigger,
	}
	return ev
}

// NewFixDispatched records that a fix attempt was queued.
func NewFixDispatched(recordID, featureID, jobName string) *PipelineEvent {
	ev := New(EventTypeFixDispatched, SeverityInfo, recordID,
		fmt.Sprintf("fix dispatched for %s (feature %s, job %s)", recordID, featureID, jobName))
	ev.Data = map[string]interface{}{
		"feature_id": featureID,
		"job_name":   jobName,
	}
	return ev
}

// NewDispatchSkipped records a dispatch call that emitted nothing.
func NewDispatchSkipped(recordID, reason string) *PipelineEvent {
	ev := New(EventTypeDispatchSkipped, SeverityInfo, recordID,
		fmt.Sprintf("dispatch skipped for %s: %s", recordID, reason))
	ev.Data = map[string]interface{}{
		"reason": reason,
	}
	return ev
}

// NewSideEffectDegraded records a best-effort side effect that failed
// without aborting the run.
func NewSideEffectDegraded(recordID, op string, err error) *PipelineEvent {
	ev := New(EventTypeSideEffectDegraded, SeverityWarning, recordID,
		fmt.Sprintf("best-effort %s failed: %v", op, err))
	ev.Data = map[string]interface{}{
		"op":    op,
		"error": err.Error(),
	}
	return ev
}
