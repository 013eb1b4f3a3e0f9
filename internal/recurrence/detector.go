// Package recurrence decides whether a new CI failure is a retry: a
// repeat of a previously closed failure that had been marked resolved.
// A retry means the earlier fix attempt did not hold.
package recurrence

import (
	"fmt"

	"github.com/cisift/cisift/internal/metadata"
	"github.com/cisift/cisift/internal/types"
)

// RetryDecision is the retry detector's output.
type RetryDecision struct {
	// IsRetry is true when a closed, previously-resolved record shares
	// the event's correlation key
	IsRetry bool `json:"is_retry"`
	// RetryOfID is the matched closed record, set only on retries
	RetryOfID string `json:"retry_of_id,omitempty"`
	// AttemptCount is the number of prior closed records with the same
	// key, plus one for the current attempt. Minimum 1.
	AttemptCount int `json:"attempt_count"`
}

// Validate checks if the retry decision has valid values
func (d *RetryDecision) Validate() error {
	if d.IsRetry && d.RetryOfID == "" {
		return fmt.Errorf("retry_of_id must be set when is_retry is true")
	}
	if !d.IsRetry && d.RetryOfID != "" {
		return fmt.Errorf("retry_of_id should not be set when is_retry is false")
	}
	if d.AttemptCount < 1 {
		return fmt.Errorf("attempt_count must be at least 1 (got %d)", d.AttemptCount)
	}
	return nil
}

// Detect searches the closed candidates for records matching the
// event's correlation key. The attempt count reflects every closed
// same-key record; the retry flag additionally requires the
// previously-resolved label, since only a record someone considered
// fixed can demonstrate a failed fix attempt.
//
// Candidates with unreadable bodies are skipped, not fatal: a broken
// old record must not block tracking a live failure.
func Detect(ev types.FailureEvent, closedCandidates []types.TrackedRef) RetryDecision {
	key := metadata.ExtractFromEvent(ev, nil).Key()
	decision := RetryDecision{AttemptCount: 1}
	if !key.Complete() {
		return decision
	}

	for _, cand := range closedCandidates {
		if cand.Status != types.StatusClosed {
			continue
		}
		candMeta, err := metadata.ExtractFromBody(cand.Body)
		if err != nil {
			continue
		}
		if candMeta.Key() != key {
			continue
		}

		decision.AttemptCount++
		if !decision.IsRetry && cand.HasLabel(types.LabelPreviouslyResolved) {
			decision.IsRetry = true
			decision.RetryOfID = cand.ID
		}
	}

	return decision
}
