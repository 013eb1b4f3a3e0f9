package types

import (
	"fmt"
	"strings"
	"time"
)

// FailureEvent is the ephemeral input representing one failing CI run.
// It is consumed by the pipeline to produce or update a TrackedFailure
// and is never persisted directly.
type FailureEvent struct {
	// BranchName is the git branch the failing run executed on
	BranchName string `json:"branch_name"`
	// FeatureID is the feature identifier parsed from the branch name
	FeatureID string `json:"feature_id,omitempty"`
	// JobName is the CI job that failed
	JobName string `json:"job_name"`
	// StepName is the first failed step within the job
	StepName string `json:"step_name"`
	// RawLogExcerpt is the bounded tail of the failing step's output
	RawLogExcerpt string `json:"raw_log_excerpt"`
	// LogLineRange is the originating line range string (e.g. "120-170")
	LogLineRange string `json:"log_line_range,omitempty"`
	// RunURL links back to the CI run
	RunURL string `json:"run_url,omitempty"`
	// CommitSHA is the commit the run executed against
	CommitSHA string `json:"commit_sha,omitempty"`
	// PRURL is the pull request under test, if any
	PRURL string `json:"pr_url,omitempty"`
	// PRAuthor is the pull request author, if any
	PRAuthor string `json:"pr_author,omitempty"`
	// OccurredAt is when the failing run completed
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

// Validate checks that the event carries the minimum fields the pipeline
// needs to do anything useful with it.
func (e *FailureEvent) Validate() error {
	if strings.TrimSpace(e.JobName) == "" {
		return fmt.Errorf("job_name is required")
	}
	if strings.TrimSpace(e.StepName) == "" {
		return fmt.Errorf("step_name is required")
	}
	if strings.TrimSpace(e.BranchName) == "" && strings.TrimSpace(e.FeatureID) == "" {
		return fmt.Errorf("branch_name or feature_id is required")
	}
	return nil
}

// Key returns the event's correlation key.
func (e *FailureEvent) Key() CorrelationKey {
	return CorrelationKey{FeatureID: e.FeatureID, JobName: e.JobName, StepName: e.StepName}
}

// CorrelationKey is the (featureId, jobName, stepName) tuple used for
// fast metadata matching before any log comparison runs.
type CorrelationKey struct {
	FeatureID string `json:"feature_id"`
	JobName   string `json:"job_name"`
	StepName  string `json:"step_name"`
}

// Complete reports whether every component of the key is present.
// Incomplete keys never match anything; missing fields are mismatches,
// not wildcards.
func (k CorrelationKey) Complete() bool {
	return k.FeatureID != "" && k.JobName != "" && k.StepName != ""
}

func (k CorrelationKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.FeatureID, k.JobName, k.StepName)
}

// Status is the externally visible open/closed state of a tracked record.
type Status string

const (
	// StatusOpen indicates the tracked record is open
	StatusOpen Status = "open"
	// StatusClosed indicates the tracked record is closed
	StatusClosed Status = "closed"
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusClosed:
		return true
	}
	return false
}

// TrackedFailure is the persistent unit of work, backed by an external
// issue-tracking record. The engine owns its lifecycle but never its
// storage.
type TrackedFailure struct {
	// ID is the tracker-assigned identifier
	ID string `json:"id"`
	// Title is the record title
	Title string `json:"title"`
	// Key is the correlation key the record was filed under
	Key CorrelationKey `json:"key"`
	// LogLineRange is the line range of the originating excerpt
	LogLineRange string `json:"log_line_range,omitempty"`
	// NormalizedLogDigest is the content hash of the normalized excerpt
	NormalizedLogDigest string `json:"normalized_log_digest,omitempty"`
	// Status is the open/closed state
	Status Status `json:"status"`
	// Labels is the set of labels currently on the record
	Labels []string `json:"labels,omitempty"`
	// RetryOfID is a back-reference to a previously closed record this
	// failure is a repeat of. Never ownership.
	RetryOfID string `json:"retry_of_id,omitempty"`
	// AttemptCount is how many fix attempts this signature has seen,
	// including the current one. Minimum 1.
	AttemptCount int `json:"attempt_count"`
}

// Validate checks if the tracked failure has valid field values
func (t *TrackedFailure) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(t.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	if t.AttemptCount < 1 {
		return fmt.Errorf("attempt_count must be at least 1 (got %d)", t.AttemptCount)
	}
	return nil
}

// HasLabel reports whether the record carries the given label.
func (t *TrackedFailure) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// TrackedRef is the lightweight reference returned by tracker queries:
// enough to run the staged comparisons without a second fetch.
type TrackedRef struct {
	// ID is the tracker-assigned identifier
	ID string `json:"id"`
	// Body is the persisted record body (field table + log excerpt)
	Body string `json:"body"`
	// Status is the open/closed state at query time
	Status Status `json:"status"`
	// Labels is the label set at query time
	Labels []string `json:"labels,omitempty"`
}

// HasLabel reports whether the reference carries the given label.
func (r *TrackedRef) HasLabel(label string) bool {
	for _, l := range r.Labels {
		if l == label {
			return true
		}
	}
	return false
}
