// Package tracker defines the narrow interface boundary to the
// external issue-tracking store, plus a retrying wrapper and an
// in-memory implementation.
//
// The store is shared, eventually consistent, and offers no uniqueness
// constraint and no locks. The engine treats it as append-mostly, never
// assumes read-your-writes, and re-fetches rather than caching across
// pipeline stages.
package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/cisift/cisift/internal/types"
)

// Tracker is everything the engine needs from the issue tracker.
// Implementations for real providers live outside this module; the
// engine only ever sees this interface.
type Tracker interface {
	// ListOpenByKey returns open records filed under the correlation key.
	ListOpenByKey(ctx context.Context, key types.CorrelationKey) ([]types.TrackedRef, error)
	// ListOpenByFeature returns every open record on a feature,
	// regardless of job and step. Duplicate detection casts this wider
	// net so that a changed failure signature on the same feature is
	// visible, not just exact key matches.
	ListOpenByFeature(ctx context.Context, featureID string) ([]types.TrackedRef, error)
	// ListClosedByKey returns closed records filed under the correlation key.
	ListClosedByKey(ctx context.Context, key types.CorrelationKey) ([]types.TrackedRef, error)
	// Create files a new record and returns its tracker-assigned id.
	Create(ctx context.Context, title, body string) (string, error)
	// GetRef fetches a single record reference by id.
	GetRef(ctx context.Context, id string) (types.TrackedRef, error)
	// AddLabel attaches a label to a record. Adding an existing label is a no-op.
	AddLabel(ctx context.Context, id, label string) error
	// RemoveLabel detaches a label from a record. Removing an absent label is a no-op.
	RemoveLabel(ctx context.Context, id, label string) error
	// AddComment appends a comment to a record.
	AddComment(ctx context.Context, id, text string) error
	// GetState returns the record's open/closed state.
	GetState(ctx context.Context, id string) (types.Status, error)
}

// APIError wraps a tracker call failure that survived retries. It is
// the only error class allowed to abort a pipeline run.
type APIError struct {
	// Op is the tracker operation that failed (e.g. "create")
	Op string
	// Attempts is how many times the call was tried
	Attempts int
	// Err is the final underlying error
	Err error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracker %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsAPIError reports whether err is (or wraps) a tracker APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// ErrNotFound indicates a record id unknown to the tracker.
var ErrNotFound = errors.New("record not found")
