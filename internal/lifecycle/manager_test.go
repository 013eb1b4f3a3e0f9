package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cisift/cisift/internal/events"
	"github.com/cisift/cisift/internal/recurrence"
	"github.com/cisift/cisift/internal/tracker"
	"github.com/cisift/cisift/internal/types"
)

// memJournal collects events in memory for assertions.
type memJournal struct {
	mu     sync.Mutex
	events []*events.PipelineEvent
}

func (j *memJournal) StoreEvent(ctx context.Context, ev *events.PipelineEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

func (j *memJournal) typesSeen() []events.EventType {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []events.EventType
	for _, ev := range j.events {
		out = append(out, ev.Type)
	}
	return out
}

// faultTracker wraps Memory and fails selected operations.
type faultTracker struct {
	*tracker.Memory
	failCreate  bool
	failLabel   bool
	failComment bool
	labelCalls  int
}

func (f *faultTracker) Create(ctx context.Context, title, body string) (string, error) {
	if f.failCreate {
		return "", errors.New("tracker down")
	}
	return f.Memory.Create(ctx, title, body)
}

func (f *faultTracker) AddLabel(ctx context.Context, id, label string) error {
	f.labelCalls++
	if f.failLabel {
		return errors.New("label API down")
	}
	return f.Memory.AddLabel(ctx, id, label)
}

func (f *faultTracker) AddComment(ctx context.Context, id, text string) error {
	if f.failComment {
		return errors.New("comment API down")
	}
	return f.Memory.AddComment(ctx, id, text)
}

func testEvent() types.FailureEvent {
	return types.FailureEvent{
		BranchName:    "feature/7-login",
		FeatureID:     "7",
		JobName:       "lint",
		StepName:      "Run ESLint",
		RawLogExcerpt: "error: parse failed",
		LogLineRange:  "10-60",
		RunURL:        "https://ci.example.com/runs/42",
	}
}

func TestTrackNewCreatesTrackedOpenRecord(t *testing.T) {
	ctx := context.Background()
	store := tracker.NewMemory()
	journal := &memJournal{}
	m := NewManager(store, journal)

	record, err := m.TrackNew(ctx, testEvent(), recurrence.RetryDecision{AttemptCount: 1})
	require.NoError(t, err)
	require.NoError(t, record.Validate())

	assert.Equal(t, types.StatusOpen, record.Status)
	assert.Contains(t, store.Labels(record.ID), types.LabelTracked)
	assert.Contains(t, store.Title(record.ID), "lint / Run ESLint")
	assert.Contains(t, journal.typesSeen(), events.EventTypeRecordCreated)
	assert.Contains(t, journal.typesSeen(), events.EventTypeStateTransition)
}

func TestTrackNewCreateFailureAbortsCleanly(t *testing.T) {
	ctx := context.Background()
	ft := &faultTracker{Memory: tracker.NewMemory(), failCreate: true}
	m := NewManager(ft, &memJournal{})

	record, err := m.TrackNew(ctx, testEvent(), recurrence.RetryDecision{AttemptCount: 1})
	require.Error(t, err)
	assert.Nil(t, record)
	assert.Zero(t, ft.labelCalls, "no follow-up side effect may run when creation failed")
	assert.Zero(t, ft.Len(), "no partial record may exist")
}

func TestTrackNewLabelFailureDegrades(t *testing.T) {
	// The record is the important fact; a failed label is an
	// enrichment loss, not an abort.
	ctx := context.Background()
	ft := &faultTracker{Memory: tracker.NewMemory(), failLabel: true}
	journal := &memJournal{}
	m := NewManager(ft, journal)

	record, err := m.TrackNew(ctx, testEvent(), recurrence.RetryDecision{AttemptCount: 1})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 1, ft.Len())
	assert.Contains(t, journal.typesSeen(), events.EventTypeSideEffectDegraded)
}

func TestTrackNewRetryCommentsOnClosedRecord(t *testing.T) {
	ctx := context.Background()
	store := tracker.NewMemory()
	m := NewManager(store, &memJournal{})

	closedID, err := store.Create(ctx, "old failure", "| Feature | 7 |")
	require.NoError(t, err)
	require.NoError(t, store.Close(closedID))

	record, err := m.TrackNew(ctx, testEvent(), recurrence.RetryDecision{
		IsRetry: true, RetryOfID: closedID, AttemptCount: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, closedID, record.RetryOfID)
	assert.Equal(t, 2, record.AttemptCount)

	comments := store.Comments(closedID)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0], "did not hold")
	assert.Contains(t, comments[0], "attempt 2")
	assert.Contains(t, comments[0], "Now tracked as "+record.ID)

	// The closed record stays closed: no reopen.
	status, err := store.GetState(ctx, closedID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, status)
}

func TestReferenceDuplicate(t *testing.T) {
	ctx := context.Background()
	store := tracker.NewMemory()
	m := NewManager(store, &memJournal{})

	id, err := store.Create(ctx, "existing", "| Feature | 7 |")
	require.NoError(t, err)

	require.NoError(t, m.ReferenceDuplicate(ctx, id, testEvent(), "exact_log_match"))

	comments := store.Comments(id)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0], "https://ci.example.com/runs/42")
	assert.Equal(t, 1, store.Len(), "no new record on duplicates")
}

func TestMarkFixPending(t *testing.T) {
	ctx := context.Background()
	store := tracker.NewMemory()
	journal := &memJournal{}
	m := NewManager(store, journal)

	id, err := store.Create(ctx, "existing", "| Feature | 7 |")
	require.NoError(t, err)
	require.NoError(t, store.AddLabel(ctx, id, types.LabelTracked))

	require.NoError(t, m.MarkFixPending(ctx, id))

	assert.Contains(t, store.Labels(id), types.LabelFixPending)
	require.Len(t, store.Comments(id), 1)
	assert.Contains(t, store.Comments(id)[0], "may have been fixed")
	assert.Contains(t, journal.typesSeen(), events.EventTypeFixPendingFlagged)

	// Idempotent: flagging twice adds nothing.
	require.NoError(t, m.MarkFixPending(ctx, id))
	assert.Len(t, store.Comments(id), 1)

	// The record stays open.
	status, err := store.GetState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, status)
}

func TestQueueFix(t *testing.T) {
	ctx := context.Background()
	store := tracker.NewMemory()
	m := NewManager(store, &memJournal{})

	id, err := store.Create(ctx, "existing", "| Feature | 7 |")
	require.NoError(t, err)
	require.NoError(t, store.AddLabel(ctx, id, types.LabelTracked))

	queued, err := m.QueueFix(ctx, id)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Contains(t, store.Labels(id), types.LabelFixQueued)

	// Second call is a no-op: the label is the idempotency marker.
	queued, err = m.QueueFix(ctx, id)
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestQueueFixRejectsClosedRecord(t *testing.T) {
	ctx := context.Background()
	store := tracker.NewMemory()
	m := NewManager(store, &memJournal{})

	id, err := store.Create(ctx, "existing", "| Feature | 7 |")
	require.NoError(t, err)
	require.NoError(t, store.Close(id))

	_, err = m.QueueFix(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal transition")
}

func TestNoteRetry(t *testing.T) {
	ctx := context.Background()
	store := tracker.NewMemory()
	m := NewManager(store, &memJournal{})

	id, err := store.Create(ctx, "old failure", "| Feature | 7 |")
	require.NoError(t, err)
	require.NoError(t, store.Close(id))

	require.NoError(t, m.NoteRetry(ctx, id, "ts-9", 3, "https://ci.example.com/runs/50"))

	comments := store.Comments(id)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0], "did not hold")
	assert.Contains(t, comments[0], "attempt 3")
	assert.Contains(t, comments[0], "Now tracked as ts-9")

	status, err := store.GetState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, status, "comment only, never reopen")
}
