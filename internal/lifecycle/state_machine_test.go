package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cisift/cisift/internal/types"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    State
		to      State
		allowed bool
	}{
		{StateNew, StateTrackedOpen, true},
		{StateTrackedOpen, StateFlaggedFixPending, true},
		{StateTrackedOpen, StateFlaggedFixQueued, true},
		{StateTrackedOpen, StateClosed, true},
		{StateFlaggedFixPending, StateFlaggedFixQueued, true},
		{StateFlaggedFixQueued, StateFlaggedPendingMerge, true},
		{StateFlaggedFixQueued, StateClosed, true},
		{StateFlaggedPendingMerge, StateClosed, true},

		{StateNew, StateFlaggedFixQueued, false},
		{StateNew, StateClosed, false},
		{StateClosed, StateTrackedOpen, false},
		{StateClosed, StateClosed, false},
		{StateFlaggedFixQueued, StateTrackedOpen, false},
		{StateFlaggedPendingMerge, StateTrackedOpen, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestClosedIsTerminal(t *testing.T) {
	assert.Empty(t, transitions[StateClosed], "no engine-driven transition may leave closed")
}

func TestStateOf(t *testing.T) {
	tests := []struct {
		name   string
		status types.Status
		labels []string
		want   State
	}{
		{"closed wins over labels", types.StatusClosed, []string{types.LabelTracked, types.LabelFixQueued}, StateClosed},
		{"bare open record", types.StatusOpen, nil, StateNew},
		{"tracked", types.StatusOpen, []string{types.LabelTracked}, StateTrackedOpen},
		{"fix pending", types.StatusOpen, []string{types.LabelTracked, types.LabelFixPending}, StateFlaggedFixPending},
		{"fix queued outranks fix pending", types.StatusOpen, []string{types.LabelTracked, types.LabelFixPending, types.LabelFixQueued}, StateFlaggedFixQueued},
		{"pending merge outranks queued", types.StatusOpen, []string{types.LabelTracked, types.LabelFixQueued, types.LabelPendingMerge}, StateFlaggedPendingMerge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StateOf(tt.status, tt.labels))
		})
	}
}
