package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusPending, StatusPending, false},
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusDone, false},
		{StatusPending, StatusFailed, false},
		{StatusProcessing, StatusProcessing, true},
		{StatusProcessing, StatusDone, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusDone, StatusProcessing, false},
		{StatusDone, StatusDone, false},
		{StatusDone, StatusFailed, false},
		{StatusFailed, StatusDone, false},
		{StatusFailed, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, TaskStatus("running").Valid())
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")

	var connErr error = &ConnectionError{Attempts: 3, Err: cause}
	assert.ErrorIs(t, connErr, cause)
	assert.Contains(t, connErr.Error(), "3 attempts")

	var writeErr error = &StoreWriteError{TaskID: "t1", Status: StatusFailed, Err: ErrStatusConflict}
	assert.ErrorIs(t, writeErr, ErrStatusConflict)

	var target *StoreWriteError
	assert.True(t, errors.As(writeErr, &target))
	assert.Equal(t, "t1", target.TaskID)
}
