package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"taskqueue/internal/domain"
	"taskqueue/internal/executor"
	"taskqueue/internal/ports"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// countingExec wraps fn and counts invocations.
type countingExec struct {
	calls atomic.Int32
	fn    executor.Func
}

func (c *countingExec) Execute(ctx context.Context, payload string) (string, error) {
	c.calls.Add(1)
	return c.fn(ctx, payload)
}

func TestProcessor_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.store.Create(ctx, "X")
	require.NoError(t, err)

	p := Processor{Store: env.store, Exec: executor.Echo()}
	require.NoError(t, p.Process(ctx, task.ID))

	got, err := env.store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "X-done", *got.Result)
	assert.False(t, got.UpdatedAt.Before(task.UpdatedAt))
}

func TestProcessor_ExecutorFailures(t *testing.T) {
	tests := []struct {
		name     string
		exec     executor.Func
		timeout  time.Duration
		contains string
	}{
		{
			name:     "error",
			exec:     func(context.Context, string) (string, error) { return "", errors.New("disk full") },
			contains: "disk full",
		},
		{
			name:     "panic",
			exec:     func(context.Context, string) (string, error) { panic("nil map") },
			contains: "executor panic: nil map",
		},
		{
			name: "timeout",
			exec: func(ctx context.Context, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
			timeout:  10 * time.Millisecond,
			contains: "deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			task, err := env.store.Create(ctx, "X")
			require.NoError(t, err)

			p := Processor{Store: env.store, Exec: tt.exec, Timeout: tt.timeout}
			assert.NoError(t, p.Process(ctx, task.ID), "executor failures are recorded, not redelivered")

			got, err := env.store.Get(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusFailed, got.Status)
			require.NotNil(t, got.Result)
			assert.Contains(t, *got.Result, tt.contains)
		})
	}
}

func TestProcessor_TaskNotFound(t *testing.T) {
	env := newTestEnv(t)
	exec := &countingExec{fn: executor.Echo()}

	p := Processor{Store: env.store, Exec: exec}
	assert.NoError(t, p.Process(context.Background(), "6f1c1f3e-1a3b-4c53-9d55-2a8e8c1f0a11"))
	assert.Zero(t, exec.calls.Load())
}

func TestProcessor_ReplayAfterTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exec := &countingExec{fn: executor.Echo()}

	task, err := env.store.Create(ctx, "X")
	require.NoError(t, err)

	p := Processor{Store: env.store, Exec: exec}
	require.NoError(t, p.Process(ctx, task.ID))
	first, err := env.store.Get(ctx, task.ID)
	require.NoError(t, err)

	require.NoError(t, p.Process(ctx, task.ID))
	second, err := env.store.Get(ctx, task.ID)
	require.NoError(t, err)

	assert.Equal(t, int32(1), exec.calls.Load(), "a finished task is never executed again")
	assert.Equal(t, first, second)
}

func TestProcessor_RedeliveryAfterCrash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.store.Create(ctx, "X")
	require.NoError(t, err)
	// The previous worker died after recording processing.
	_, err = env.store.Update(ctx, task.ID, domain.StatusPending, domain.StatusProcessing, "")
	require.NoError(t, err)

	p := Processor{Store: env.store, Exec: executor.Echo()}
	require.NoError(t, p.Process(ctx, task.ID))

	got, err := env.store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, got.Status)
	assert.Equal(t, "X-done", *got.Result)
}

func TestProcessor_LateRunDoesNotOverwriteResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.store.Create(ctx, "X")
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	slow := Processor{Store: env.store, Exec: executor.Func(func(context.Context, string) (string, error) {
		close(started)
		<-release
		return "", errors.New("late failure")
	})}
	fast := Processor{Store: env.store, Exec: executor.Func(func(context.Context, string) (string, error) {
		return "second", nil
	})}

	slowDone := make(chan error, 1)
	go func() { slowDone <- slow.Process(ctx, task.ID) }()
	<-started

	// A redelivered copy finishes while the first run is still executing.
	require.NoError(t, fast.Process(ctx, task.ID))
	close(release)
	require.NoError(t, <-slowDone)

	got, err := env.store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, got.Status)
	assert.Equal(t, "second", *got.Result)
}

// racingStore lets another delivery move the task to processing right after
// it has been loaded.
type racingStore struct {
	ports.TaskStore
	once sync.Once
}

func (s *racingStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	t, err := s.TaskStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.once.Do(func() {
		_, err = s.TaskStore.Update(ctx, id, domain.StatusPending, domain.StatusProcessing, "")
	})
	return t, err
}

func TestProcessor_LosesRaceToProcessing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.store.Create(ctx, "X")
	require.NoError(t, err)

	exec := &countingExec{fn: executor.Echo()}
	err = Processor{Store: &racingStore{TaskStore: env.store}, Exec: exec}.Process(ctx, task.ID)
	assert.NoError(t, err, "the delivery is acked; the winner owns the task")
	assert.Zero(t, exec.calls.Load())

	got, err := env.store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Nil(t, got.Result)
}

func TestProcessor_EmptyOutputStillHasResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.store.Create(ctx, "X")
	require.NoError(t, err)

	silent := executor.Func(func(context.Context, string) (string, error) { return "", nil })
	require.NoError(t, Processor{Store: env.store, Exec: silent}.Process(ctx, task.ID))

	got, err := env.store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, EmptyResult, *got.Result)
}

func TestProcessor_StoreFailures(t *testing.T) {
	ctx := context.Background()
	id := "6f1c1f3e-1a3b-4c53-9d55-2a8e8c1f0a11"
	pending := &domain.Task{ID: id, Payload: "X", Status: domain.StatusPending}
	storeDown := errors.New("connection reset")

	t.Run("load_fails", func(t *testing.T) {
		store := &mockStore{}
		store.On("Get", mock.Anything, id).Return(nil, storeDown)
		exec := &countingExec{fn: executor.Echo()}

		err := Processor{Store: store, Exec: exec}.Process(ctx, id)
		assert.ErrorIs(t, err, storeDown)
		assert.Zero(t, exec.calls.Load())
	})

	t.Run("processing_write_fails", func(t *testing.T) {
		store := &mockStore{}
		store.On("Get", mock.Anything, id).Return(pending, nil)
		store.On("Update", mock.Anything, id, domain.StatusPending, domain.StatusProcessing, "").Return(nil, storeDown)
		exec := &countingExec{fn: executor.Echo()}

		err := Processor{Store: store, Exec: exec}.Process(ctx, id)

		var writeErr *domain.StoreWriteError
		require.True(t, errors.As(err, &writeErr))
		assert.Equal(t, domain.StatusProcessing, writeErr.Status)
		assert.Zero(t, exec.calls.Load())
	})

	t.Run("done_write_fails_then_failed_recorded", func(t *testing.T) {
		store := &mockStore{}
		store.On("Get", mock.Anything, id).Return(pending, nil)
		store.On("Update", mock.Anything, id, domain.StatusPending, domain.StatusProcessing, "").Return(pending, nil)
		store.On("Update", mock.Anything, id, domain.StatusProcessing, domain.StatusDone, "X-done").Return(nil, storeDown)
		store.On("Update", mock.Anything, id, domain.StatusProcessing, domain.StatusFailed, mock.MatchedBy(func(r string) bool {
			return strings.Contains(r, "connection reset")
		})).Return(pending, nil)

		err := Processor{Store: store, Exec: executor.Echo()}.Process(ctx, id)
		assert.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("both_terminal_writes_fail", func(t *testing.T) {
		store := &mockStore{}
		store.On("Get", mock.Anything, id).Return(pending, nil)
		store.On("Update", mock.Anything, id, domain.StatusPending, domain.StatusProcessing, "").Return(pending, nil)
		store.On("Update", mock.Anything, id, domain.StatusProcessing, domain.StatusDone, "X-done").Return(nil, storeDown)
		store.On("Update", mock.Anything, id, domain.StatusProcessing, domain.StatusFailed, mock.Anything).Return(nil, storeDown)

		err := Processor{Store: store, Exec: executor.Echo()}.Process(ctx, id)

		var writeErr *domain.StoreWriteError
		require.True(t, errors.As(err, &writeErr), "the delivery must be requeued rather than wedging the task")
		assert.Equal(t, domain.StatusFailed, writeErr.Status)
	})
}
