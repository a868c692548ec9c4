package ports

import (
	"context"
	"taskqueue/internal/domain"
	"time"
)

// Handler processes one delivered task reference. A nil return acks the
// delivery; an error nacks it with requeue.
type Handler func(ctx context.Context, taskID string) error

type Publisher interface {
	// Enqueue is best effort: false means "not yet scheduled", never task failure.
	Enqueue(ctx context.Context, taskID string) bool
}

// QueueInspector lists the tasks still referenced by a queue message, either
// waiting to be read or delivered and not yet acked.
type QueueInspector interface {
	InFlight(ctx context.Context) (map[string]struct{}, error)
}

type Consumer interface {
	Run(ctx context.Context, handle Handler) error
}

// TaskStore persists task records. Update must be atomic per id.
type TaskStore interface {
	Create(ctx context.Context, payload string) (*domain.Task, error)
	Get(ctx context.Context, id string) (*domain.Task, error)
	// Update moves the task from status `from` to `to`. It fails with
	// domain.ErrStatusConflict when the persisted status is not `from`.
	// result is stored only for terminal statuses.
	Update(ctx context.Context, id string, from, to domain.TaskStatus, result string) (*domain.Task, error)
	// Touch refreshes updated_at of a task still in status and last updated
	// at seen. Anything else is domain.ErrStatusConflict.
	Touch(ctx context.Context, id string, status domain.TaskStatus, seen time.Time) error
	Stale(ctx context.Context, status domain.TaskStatus, olderThan time.Duration, limit int) ([]domain.Task, error)
}

type Executor interface {
	Execute(ctx context.Context, payload string) (string, error)
}
