package domain

import "time"

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusDone       TaskStatus = "done"
	StatusFailed     TaskStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s TaskStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransition reports whether a task in status s may move to next.
// processing -> processing is a redelivery taking the task over again.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusProcessing || next.Terminal()
	default:
		return false
	}
}

type Task struct {
	ID        string     `json:"id"`
	Payload   string     `json:"payload"`
	Status    TaskStatus `json:"status"`
	Result    *string    `json:"result"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Message is the queue wire body. It only points at a task; the store is the
// source of truth.
type Message struct {
	TaskID string `json:"task_id"`
}
