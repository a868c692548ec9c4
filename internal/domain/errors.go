package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrStatusConflict    = errors.New("task status changed concurrently")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// ConnectionError is returned when the broker stays unreachable after the
// bounded number of connection attempts.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// MalformedMessageError marks a delivery whose body can never be handled.
type MalformedMessageError struct {
	Body string
	Err  error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message %q: %v", e.Body, e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return "execution failed: " + e.Err.Error() }

func (e *ExecutionError) Unwrap() error { return e.Err }

// StoreWriteError wraps a persistence failure while recording a transition.
type StoreWriteError struct {
	TaskID string
	Status TaskStatus
	Err    error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("persist task %s as %s: %v", e.TaskID, e.Status, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }
