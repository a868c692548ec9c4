package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"taskqueue/internal/ports"
	"time"
)

var (
	_ ports.Executor = Func(nil)
	_ ports.Executor = (*Simulated)(nil)
)

// ErrSimulatedFailure is returned by Simulated for the share of runs that fail.
var ErrSimulatedFailure = errors.New("task processing failed (simulated error)")

// Func adapts a plain function to ports.Executor.
type Func func(ctx context.Context, payload string) (string, error)

func (f Func) Execute(ctx context.Context, payload string) (string, error) {
	return f(ctx, payload)
}

// Echo returns the payload with a "-done" suffix.
func Echo() Func {
	return func(_ context.Context, payload string) (string, error) {
		return payload + "-done", nil
	}
}

// Simulated stands in for real work: it sleeps for a random duration in
// [MinDuration, MaxDuration) and fails with probability FailureRate.
type Simulated struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	FailureRate float64
	rand        func() float64
}

func NewSimulated() *Simulated {
	return &Simulated{
		MinDuration: 2 * time.Second,
		MaxDuration: 5 * time.Second,
		FailureRate: 0.1,
		rand:        rand.Float64,
	}
}

func (s *Simulated) Execute(ctx context.Context, _ string) (string, error) {
	rnd := s.rand
	if rnd == nil {
		rnd = rand.Float64
	}

	d := s.MinDuration + time.Duration(rnd()*float64(s.MaxDuration-s.MinDuration))
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.C:
	}

	if rnd() < s.FailureRate {
		return "", ErrSimulatedFailure
	}
	return fmt.Sprintf("Task processed successfully in %.2f seconds", d.Seconds()), nil
}

// New returns the executor registered under name.
func New(name string) (ports.Executor, error) {
	switch name {
	case "", "simulated":
		return NewSimulated(), nil
	case "echo":
		return Echo(), nil
	default:
		return nil, fmt.Errorf("unknown executor %q", name)
	}
}
