package usecase

import (
	"context"
	"taskqueue/internal/domain"
	"taskqueue/internal/ports"

	"github.com/rs/zerolog/log"
)

type Enqueuer struct {
	Store ports.TaskStore
	Pub   ports.Publisher
}

// Submit persists a new pending task and schedules it. A failed publish is
// not an error: the task stays pending and the reconciliation sweep picks it
// up later. The returned bool reports whether the task was scheduled.
func (e Enqueuer) Submit(ctx context.Context, payload string) (*domain.Task, bool, error) {
	t, err := e.Store.Create(ctx, payload)
	if err != nil {
		return nil, false, err
	}

	if !e.Pub.Enqueue(ctx, t.ID) {
		log.Ctx(ctx).Warn().Str("task_id", t.ID).Msg("failed to publish task to queue, leaving it pending")
		return t, false, nil
	}
	return t, true, nil
}
