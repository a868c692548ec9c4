package usecase

import (
	"context"
	"errors"
	"fmt"
	"taskqueue/internal/domain"
	"taskqueue/internal/metrics"
	"taskqueue/internal/ports"
	"time"

	"github.com/rs/zerolog/log"
)

// Reconciler republishes tasks that have sat in a non-terminal status for
// longer than StaleAfter and have no message left in the queue: pending tasks
// whose publish failed and processing tasks whose message was dropped.
// Deliveries of a dead worker stay in the queue and are reclaimed there.
type Reconciler struct {
	Store      ports.TaskStore
	Pub        ports.Publisher
	Queue      ports.QueueInspector
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	Metrics    *metrics.Metrics
}

func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if n, err := r.Sweep(ctx); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("reconciliation sweep failed")
		} else if n > 0 {
			log.Ctx(ctx).Info().Int("republished", n).Msg("republished stale tasks")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass and returns how many tasks were republished.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	limit := r.BatchSize
	if limit <= 0 {
		limit = 128
	}

	// Taken before listing stale tasks: a message published later belongs to
	// a task that was touched, which the Touch below detects.
	inFlight, err := r.Queue.InFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("list queued tasks: %w", err)
	}

	n := 0
	for _, status := range []domain.TaskStatus{domain.StatusPending, domain.StatusProcessing} {
		tasks, err := r.Store.Stale(ctx, status, r.StaleAfter, limit)
		if err != nil {
			return n, err
		}

		for _, t := range tasks {
			if _, ok := inFlight[t.ID]; ok {
				continue
			}

			// Touching first keeps the next sweep, here or in another worker,
			// from republishing the same task; a conflict means someone else
			// got to it.
			if err := r.Store.Touch(ctx, t.ID, status, t.UpdatedAt); err != nil {
				if errors.Is(err, domain.ErrStatusConflict) || errors.Is(err, domain.ErrTaskNotFound) {
					continue
				}
				return n, err
			}

			if !r.Pub.Enqueue(ctx, t.ID) {
				log.Ctx(ctx).Warn().Str("task_id", t.ID).Str("status", string(status)).Msg("failed to republish stale task")
				continue
			}
			r.Metrics.Republished()
			n++
		}
	}
	return n, nil
}
