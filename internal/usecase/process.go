package usecase

import (
	"context"
	"errors"
	"fmt"
	"taskqueue/internal/domain"
	"taskqueue/internal/metrics"
	"taskqueue/internal/ports"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EmptyResult is recorded for a successful run that produced no output, since
// a finished task always carries a result.
const EmptyResult = "Task completed with no output"

// Processor drives one delivered task through
// pending -> processing -> done|failed.
type Processor struct {
	Store   ports.TaskStore
	Exec    ports.Executor
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// Process is a ports.Handler. It returns nil when the delivery should be
// acked: the task reached a terminal state, was already terminal, or does
// not exist. It returns an error, and so asks for redelivery, when the task
// could not be moved to processing or no terminal state could be recorded.
// Losing the race to processing against another delivery is not an error.
func (p Processor) Process(ctx context.Context, taskID string) error {
	logger := log.Ctx(ctx).With().Str("task_id", taskID).Logger()

	t, err := p.Store.Get(ctx, taskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		logger.Error().Msg("task not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	if t.Status.Terminal() {
		logger.Info().Str("status", string(t.Status)).Msg("task already finished, skipping redelivery")
		return nil
	}

	if _, err := p.Store.Update(ctx, taskID, t.Status, domain.StatusProcessing, ""); err != nil {
		switch {
		case errors.Is(err, domain.ErrTaskNotFound):
			logger.Error().Msg("task not found")
			return nil
		case errors.Is(err, domain.ErrStatusConflict):
			// Another delivery took the task first and owns it now.
			logger.Info().Err(err).Msg("task claimed by another delivery, skipping")
			return nil
		}
		return &domain.StoreWriteError{TaskID: taskID, Status: domain.StatusProcessing, Err: err}
	}
	logger.Info().Str("previous", string(t.Status)).Msg("task status updated to processing")

	out, err := p.execute(ctx, t.Payload)
	if err != nil {
		return p.fail(ctx, logger, taskID, err)
	}
	if out == "" {
		out = EmptyResult
	}

	_, err = p.Store.Update(ctx, taskID, domain.StatusProcessing, domain.StatusDone, out)
	switch {
	case err == nil:
		logger.Info().Msg("task completed successfully")
		p.Metrics.Processed(domain.StatusDone)
		return nil
	case errors.Is(err, domain.ErrStatusConflict):
		logger.Info().Err(err).Msg("task already finalized by another delivery")
		return nil
	}

	logger.Error().Err(err).Msg("failed to record task result")
	return p.fail(ctx, logger, taskID, &domain.StoreWriteError{TaskID: taskID, Status: domain.StatusDone, Err: err})
}

// fail records the task as failed with a diagnostic result.
func (p Processor) fail(ctx context.Context, logger zerolog.Logger, taskID string, cause error) error {
	logger.Warn().Err(cause).Msg("task failed")

	_, err := p.Store.Update(ctx, taskID, domain.StatusProcessing, domain.StatusFailed, "Error: "+cause.Error())
	switch {
	case err == nil:
		p.Metrics.Processed(domain.StatusFailed)
		return nil
	case errors.Is(err, domain.ErrStatusConflict):
		logger.Info().Err(err).Msg("task already finalized by another delivery")
		return nil
	}

	logger.Error().Err(err).Msg("failed to update task status")
	return &domain.StoreWriteError{TaskID: taskID, Status: domain.StatusFailed, Err: err}
}

func (p Processor) execute(ctx context.Context, payload string) (out string, err error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
		p.Metrics.ObserveExecution(time.Since(start))
		if err != nil {
			err = &domain.ExecutionError{Err: err}
		}
	}()

	return p.Exec.Execute(ctx, payload)
}
