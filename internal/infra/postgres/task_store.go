package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"taskqueue/internal/domain"
	"taskqueue/internal/ports"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var _ ports.TaskStore = (*TaskStore)(nil)

const taskColumns = `id, payload, status, result, created_at, updated_at`

// TaskStore implements ports.TaskStore using PostgreSQL. Update is a single
// conditional UPDATE, so the status check and write are atomic per row.
type TaskStore struct {
	db DBTX
}

func NewTaskStore(db DBTX) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) Create(ctx context.Context, payload string) (*domain.Task, error) {
	now := time.Now().UTC()
	t := &domain.Task{
		ID:        uuid.NewString(),
		Payload:   payload,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.Payload, string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to save task")
		return nil, fmt.Errorf("failed to save task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrTaskNotFound
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return t, nil
}

func (s *TaskStore) Update(ctx context.Context, id string, from, to domain.TaskStatus, result string) (*domain.Task, error) {
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrTaskNotFound
	}

	res := sql.NullString{String: result, Valid: to.Terminal()}
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = $1, result = COALESCE($2, result), updated_at = $3
		WHERE id = $4 AND status = $5
		RETURNING `+taskColumns,
		string(to), res, time.Now().UTC(), id, string(from))

	t, err := scanTask(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Ctx(ctx).Error().Err(err).Str("task_id", id).Str("status", string(to)).Msg("failed to update task status")
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}

	// Nothing matched: either the row is gone or its status moved on.
	var current domain.TaskStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, domain.ErrTaskNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return nil, fmt.Errorf("%w: task %s is %s, expected %s", domain.ErrStatusConflict, id, current, from)
}

func (s *TaskStore) Touch(ctx context.Context, id string, status domain.TaskStatus, seen time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET updated_at = $1
		WHERE id = $2 AND status = $3 AND updated_at = $4
	`, time.Now().UTC(), id, string(status), seen)
	if err != nil {
		return fmt.Errorf("failed to touch task %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to touch task %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s changed since %s", domain.ErrStatusConflict, id, seen.Format(time.RFC3339Nano))
	}
	return nil
}

func (s *TaskStore) Stale(ctx context.Context, status domain.TaskStatus, olderThan time.Duration, limit int) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = $1 AND updated_at <= $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, string(status), time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s tasks: %w", status, err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*domain.Task, error) {
	var (
		t      domain.Task
		result sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Payload, &t.Status, &result, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if result.Valid {
		t.Result = &result.String
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
