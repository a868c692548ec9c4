package redisq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"taskqueue/internal/config"
	"taskqueue/internal/domain"
	"taskqueue/internal/ports"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ ports.TaskStore = (*TaskStore)(nil)

// updateScript checks the current status and applies the transition in one
// step. Returns 1 on success, 0 when the task is missing and -1 on a status
// mismatch.
//
// KEYS: task hash, index of the old status, index of the new status.
// ARGV: from, to, result, updated_at ms, has result, id, index new status.
var updateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
  return 0
end
if cur ~= ARGV[1] then
  return -1
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[4])
if ARGV[5] == '1' then
  redis.call('HSET', KEYS[1], 'result', ARGV[3])
end
redis.call('ZREM', KEYS[2], ARGV[6])
if ARGV[7] == '1' then
  redis.call('ZADD', KEYS[3], ARGV[4], ARGV[6])
end
return 1
`)

// touchScript moves updated_at forward only when status and updated_at
// still match what the caller saw. Returns 1 on success, -1 otherwise.
//
// KEYS: task hash, index of the status.
// ARGV: status, seen updated_at ms, new updated_at ms, id.
var touchScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'status', 'updated_at')
if cur[1] ~= ARGV[1] or cur[2] ~= ARGV[2] then
  return -1
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

// TaskStore keeps each task in a hash and indexes non-terminal tasks in one
// sorted set per status, scored by updated_at.
type TaskStore struct {
	Rdb    *redis.Client
	Prefix string
}

func NewTaskStore(rdb *redis.Client, cfg config.Redis) *TaskStore {
	return &TaskStore{Rdb: rdb, Prefix: cfg.KeyPrefix}
}

func (s *TaskStore) key(id string) string { return s.Prefix + id }

func (s *TaskStore) index(status domain.TaskStatus) string {
	return s.Prefix + "status:" + string(status)
}

func (s *TaskStore) Create(ctx context.Context, payload string) (*domain.Task, error) {
	now := time.UnixMilli(time.Now().UnixMilli()).UTC()
	t := &domain.Task{
		ID:        uuid.NewString(),
		Payload:   payload,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.Rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(t.ID), map[string]any{
			"payload":    t.Payload,
			"status":     string(t.Status),
			"created_at": now.UnixMilli(),
			"updated_at": now.UnixMilli(),
		})
		pipe.ZAdd(ctx, s.index(t.Status), redis.Z{Score: float64(now.UnixMilli()), Member: t.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	h, err := s.Rdb.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, domain.ErrTaskNotFound
	}

	t := &domain.Task{
		ID:        id,
		Payload:   h["payload"],
		Status:    domain.TaskStatus(h["status"]),
		CreatedAt: parseMs(h["created_at"]),
		UpdatedAt: parseMs(h["updated_at"]),
	}
	if r, ok := h["result"]; ok {
		t.Result = &r
	}
	return t, nil
}

func (s *TaskStore) Update(ctx context.Context, id string, from, to domain.TaskStatus, result string) (*domain.Task, error) {
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	now := time.Now().UnixMilli()
	res, err := updateScript.Run(ctx, s.Rdb,
		[]string{s.key(id), s.index(from), s.index(to)},
		string(from), string(to), result, now, flag(to.Terminal()), id, flag(!to.Terminal()),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}

	switch res {
	case 0:
		return nil, domain.ErrTaskNotFound
	case -1:
		return nil, fmt.Errorf("%w: task %s is no longer %s", domain.ErrStatusConflict, id, from)
	}
	return s.Get(ctx, id)
}

func (s *TaskStore) Touch(ctx context.Context, id string, status domain.TaskStatus, seen time.Time) error {
	now := max(time.Now().UnixMilli(), seen.UnixMilli()+1)
	res, err := touchScript.Run(ctx, s.Rdb,
		[]string{s.key(id), s.index(status)},
		string(status), strconv.FormatInt(seen.UnixMilli(), 10), now, id,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to touch task %s: %w", id, err)
	}
	if res != 1 {
		return fmt.Errorf("%w: task %s changed since %s", domain.ErrStatusConflict, id, seen.Format(time.RFC3339Nano))
	}
	return nil
}

func (s *TaskStore) Stale(ctx context.Context, status domain.TaskStatus, olderThan time.Duration, limit int) ([]domain.Task, error) {
	cutoff := nowMs() - float64(olderThan.Milliseconds())
	ids, err := s.Rdb.ZRangeByScore(ctx, s.index(status), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmtFloat(cutoff),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s tasks: %w", status, err)
	}

	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrTaskNotFound) {
				_ = s.Rdb.ZRem(ctx, s.index(status), id).Err()
				continue
			}
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func parseMs(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
