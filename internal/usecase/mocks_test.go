package usecase

import (
	"context"
	"taskqueue/internal/config"
	"taskqueue/internal/domain"
	"taskqueue/internal/infra/redisq"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Create(ctx context.Context, payload string) (*domain.Task, error) {
	args := m.Called(ctx, payload)
	t, _ := args.Get(0).(*domain.Task)
	return t, args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(*domain.Task)
	return t, args.Error(1)
}

func (m *mockStore) Update(ctx context.Context, id string, from, to domain.TaskStatus, result string) (*domain.Task, error) {
	args := m.Called(ctx, id, from, to, result)
	t, _ := args.Get(0).(*domain.Task)
	return t, args.Error(1)
}

func (m *mockStore) Touch(ctx context.Context, id string, status domain.TaskStatus, seen time.Time) error {
	return m.Called(ctx, id, status, seen).Error(0)
}

func (m *mockStore) Stale(ctx context.Context, status domain.TaskStatus, olderThan time.Duration, limit int) ([]domain.Task, error) {
	args := m.Called(ctx, status, olderThan, limit)
	tasks, _ := args.Get(0).([]domain.Task)
	return tasks, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Enqueue(ctx context.Context, taskID string) bool {
	return m.Called(ctx, taskID).Bool(0)
}

// queued is a fixed ports.QueueInspector answer.
type queued map[string]struct{}

func (q queued) InFlight(context.Context) (map[string]struct{}, error) {
	return q, nil
}

type testEnv struct {
	cfg   config.Redis
	store *redisq.TaskStore
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := config.Redis{
		Addr:         mr.Addr(),
		StreamKey:    "tasks",
		Group:        "workers",
		DLQStreamKey: "tasks:dead",
		KeyPrefix:    "task:",
	}

	rdb, err := redisq.Dialer(cfg)(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	return testEnv{cfg: cfg, store: redisq.NewTaskStore(rdb, cfg)}
}

func testBroker() config.Broker {
	b := config.DefaultBroker()
	b.ConnectRetries = 3
	b.ConnectBaseDelay = time.Millisecond
	b.PublishRetryDelay = time.Millisecond
	b.PublishConnectDelay = time.Millisecond
	b.ClaimMinIdle = 0
	b.BlockTimeout = 20 * time.Millisecond
	return b
}
