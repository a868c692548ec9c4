package redisq

import (
	"context"
	"errors"
	"sync/atomic"
	"taskqueue/internal/config"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, config.Redis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := config.Redis{
		Addr:         mr.Addr(),
		StreamKey:    "tasks",
		Group:        "workers",
		DLQStreamKey: "tasks:dead",
		KeyPrefix:    "task:",
	}
	return mr, cfg
}

func testBroker() config.Broker {
	return config.Broker{
		ConnectRetries:        3,
		ConnectBaseDelay:      time.Millisecond,
		PublishRetries:        5,
		PublishRetryDelay:     time.Millisecond,
		PublishConnectRetries: 1,
		PublishConnectDelay:   time.Millisecond,
		BlockTimeout:          20 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, cfg config.Redis) *redis.Client {
	t.Helper()

	rdb, err := Dialer(cfg)(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// flakyDial fails the first `failures` dials and then delegates to dial.
type flakyDial struct {
	failures int32
	calls    atomic.Int32
	dial     DialFunc
}

func (f *flakyDial) Dial(ctx context.Context) (*redis.Client, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return nil, errors.New("dial tcp: connection refused")
	}
	return f.dial(ctx)
}
