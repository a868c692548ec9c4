package redisq

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"taskqueue/internal/config"
	"taskqueue/internal/domain"
	"taskqueue/pkg/backoff"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const maxConnectDelay = 10 * time.Second

// DialFunc opens one connection and verifies it is usable.
type DialFunc func(ctx context.Context) (*redis.Client, error)

// Dialer returns a DialFunc for the configured Redis server.
func Dialer(cfg config.Redis) DialFunc {
	return func(ctx context.Context) (*redis.Client, error) {
		c := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return c, nil
	}
}

// Connect dials up to maxRetries times, sleeping base*2^min(attempt,3)
// (capped at 10s) between attempts. It does not sleep after the last one.
func Connect(ctx context.Context, dial DialFunc, maxRetries int, baseDelay time.Duration) (*redis.Client, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		c, err := dial(ctx)
		if err == nil {
			log.Ctx(ctx).Info().Int("attempt", attempt+1).Msg("connected to redis")
			return c, nil
		}
		lastErr = err

		if attempt == maxRetries-1 {
			break
		}

		delay := backoff.Capped(baseDelay, maxConnectDelay, attempt, 3)
		log.Ctx(ctx).Warn().Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", maxRetries).
			Dur("retry_in", delay).
			Msg("failed to connect to redis, retrying")

		if err := sleep(ctx, delay); err != nil {
			return nil, &domain.ConnectionError{Attempts: attempt + 1, Err: err}
		}
	}

	log.Ctx(ctx).Error().Err(lastErr).Int("attempts", maxRetries).Msg("giving up connecting to redis")
	return nil, &domain.ConnectionError{Attempts: maxRetries, Err: lastErr}
}

// declareGroup makes sure the stream and its consumer group exist.
func declareGroup(ctx context.Context, rdb *redis.Client, stream, group string) error {
	err := rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nowMs() float64 { return float64(time.Now().UnixMilli()) }

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
