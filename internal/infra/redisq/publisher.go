package redisq

import (
	"context"
	"fmt"
	"taskqueue/internal/config"
	"taskqueue/internal/metrics"
	"taskqueue/internal/ports"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	_ ports.Publisher      = (*Publisher)(nil)
	_ ports.QueueInspector = (*Publisher)(nil)
)

const inFlightPage = 512

type Publisher struct {
	Cfg     config.Redis
	Broker  config.Broker
	Dial    DialFunc
	Metrics *metrics.Metrics
}

func NewPublisher(cfg config.Redis, broker config.Broker, dial DialFunc, m *metrics.Metrics) *Publisher {
	return &Publisher{Cfg: cfg, Broker: broker, Dial: dial, Metrics: m}
}

// Enqueue publishes a reference to taskID, retrying the whole
// connect-declare-publish sequence with a fixed delay. It returns false once
// the attempts are exhausted; the task record is never touched.
func (p *Publisher) Enqueue(ctx context.Context, taskID string) bool {
	retries := max(p.Broker.PublishRetries, 1)
	logger := log.Ctx(ctx).With().Str("task_id", taskID).Logger()

	for attempt := 0; attempt < retries; attempt++ {
		err := p.publish(ctx, taskID)
		p.Metrics.PublishAttempt(err == nil)
		if err == nil {
			logger.Info().Int("attempt", attempt+1).Msg("task published to queue")
			p.Metrics.Enqueued(true)
			return true
		}

		if attempt == retries-1 {
			logger.Error().Err(err).Int("attempts", retries).Msg("failed to publish task")
			break
		}

		logger.Warn().Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", retries).
			Msg("failed to publish task, retrying")

		if err := sleep(ctx, p.Broker.PublishRetryDelay); err != nil {
			logger.Error().Err(err).Msg("publish aborted")
			break
		}
	}

	p.Metrics.Enqueued(false)
	return false
}

func (p *Publisher) publish(ctx context.Context, taskID string) error {
	rdb, err := Connect(ctx, p.Dial, p.Broker.PublishConnectRetries, p.Broker.PublishConnectDelay)
	if err != nil {
		return err
	}
	defer rdb.Close()

	if err := declareGroup(ctx, rdb, p.Cfg.StreamKey, p.Cfg.Group); err != nil {
		return err
	}

	body, err := encodeMessage(taskID)
	if err != nil {
		return err
	}

	if err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Cfg.StreamKey,
		Values: map[string]any{bodyField: body},
	}).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.Cfg.StreamKey, err)
	}
	return nil
}

// InFlight scans the stream for task references. Entries are deleted on ack,
// so everything still in the stream is either unread or delivered and
// unacked. Malformed entries are skipped.
func (p *Publisher) InFlight(ctx context.Context) (map[string]struct{}, error) {
	rdb, err := Connect(ctx, p.Dial, p.Broker.PublishConnectRetries, p.Broker.PublishConnectDelay)
	if err != nil {
		return nil, err
	}
	defer rdb.Close()

	ids := make(map[string]struct{})
	start, last := "-", ""
	for {
		msgs, err := rdb.XRangeN(ctx, p.Cfg.StreamKey, start, "+", inFlightPage).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", p.Cfg.StreamKey, err)
		}
		for _, m := range msgs {
			if m.ID == last {
				continue
			}
			if taskID, err := decodeMessage(m.Values); err == nil {
				ids[taskID] = struct{}{}
			}
		}
		if len(msgs) < inFlightPage {
			return ids, nil
		}
		last = msgs[len(msgs)-1].ID
		start = last
	}
}
