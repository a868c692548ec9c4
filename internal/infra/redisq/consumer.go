package redisq

import (
	"context"
	"errors"
	"fmt"
	"taskqueue/internal/config"
	"taskqueue/internal/metrics"
	"taskqueue/internal/ports"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Consumer = (*Consumer)(nil)

// Consumer reads task references from the stream one at a time. The next
// entry is not read until the current one has been acked or nacked.
type Consumer struct {
	Cfg     config.Redis
	Broker  config.Broker
	Name    string
	Dial    DialFunc
	Metrics *metrics.Metrics
}

func NewConsumer(cfg config.Redis, broker config.Broker, name string, dial DialFunc, m *metrics.Metrics) *Consumer {
	return &Consumer{Cfg: cfg, Broker: broker, Name: name, Dial: dial, Metrics: m}
}

// Run consumes until ctx is cancelled, in which case it returns nil. A
// handler already running is not interrupted by cancellation. Connection
// failures are returned after closing the client.
func (c *Consumer) Run(ctx context.Context, handle ports.Handler) error {
	logger := log.Ctx(ctx).With().
		Str("stream", c.Cfg.StreamKey).
		Str("group", c.Cfg.Group).
		Str("consumer", c.Name).
		Logger()

	rdb, err := Connect(ctx, c.Dial, c.Broker.ConnectRetries, c.Broker.ConnectBaseDelay)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close redis connection")
		}
	}()

	if err := declareGroup(ctx, rdb, c.Cfg.StreamKey, c.Cfg.Group); err != nil {
		return err
	}

	logger.Info().Msg("waiting for messages")
	for {
		if ctx.Err() != nil {
			logger.Info().Msg("stopping consumer")
			return nil
		}

		msg, err := c.next(ctx, rdb)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("stopping consumer")
				return nil
			}
			logger.Error().Err(err).Msg("error in consumer")
			return fmt.Errorf("receive from %s: %w", c.Cfg.StreamKey, err)
		}
		if msg == nil {
			continue
		}

		if err := c.deliver(context.WithoutCancel(ctx), rdb, *msg, handle); err != nil {
			logger.Error().Err(err).Str("message_id", msg.ID).Msg("error in consumer")
			return err
		}
	}
}

// next returns one entry idle in another consumer's pending list, or else
// blocks for a fresh one. A nil message means the block timed out.
func (c *Consumer) next(ctx context.Context, rdb *redis.Client) (*redis.XMessage, error) {
	if c.Broker.ClaimMinIdle > 0 {
		msgs, _, err := rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.Cfg.StreamKey,
			Group:    c.Cfg.Group,
			Consumer: c.Name,
			MinIdle:  c.Broker.ClaimMinIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			log.Ctx(ctx).Info().Str("message_id", msgs[0].ID).Msg("reclaimed idle delivery")
			return &msgs[0], nil
		}
	}

	res, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.Cfg.Group,
		Consumer: c.Name,
		Streams:  []string{c.Cfg.StreamKey, ">"},
		Count:    1,
		Block:    c.Broker.BlockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}
	return &res[0].Messages[0], nil
}

func (c *Consumer) deliver(ctx context.Context, rdb *redis.Client, msg redis.XMessage, handle ports.Handler) error {
	taskID, err := decodeMessage(msg.Values)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("message_id", msg.ID).Msg("invalid message format")
		return c.reject(ctx, rdb, msg, err.Error())
	}

	stop := c.keepClaimed(ctx, rdb, msg.ID)
	err = invoke(ctx, handle, taskID)
	stop()
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("task_id", taskID).Msg("error processing message")
		return c.requeue(ctx, rdb, msg)
	}
	return c.ack(ctx, rdb, msg.ID)
}

// keepClaimed re-claims the entry for this consumer every half ClaimMinIdle
// while the handler runs, so a long run is not taken for a dead consumer's
// and handed to another one by XAUTOCLAIM.
func (c *Consumer) keepClaimed(ctx context.Context, rdb *redis.Client, id string) func() {
	if c.Broker.ClaimMinIdle <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(c.Broker.ClaimMinIdle / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := rdb.XClaimJustID(ctx, &redis.XClaimArgs{
					Stream:   c.Cfg.StreamKey,
					Group:    c.Cfg.Group,
					Consumer: c.Name,
					Messages: []string{id},
				}).Err()
				if err != nil {
					log.Ctx(ctx).Warn().Err(err).Str("message_id", id).Msg("failed to refresh delivery claim")
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func invoke(ctx context.Context, handle ports.Handler, taskID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handle(ctx, taskID)
}

func (c *Consumer) ack(ctx context.Context, rdb *redis.Client, id string) error {
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, c.Cfg.StreamKey, c.Cfg.Group, id)
		pipe.XDel(ctx, c.Cfg.StreamKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	c.Metrics.Delivery(metrics.DeliveryAck)
	return nil
}

// requeue puts the entry back at the tail of the stream.
func (c *Consumer) requeue(ctx context.Context, rdb *redis.Client, msg redis.XMessage) error {
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, c.Cfg.StreamKey, c.Cfg.Group, msg.ID)
		pipe.XDel(ctx, c.Cfg.StreamKey, msg.ID)
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: c.Cfg.StreamKey, Values: msg.Values})
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue %s: %w", msg.ID, err)
	}
	c.Metrics.Delivery(metrics.DeliveryRequeue)
	return nil
}

// reject drops the entry without requeue, keeping a copy on the dead-letter stream.
func (c *Consumer) reject(ctx context.Context, rdb *redis.Client, msg redis.XMessage, reason string) error {
	dead := make(map[string]any, len(msg.Values)+2)
	for k, v := range msg.Values {
		dead[k] = v
	}
	dead["reason"] = reason
	dead["message_id"] = msg.ID

	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: c.Cfg.DLQStreamKey, Values: dead})
		pipe.XAck(ctx, c.Cfg.StreamKey, c.Cfg.Group, msg.ID)
		pipe.XDel(ctx, c.Cfg.StreamKey, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reject %s: %w", msg.ID, err)
	}
	c.Metrics.Delivery(metrics.DeliveryReject)
	return nil
}
