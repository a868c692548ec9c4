// Package infra selects the task store backend from configuration.
package infra

import (
	"context"
	"fmt"
	"taskqueue/internal/config"
	"taskqueue/internal/infra/postgres"
	"taskqueue/internal/infra/redisq"
	"taskqueue/internal/ports"
)

// OpenStore returns the configured task store and a function releasing its
// connection.
func OpenStore(ctx context.Context, cfg *config.Config) (ports.TaskStore, func() error, error) {
	switch cfg.Store.Driver {
	case "", "redis":
		rdb, err := redisq.Connect(ctx, redisq.Dialer(cfg.Redis), cfg.Broker.ConnectRetries, cfg.Broker.ConnectBaseDelay)
		if err != nil {
			return nil, nil, err
		}
		return redisq.NewTaskStore(rdb, cfg.Redis), rdb.Close, nil
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		db, err := postgres.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewTaskStore(db), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
