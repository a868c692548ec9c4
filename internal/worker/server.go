package worker

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"taskqueue/internal/config"
	"taskqueue/internal/executor"
	"taskqueue/internal/infra"
	"taskqueue/internal/infra/redisq"
	"taskqueue/internal/metrics"
	"taskqueue/internal/ports"
	"taskqueue/internal/usecase"
	"taskqueue/pkg/backoff"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Config carries command-line overrides on top of the environment.
type Config struct {
	ConsumerName string
	StoreDriver  string
}

func Run(cfg Config) error {
	appCfg, err := config.Parse()
	if err != nil {
		return err
	}
	if cfg.ConsumerName != "" {
		appCfg.Worker.ConsumerName = cfg.ConsumerName
	}
	if cfg.StoreDriver != "" {
		appCfg.Store.Driver = cfg.StoreDriver
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	store, closeStore, err := infra.OpenStore(ctx, appCfg)
	if err != nil {
		return err
	}
	defer closeStore()

	exec, err := executor.New(appCfg.Worker.Executor)
	if err != nil {
		return err
	}

	dial := redisq.Dialer(appCfg.Redis)
	pub := redisq.NewPublisher(appCfg.Redis, appCfg.Broker, dial, m)

	// Run reconciliation sweep
	rec := &usecase.Reconciler{
		Store:      store,
		Pub:        pub,
		Queue:      pub,
		Interval:   appCfg.Worker.SweepInterval,
		StaleAfter: appCfg.Worker.StaleAfter,
		Metrics:    m,
	}
	go func() {
		if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Ctx(ctx).Error().Err(err).Msg("reconciler stopped with error")
		}
	}()

	if appCfg.Worker.MetricsAddr != "" {
		go serveMetrics(ctx, appCfg.Worker.MetricsAddr, reg)
	}

	proc := usecase.Processor{
		Store:   store,
		Exec:    exec,
		Timeout: appCfg.Worker.ExecTimeout,
		Metrics: m,
	}
	consumer := redisq.NewConsumer(appCfg.Redis, appCfg.Broker, appCfg.Worker.ConsumerName, dial, m)

	log.Ctx(ctx).Info().
		Str("consumer", appCfg.Worker.ConsumerName).
		Str("store", appCfg.Store.Driver).
		Msg("starting worker")

	return consume(ctx, consumer, proc.Process, appCfg.Worker.RestartBaseBackoff, appCfg.Worker.RestartMaxBackoff)
}

// consume runs c until ctx is cancelled, restarting it with jittered
// exponential backoff whenever it fails. A run that stayed up longer than
// maxBackoff starts the backoff over.
func consume(ctx context.Context, c ports.Consumer, handle ports.Handler, base, maxBackoff time.Duration) error {
	attempt := 0
	for {
		start := time.Now()
		err := c.Run(ctx, handle)
		if err == nil || ctx.Err() != nil {
			log.Ctx(ctx).Info().Msg("worker stopped")
			return nil
		}

		if time.Since(start) > maxBackoff {
			attempt = 0
		}
		attempt++

		delay := backoff.ExponentialJitter(base, maxBackoff, attempt)
		log.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("consumer failed, restarting")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Ctx(ctx).Info().Msg("worker stopped")
			return nil
		case <-t.C:
		}
	}
}

func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Ctx(ctx).Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Ctx(ctx).Error().Err(err).Msg("metrics server failed")
	}
}
