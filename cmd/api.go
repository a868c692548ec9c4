package cmd

import (
	"context"
	"taskqueue/internal/api"
	"taskqueue/internal/config"
	"taskqueue/internal/infra"
	"taskqueue/internal/infra/redisq"
	"taskqueue/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var (
		port        int
		storeDriver string
	)
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			if storeDriver != "" {
				cfg.Store.Driver = storeDriver
			}
			if !cmd.Flags().Changed("port") {
				port = cfg.API.Port
			}
			log.Info().Msgf("API server using stream: %s, group: %s", cfg.Redis.StreamKey, cfg.Redis.Group)

			store, closeStore, err := infra.OpenStore(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			reg := prometheus.NewRegistry()
			m := metrics.NewMetrics(reg)
			pub := redisq.NewPublisher(cfg.Redis, cfg.Broker, redisq.Dialer(cfg.Redis), m)

			server := api.NewServer(store, pub, reg)
			server.Run(port)
			return nil
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	command.Flags().StringVar(&storeDriver, "store", "", "Task store driver (redis or postgres)")
	return command
}
