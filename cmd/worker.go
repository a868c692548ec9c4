package cmd

import (
	"taskqueue/internal/worker"

	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	var (
		consumerName string
		storeDriver  string
	)

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start worker server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Run(worker.Config{
				ConsumerName: consumerName,
				StoreDriver:  storeDriver,
			})
		},
	}

	command.Flags().StringVar(&consumerName, "consumer", "", "Worker consumer name (defaults to WORKER_CONSUMER)")
	command.Flags().StringVar(&storeDriver, "store", "", "Task store driver (redis or postgres)")

	return command
}
