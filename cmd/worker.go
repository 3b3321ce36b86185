package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadforge/internal/pipeline"
	"github.com/sells-group/leadforge/internal/resilience"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline worker",
	Long:  "Consumes tasks from the queue and drives leads through enrichment and the follow-on stages. Run alongside serve, or scale out with several workers sharing the consumer group.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := workerConcurrency
		if concurrency == 0 {
			concurrency = cfg.Queue.Concurrency
		}

		runner := pipeline.NewRunner(env.Store, env.Enrich, env.Queue)
		worker := pipeline.NewWorker(env.Queue, runner, pipeline.WorkerOptions{
			Concurrency: concurrency,
			Retry: resilience.RetryConfig{
				MaxAttempts:    cfg.Queue.MaxAttempts,
				InitialBackoff: time.Second,
			},
		})
		return worker.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "parallel task handlers (default from config)")
	rootCmd.AddCommand(workerCmd)
}
