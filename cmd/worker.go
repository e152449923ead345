package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/services/salesdesk/config"
	"example.com/backstage/services/salesdesk/internal/messaging"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to consume lead batches from Azure Service Bus and sweep the command inbox`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize the store, command log and processor
	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}

	// Start the lead batch consumer when a bus is configured. The sweep
	// jobs below are useful on their own, so a missing connection string
	// only logs a warning.
	if cfg.Azure.QueueConnStr != "" {
		consumer, err := messaging.NewLeadBatchConsumer(cfg.Azure, eng.proc)
		if err != nil {
			return err
		}
		defer consumer.Close()

		g.Go(func() error {
			log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting lead batch consumer")
			return consumer.Run(ctx)
		})
	} else {
		log.Warn().Msg("Service Bus connection string not set, running without the lead batch consumer")
	}

	// Start the periodic jobs: the inbox sweep picks up envelopes a
	// crashed process left behind, the purge drops expired sessions
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.SweepInterval),
			gocron.NewTask(func() {
				results, err := eng.proc.DrainPass(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Inbox sweep failed, remaining envelopes stay queued")
					return
				}
				if len(results) > 0 {
					log.Info().Int("processed", len(results)).Msg("Inbox sweep processed queued commands")
				}
			}),
		)
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.SessionPurgeInterval),
			gocron.NewTask(func() {
				purged, err := eng.sessions.Purge(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Session purge failed")
					return
				}
				if purged > 0 {
					log.Info().Int("purged", purged).Msg("Expired sessions purged")
				}
			}),
		)
		if err != nil {
			return err
		}

		// Start the scheduler
		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		// Shutdown the scheduler
		return scheduler.Shutdown()
	})

	// Wait for the goroutines to exit. A canceled context is the normal
	// shutdown path, not a failure.
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
