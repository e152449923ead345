package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/services/salesdesk/config"
	"example.com/backstage/services/salesdesk/internal/api"
	"example.com/backstage/services/salesdesk/internal/auth"
	"example.com/backstage/services/salesdesk/internal/cache"
	"example.com/backstage/services/salesdesk/internal/command"
	"example.com/backstage/services/salesdesk/internal/metrics"
	"example.com/backstage/services/salesdesk/internal/models"
	"example.com/backstage/services/salesdesk/internal/processor"
	"example.com/backstage/services/salesdesk/internal/render"
	"example.com/backstage/services/salesdesk/internal/rules"
	"example.com/backstage/services/salesdesk/internal/search"
	"example.com/backstage/services/salesdesk/internal/store"
	"example.com/backstage/services/salesdesk/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server and the command processor behind it`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	// Initialize the store, command log and processor
	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}

	// Drain whatever a previous run left in the inbox before taking new
	// commands
	if results, err := eng.proc.DrainPass(ctx); err != nil {
		log.Error().Err(err).Msg("Recovery drain pass failed, remaining envelopes stay queued")
	} else if len(results) > 0 {
		log.Info().Int("processed", len(results)).Msg("Recovered queued commands from a previous run")
	}

	// Initialize and start the server
	server := api.NewServer(cfg, api.Deps{
		Store:     eng.store,
		Processor: eng.proc,
		Sessions:  eng.sessions,
		Search:    eng.search,
		Metrics:   eng.metrics,
		Tracer:    eng.tracer,
		Renderer:  eng.renderer,
	})

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

// engine bundles the store, the command log and the processor draining
// one into the other, plus the collaborators wired through them. Every
// subcommand boots the same pipeline and differs only in what drives it.
type engine struct {
	store    *store.Store
	log      *command.Log
	sessions *auth.SessionManager
	proc     *processor.Processor
	search   *search.ElasticClient
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
	renderer render.DocumentRenderer
}

// openEngine wires the command pipeline. Redis, tracing and
// Elasticsearch degrade to disabled stand-ins, so a missing backend
// never blocks startup.
func openEngine(cfg config.Config) (*engine, error) {
	st, err := store.Open(cfg.Data.Dir, defaultSettings(cfg.Pricing))
	if err != nil {
		return nil, errors.Wrap(err, "open object store")
	}

	lg, err := command.OpenLog(cfg.Data.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "open command log")
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	sessions, err := auth.NewSessionManager(cfg.Data.Dir, cfg.Session.TTL, redisCache)
	if err != nil {
		return nil, errors.Wrap(err, "open session manager")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	renderer := render.Probe()

	proc := processor.New(st, lg, processor.Options{
		Metrics:     metricsCollector,
		Tracer:      tracer,
		Search:      elasticClient,
		Sessions:    sessions,
		Renderer:    renderer,
		RetryBudget: cfg.Worker.RetryBudget,
	})

	return &engine{
		store:    st,
		log:      lg,
		sessions: sessions,
		proc:     proc,
		search:   elasticClient,
		metrics:  metricsCollector,
		tracer:   tracer,
		renderer: renderer,
	}, nil
}

// defaultSettings converts the pricing config into the settings record
// seeded on first run
func defaultSettings(p config.PricingConfig) models.Settings {
	return models.Settings{
		CompanyName:       p.CompanyName,
		Currency:          p.Currency,
		PricePerCaseCents: rules.DollarsToCents(p.PricePerCase),
		GSTRate:           p.GSTRate,
		QSTRate:           p.QSTRate,
		CansPerCase:       p.CansPerCase,
		MinCasesPerFlavor: p.MinCasesPerFlavor,
	}
}
