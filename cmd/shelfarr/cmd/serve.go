package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shelfarr/shelfarr/internal/cache"
	"github.com/shelfarr/shelfarr/internal/config"
	"github.com/shelfarr/shelfarr/internal/database"
	"github.com/shelfarr/shelfarr/internal/events"
	"github.com/shelfarr/shelfarr/internal/fetch"
	internalhttp "github.com/shelfarr/shelfarr/internal/http"
	"github.com/shelfarr/shelfarr/internal/http/handlers"
	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/observability"
	"github.com/shelfarr/shelfarr/internal/provider"
	"github.com/shelfarr/shelfarr/internal/repository"
	"github.com/shelfarr/shelfarr/internal/scheduler"
	"github.com/shelfarr/shelfarr/internal/service"
	"github.com/shelfarr/shelfarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the shelfarr server",
	Long: `Start the shelfarr HTTP server, job workers, and scheduler.

The server provides:
- REST API for managing libraries, entities, and jobs
- Server-sent events at /api/v1/events
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8484, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Asset cache directory (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd.Flags(), cfg)

	logger := slog.Default()

	// Database
	db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"))
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Repositories
	libraryRepo := repository.NewLibraryRepository(db.DB)
	entityRepo := repository.NewEntityRepository(db.DB)
	candidateRepo := repository.NewCandidateRepository(db.DB)
	configRepo := repository.NewSelectionConfigRepository(db.DB)
	jobRepo := repository.NewJobRepository(db.DB)
	cacheEntryRepo := repository.NewCacheEntryRepository(db.DB)
	auditRepo := repository.NewPublishAuditRepository(db.DB)

	// Event bus
	bus := events.NewBus(
		events.WithBufferSize(cfg.Events.BufferSize),
		events.WithLogger(observability.WithComponent(logger, "events")))

	// Provider gateway: each provider gets its own breaker and rate limit
	gateway := provider.NewGateway(
		provider.WithGatewayLogger(observability.WithComponent(logger, "provider")))

	for _, pc := range cfg.Providers.Order {
		breaker := fetch.NewCircuitBreaker(cfg.Providers.BreakerThreshold, cfg.Providers.BreakerTimeout, 1)
		client := fetch.NewWithBreaker(fetch.Config{
			Timeout:       cfg.Providers.Timeout,
			RetryAttempts: cfg.Providers.RetryAttempts,
			UserAgent:     "shelfarr/" + version.Version,
			Logger:        observability.WithComponent(logger, "fetch"),
		}, breaker)

		rate := pc.RatePerSec
		if rate <= 0 {
			rate = 4
		}
		burst := pc.Burst
		if burst <= 0 {
			burst = 8
		}

		p := provider.NewRESTProvider(pc.Name, pc.BaseURL, pc.APIKey, client)
		if err := gateway.Register(p, rate, burst, breaker); err != nil {
			return fmt.Errorf("registering provider %s: %w", pc.Name, err)
		}
	}

	// Asset cache
	store, err := cache.NewStore(cfg.Storage.BaseDir, cacheEntryRepo,
		cache.WithGracePeriod(cfg.Storage.GCGracePeriod),
		cache.WithMaxAssetSize(cfg.Storage.MaxAssetSize.Bytes()),
		cache.WithLogger(observability.WithComponent(logger, "cache")))
	if err != nil {
		return fmt.Errorf("initializing asset cache: %w", err)
	}

	// Asset downloads share a client without a breaker; a slow image host
	// should not cut off the provider that referenced it.
	downloadClient := fetch.New(fetch.Config{
		Timeout:         cfg.Providers.Timeout,
		RetryAttempts:   cfg.Providers.RetryAttempts,
		MaxResponseSize: cfg.Storage.MaxAssetSize.Bytes(),
		UserAgent:       "shelfarr/" + version.Version,
		Logger:          observability.WithComponent(logger, "fetch"),
	})

	// Services
	scanner := service.NewFilesystemScanner().
		WithLogger(observability.WithComponent(logger, "scanner"))

	scanService := service.NewScanService(libraryRepo, entityRepo, scanner, bus).
		WithLogger(observability.WithComponent(logger, "scan"))

	identifyService := service.NewIdentifyService(entityRepo, gateway, bus).
		WithLogger(observability.WithComponent(logger, "identify"))

	enrichService := service.NewEnrichService(
		entityRepo, libraryRepo, candidateRepo, configRepo, gateway, store, downloadClient, bus).
		WithLogger(observability.WithComponent(logger, "enrich")).
		WithDownloadConcurrency(cfg.Enrichment.DownloadConcurrency)

	publishService := service.NewPublishService(
		entityRepo, libraryRepo, candidateRepo, auditRepo, store, bus).
		WithLogger(observability.WithComponent(logger, "publish"))

	maintenanceService := service.NewMaintenanceService(store, bus).
		WithLogger(observability.WithComponent(logger, "maintenance"))

	// Job execution
	executor := scheduler.NewExecutor(jobRepo, bus).
		WithLogger(observability.WithComponent(logger, "executor"))
	executor.RegisterHandler(models.JobTypeScan, scheduler.NewScanHandler(scanService, jobRepo, bus))
	executor.RegisterHandler(models.JobTypeIdentify, scheduler.NewIdentifyHandler(identifyService))
	executor.RegisterHandler(models.JobTypeEnrich, scheduler.NewEnrichHandler(enrichService, jobRepo, bus))
	executor.RegisterHandler(models.JobTypePublish, scheduler.NewPublishHandler(publishService))
	executor.RegisterHandler(models.JobTypeCacheGC, scheduler.NewCacheGCHandler(maintenanceService))

	runner := scheduler.NewRunner(jobRepo, executor).
		WithConfig(scheduler.RunnerConfig{
			WorkerCount:  cfg.Scheduler.WorkerCount,
			PollInterval: cfg.Scheduler.PollInterval,
			LockTimeout:  cfg.Scheduler.LockTimeout,
			JobTimeout:   cfg.Scheduler.JobTimeout,
			CleanupAge:   cfg.Scheduler.CleanupAge,
		}).
		WithLogger(observability.WithComponent(logger, "runner"))

	sched := scheduler.NewScheduler(jobRepo, libraryRepo, entityRepo, bus).
		WithConfig(scheduler.SchedulerConfig{
			SyncInterval: cfg.Scheduler.SyncInterval,
			ScanCron:     cfg.Scheduler.ScanCron,
			GCCron:       cfg.Storage.GCCron,
		}).
		WithLogger(observability.WithComponent(logger, "scheduler"))

	// HTTP server
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithCacheStore(store).
		WithGateway(gateway)
	healthHandler.Register(server.API())

	libraryHandler := handlers.NewLibraryHandler(libraryRepo, configRepo, sched)
	libraryHandler.Register(server.API())

	entityHandler := handlers.NewEntityHandler(entityRepo, candidateRepo, store, sched, logger)
	entityHandler.Register(server.API())

	jobHandler := handlers.NewJobHandler(jobRepo, runner)
	jobHandler.Register(server.API())

	eventsHandler := handlers.NewEventsHandler(bus, logger)
	eventsHandler.SetHeartbeatInterval(cfg.Events.HeartbeatInterval)
	eventsHandler.RegisterSSE(server.Router())

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Start background workers
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting job runner: %w", err)
	}
	defer runner.Stop()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	logger.Info("starting shelfarr server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

// applyServeFlags overrides loaded config with explicitly set CLI flags.
func applyServeFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database") {
		cfg.Database.DSN, _ = flags.GetString("database")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.BaseDir, _ = flags.GetString("data-dir")
	}
}
