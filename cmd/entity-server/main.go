// Package main provides the entry point for the entity server
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/internal/api"
	"github.com/cortex-engine/entity-core/internal/config"
	"github.com/cortex-engine/entity-core/internal/db"
	"github.com/cortex-engine/entity-core/internal/embedding"
	"github.com/cortex-engine/entity-core/internal/embedding/provider"
	"github.com/cortex-engine/entity-core/internal/entity"
	"github.com/cortex-engine/entity-core/internal/events"
	"github.com/cortex-engine/entity-core/internal/logging"
	"github.com/cortex-engine/entity-core/internal/metrics"
	"github.com/cortex-engine/entity-core/internal/queue"
	"github.com/cortex-engine/entity-core/internal/registry"
	"github.com/cortex-engine/entity-core/internal/resolver"
	"github.com/cortex-engine/entity-core/internal/search"
	"github.com/cortex-engine/entity-core/internal/vector"
	"github.com/cortex-engine/entity-core/internal/worker"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			os.Exit(runMigrate(os.Args[2:]))
		case "export":
			os.Exit(runExport(os.Args[2:]))
		}
	}
	os.Exit(runServe(os.Args[1:]))
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var (
		configPath  = fs.String("config", "", "Path to YAML config file")
		httpAddr    = fs.String("http-addr", "", "HTTP listen address (overrides config)")
		logLevel    = fs.String("log-level", "", "Log level (overrides config)")
		autoMigrate = fs.Bool("migrate", false, "Run pending migrations before serving")
		showVersion = fs.Bool("version", false, "Show version information")
	)
	fs.Parse(args)

	if *showVersion {
		fmt.Printf("entity-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *httpAddr != "" {
		cfg.Server.Addr = *httpAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("Starting entity server",
		zap.String("version", Version),
		zap.String("addr", cfg.Server.Addr),
	)

	database, err := db.Open(cfg.DB)
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		return 1
	}
	defer database.Close()

	if *autoMigrate {
		runner, err := db.NewMigrationRunner(database.DB, logger)
		if err != nil {
			logger.Error("Failed to create migration runner", zap.Error(err))
			return 1
		}
		if err := runner.Up(); err != nil {
			logger.Error("Migrations failed", zap.Error(err))
			return 1
		}
	}

	var m metrics.Metrics = metrics.NewNoOpMetrics()
	if cfg.Metrics {
		m = metrics.NewPrometheusMetrics("entitycore")
	}

	reg := registry.New()
	if err := registerBuiltinTypes(reg); err != nil {
		logger.Error("Failed to register entity types", zap.Error(err))
		return 1
	}

	bus := events.NewBroadcaster(logger)
	if cfg.Events.Enabled {
		bridge, err := events.NewRedisBridge(cfg.Events, logger)
		if err != nil {
			logger.Error("Failed to connect Redis event bridge", zap.Error(err))
			return 1
		}
		defer bridge.Close()
		bus.Subscribe("", bridge.HandleEvent)
		logger.Info("Redis event bridge enabled", zap.String("channel", cfg.Events.Channel))
	}

	store, err := entity.NewStore(database)
	if err != nil {
		logger.Error("Failed to create entity store", zap.Error(err))
		return 1
	}

	jobQueue := queue.New(database, logger, m)

	svc, err := entity.NewService(store, reg, logger,
		entity.WithQueue(jobQueue),
		entity.WithBus(bus),
		entity.WithMetrics(m),
	)
	if err != nil {
		logger.Error("Failed to create entity service", zap.Error(err))
		return 1
	}
	svc.AttachResolver(resolver.New(svc, logger))

	embedProvider, err := buildProvider(cfg.Embedding)
	if err != nil {
		logger.Error("Failed to create embedding provider", zap.Error(err))
		return 1
	}

	embedCache := embedding.NewCache(cfg.Embedding.Cache, m)
	embedHandler, err := embedding.NewHandler(svc, embedProvider, embedCache, bus, logger, m)
	if err != nil {
		logger.Error("Failed to create embedding handler", zap.Error(err))
		return 1
	}
	jobQueue.RegisterHandler(embedHandler)

	pool, err := worker.New(cfg.Worker, jobQueue, logger, m)
	if err != nil {
		logger.Error("Failed to create worker pool", zap.Error(err))
		return 1
	}

	weights := search.NewOverlayWeights(reg, cfg.Search.Weights)
	engine, err := search.NewEngine(database, embedProvider, weights, logger, m)
	if err != nil {
		logger.Error("Failed to create search engine", zap.Error(err))
		return 1
	}
	svc.AttachSearch(engine)

	var weightsWatcher *config.WeightsWatcher
	if cfg.Search.WeightsFile != "" {
		weightsWatcher, err = config.NewWeightsWatcher(cfg.Search.WeightsFile, weights.SetOverrides, logger)
		if err != nil {
			logger.Error("Failed to create weights watcher", zap.Error(err))
			return 1
		}
		if err := weightsWatcher.Start(); err != nil {
			logger.Error("Failed to start weights watcher", zap.Error(err))
			return 1
		}
		defer weightsWatcher.Stop()
	}

	index, err := vector.NewIndex(cfg.Embedding.Dimension, cfg.Vector)
	if err != nil {
		logger.Error("Failed to create vector index", zap.Error(err))
		return 1
	}
	mirror, err := vector.NewMirror(index, svc, logger)
	if err != nil {
		logger.Error("Failed to create vector mirror", zap.Error(err))
		return 1
	}
	mirror.Attach(bus)
	if err := mirror.Warm(context.Background()); err != nil {
		logger.Warn("Vector index warm-up failed", zap.Error(err))
	}

	pool.Start()

	httpSrv, err := api.New(api.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		Version:      Version,
	}, svc, reg, logger,
		api.WithJobQueue(jobQueue),
		api.WithWorkerPool(pool),
		api.WithMirror(mirror),
		api.WithMetrics(m),
	)
	if err != nil {
		logger.Error("Failed to create HTTP server", zap.Error(err))
		return 1
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- httpSrv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", zap.Error(err))
			return 1
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		httpSrv.SetReady(false)
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Warn("HTTP shutdown incomplete", zap.Error(err))
		}
		if err := pool.Stop(ctx); err != nil {
			logger.Warn("Worker pool shutdown incomplete", zap.Error(err))
		}
	}

	logger.Info("Server stopped")
	return 0
}

func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	fs.Parse(args)

	direction := "up"
	if fs.NArg() > 0 {
		direction = fs.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	database, err := db.Open(cfg.DB)
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		return 1
	}
	defer database.Close()

	runner, err := db.NewMigrationRunner(database.DB, logger)
	if err != nil {
		logger.Error("Failed to create migration runner", zap.Error(err))
		return 1
	}

	switch direction {
	case "up":
		err = runner.Up()
	case "down":
		err = runner.Down()
	case "version":
		version, dirty, verr := runner.Version()
		if verr != nil {
			err = verr
			break
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate direction %q (want up, down or version)\n", direction)
		return 2
	}
	if err != nil {
		logger.Error("Migration command failed", zap.Error(err))
		return 1
	}
	return 0
}

// runExport writes entities as markdown-with-frontmatter files, one
// per entity, rendered through each type's adapter.
func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var (
		configPath = fs.String("config", "", "Path to YAML config file")
		entityType = fs.String("type", "", "Entity type to export (default all registered types)")
		outDir     = fs.String("out", "export", "Output directory")
		pageSize   = fs.Int("page-size", entity.DefaultExportPageSize, "Rows fetched per page")
	)
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	database, err := db.Open(cfg.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer database.Close()

	store, err := entity.NewStore(database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create store: %v\n", err)
		return 1
	}

	reg := registry.New()
	if err := registerBuiltinTypes(reg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register entity types: %v\n", err)
		return 1
	}

	exporter, err := entity.NewExporter(store, reg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create exporter: %v\n", err)
		return 1
	}
	exporter.SetPageSize(*pageSize)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := exporter.Export(ctx, *entityType, *outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		return 1
	}
	fmt.Printf("Exported %d entities to %s\n", n, *outDir)
	return 0
}
