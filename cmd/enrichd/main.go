package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/leadforge/enrichd/internal/cache"
	"github.com/leadforge/enrichd/internal/compliance"
	"github.com/leadforge/enrichd/internal/database"
	"github.com/leadforge/enrichd/internal/engine"
	"github.com/leadforge/enrichd/internal/enrich"
	"github.com/leadforge/enrichd/internal/progress"
	"github.com/leadforge/enrichd/internal/selector"
	"github.com/leadforge/enrichd/internal/sink"
	"github.com/leadforge/enrichd/internal/warehouse"
	"github.com/leadforge/enrichd/pkg/config"
	"github.com/leadforge/enrichd/pkg/logging"
	"github.com/leadforge/enrichd/pkg/metrics"
	"github.com/leadforge/enrichd/pkg/resilience"
	"github.com/leadforge/enrichd/pkg/types"
)

const (
	personCacheTable    = "person_cache"
	litigatorCacheTable = "litigator_cache"
	dncCacheTable       = "dnc_cache"
	blacklistTable      = "phone_blacklist"
	dncRegistryTable    = "dnc_registry"
	resultsTable        = "enriched_leads"
)

func main() {
	var (
		sourceQuery = flag.String("query", os.Getenv("SOURCE_QUERY"), "warehouse query selecting candidate rows")
		limit       = flag.Int("limit", 0, "max candidates to process (0 = unlimited)")
		metricsAddr = flag.String("metrics-addr", ":9090", "listen address for metrics and health")
	)
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *sourceQuery == "" {
		log.Fatalf("A source query is required (-query flag or SOURCE_QUERY)")
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "enrichd",
		Version:     version(),
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(metrics.DefaultConfig())
	go serveMetrics(*metricsAddr, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wh, err := warehouse.NewSnowflake(ctx, &cfg.Warehouse)
	if err != nil {
		logger.Error("Failed to connect to warehouse", "error", err.Error())
		os.Exit(1)
	}
	defer wh.Close()

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	progressSink, err := progress.NewRedisSink(&cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err.Error())
		os.Exit(1)
	}
	defer progressSink.Close()

	// Durable cache tiers, all backed by Postgres
	personStore := cache.NewPostgresStore(db, personCacheTable, cfg.Engine.CacheChunkSize)
	personCache := cache.NewDualTier("person", personStore, cfg.Engine.CacheChunkSize, m)
	litigatorCache := cache.NewDualTier("litigator",
		cache.NewPostgresStore(db, litigatorCacheTable, cfg.Engine.CacheChunkSize),
		cfg.Engine.CacheChunkSize, m)
	dncCache := cache.NewDualTier("dnc",
		cache.NewPostgresStore(db, dncCacheTable, cfg.Engine.CacheChunkSize),
		cfg.Engine.CacheChunkSize, m)

	lookupGuard := resilience.NewRetryableOperation("identity_lookup",
		breakerConfig("identity_lookup", &cfg.Engine, logger), retryConfig(&cfg.Engine))
	litigatorGuard := resilience.NewRetryableOperation("litigator_check",
		breakerConfig("litigator_check", &cfg.Engine, logger), retryConfig(&cfg.Engine))

	tokens := enrich.NewTokenSource(&cfg.Lookup)
	enricher := enrich.NewClient(&cfg.Lookup, tokens, lookupGuard, personCache, workerPlan(&cfg.Engine), m)

	checker := compliance.NewChecker(
		compliance.NewLitigatorClient(&cfg.Litigator, litigatorGuard),
		compliance.NewDNCStore(db, dncRegistryTable, cfg.Engine.DNCChunkSize),
		litigatorCache,
		dncCache,
		compliance.DefaultCheckerConfig(),
		m,
	)

	svc := engine.NewService(
		&cfg.Engine,
		selector.New(wh, personStore, cfg.Engine.CacheChunkSize),
		enricher,
		checker,
		compliance.NewPostgresBlacklistLoader(db, blacklistTable),
		sink.NewPostgresSink(db, resultsTable, cfg.Engine.CacheChunkSize),
		progress.MultiSink{progressSink, progress.NewLogSink(logger)},
		m,
	)

	run, err := svc.Start(ctx, engine.Job{
		SourceQuery: *sourceQuery,
		Limit:       *limit,
	})
	if err != nil {
		logger.Error("Failed to start job", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("Job started", "job_id", run.ID.String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-quit:
			logger.Info("Signal received, requesting cancellation", "signal", sig.String())
			if err := svc.RequestCancel(run.ID); err != nil {
				logger.Warn("Cancel request failed", "error", err.Error())
			}
			// Keep polling; the in-flight batch finishes before the run stops.
		case <-ticker.C:
			status, err := svc.GetStatus(run.ID)
			if err != nil {
				logger.Error("Failed to read job status", "error", err.Error())
				os.Exit(1)
			}
			if status.Terminal() {
				svc.Wait()
				logger.Info("Job finished",
					"job_id", status.ID.String(),
					"status", string(status.Status),
					"processed", status.Stats.Processed,
					"errored", status.Stats.Errored,
				)
				if status.Status == types.JobStatusFailed {
					os.Exit(1)
				}
				return
			}
		}
	}
}

func serveMetrics(addr string, m *metrics.Metrics, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server failed", "error", err.Error())
	}
}

func breakerConfig(name string, cfg *config.EngineConfig, logger *logging.Logger) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: uint32(cfg.FailureThreshold),
		SuccessThreshold: uint32(cfg.SuccessThreshold),
		RecoveryTimeout:  cfg.RecoveryTimeout,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			logger.Warn("Circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
}

func retryConfig(cfg *config.EngineConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:       cfg.MaxRetries,
		InitialDelay:      cfg.RetryBaseDelay,
		MaxDelay:          cfg.RetryMaxDelay,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

func workerPlan(cfg *config.EngineConfig) enrich.WorkerPlan {
	return enrich.WorkerPlan{
		UnitSize: 1,
		Min:      cfg.WorkerMin,
		Max:      cfg.WorkerMax,
		Scaling:  cfg.WorkerScaling,
	}
}

func version() string {
	if v := os.Getenv("ENRICHD_VERSION"); v != "" {
		return v
	}
	return "dev"
}
