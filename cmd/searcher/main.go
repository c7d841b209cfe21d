// Command searcher serves the archive search HTTP API for one user.
//
// It loads the user's archive from PostgreSQL (or a JSON file), keeps a
// search worker indexed with it and answers queries over HTTP. The worker
// runs in-process by default or as a separate process behind Kafka
// (worker.transport: kafka, see cmd/worker).
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/itemstore"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/manager"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/transport"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/resilience"
)

const snapshotInterval = time.Minute

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"user_id", cfg.Archive.UserID,
		"worker_transport", cfg.Worker.Transport,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}
	checker := health.NewChecker()

	var (
		store itemstore.Store
		db    *postgres.Client
	)
	switch {
	case cfg.Postgres.Enabled:
		err := resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond}, func() error {
			var err error
			db, err = postgres.New(cfg.Postgres)
			return err
		})
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pgStore := itemstore.NewPostgresStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			slog.Error("item store migration failed", "error", err)
			os.Exit(1)
		}
		store = pgStore
		checker.Register("postgres", health.Ping(db.Ping, false))
		slog.Info("item store: postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	case cfg.Archive.ItemsFile != "":
		store = itemstore.NewFileStore(cfg.Archive.ItemsFile)
		slog.Info("item store: file", "path", cfg.Archive.ItemsFile)
	default:
		slog.Warn("no item store configured, serving an empty archive")
	}

	stats := analytics.NewAggregator()
	if db != nil {
		snapshots := analytics.NewSnapshotStore(db, cfg.Archive.UserID)
		if err := db.Migrate(ctx, analytics.SnapshotSchema); err != nil {
			slog.Warn("analytics snapshot migration failed, snapshots disabled", "error", err)
		} else {
			if prev, at, err := snapshots.Latest(ctx); err == nil && prev != nil {
				slog.Info("previous analytics snapshot", "captured_at", at, "total_queries", prev.TotalQueries)
			}
			go snapshots.RunSnapshots(ctx, stats, snapshotInterval)
		}
	}

	workerOpts := worker.Options{
		Metrics:  m,
		BudgetMs: &cfg.Search.BudgetMs,
		Tracker:  stats,
		TrackKey: cfg.Archive.UserID,
	}
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			workerOpts.Cache = cache.New(cache.NewRedisStore(redisClient), cfg.Redis.CacheTTL, cfg.Archive.UserID, m)
			checker.Register("redis", health.Ping(redisClient.Ping, true))
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	opts := manager.Options{
		ChunkSize:   cfg.Search.ChunkSize,
		Debounce:    cfg.Search.IndexDebounce,
		FacetBudget: cfg.Search.FacetBudget,
		Metrics:     m,
		Worker:      workerOpts,
	}
	var mgr *manager.Manager
	switch cfg.Worker.Transport {
	case config.TransportKafka:
		ch := transport.NewKafkaChannel(cfg.Kafka, transport.KafkaOptions{
			SendTopic:    cfg.Kafka.Topics.WorkerRequests,
			ReceiveTopic: cfg.Kafka.Topics.WorkerResponses,
			GroupID:      "archive-search-manager-" + uuid.NewString(),
			Key:          cfg.Archive.UserID,
		})
		mgr = manager.New(ch, opts)

		// The remote worker publishes its analytics; the in-thread fallback
		// keeps tracking directly.
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents,
			kafka.ConsumerOptions{GroupID: "archive-search-analytics-" + cfg.Archive.UserID},
			analytics.HandleEvent(stats),
		)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "error", err)
			}
		}()
		slog.Info("remote worker over kafka", "requests", cfg.Kafka.Topics.WorkerRequests, "responses", cfg.Kafka.Topics.WorkerResponses)
	default:
		mgr = manager.NewLocal(ctx, opts)
	}
	defer mgr.Close()

	checker.Register("worker", func(ctx context.Context) health.ComponentHealth {
		s := mgr.Status()
		if s.Fallback {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "in-thread fallback: " + s.Failure}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("index version %d", s.IndexVersion)}
	})

	if store != nil {
		archive, err := itemstore.LoadWithRetry(ctx, store, cfg.Archive.UserID)
		if err != nil {
			slog.Error("failed to load archive", "user_id", cfg.Archive.UserID, "error", err)
			os.Exit(1)
		}
		itemstore.Apply(mgr, archive)
		if err := mgr.Flush(ctx); err != nil {
			slog.Error("initial indexing failed", "error", err)
			os.Exit(1)
		}
		slog.Info("archive indexed",
			"authored", len(archive.Authored),
			"context", len(archive.Context),
			"index_version", mgr.Status().IndexVersion,
		)
	}

	h := handler.New(mgr, handler.Options{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
		UserID:       cfg.Archive.UserID,
		Store:        store,
		Stats:        stats,
	})

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mws := []func(http.Handler) http.Handler{middleware.RequestID, middleware.Metrics(m)}
	if cfg.Server.RateLimit > 0 {
		mws = append(mws, middleware.RateLimit(middleware.NewLimiter(ctx, cfg.Server.RateLimit, time.Minute)))
		slog.Info("rate limiting enabled", "requests_per_minute", cfg.Server.RateLimit)
	}
	mws = append(mws, middleware.Timeout(cfg.Server.RequestTimeout))
	chain := middleware.Chain(mux, mws...)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
