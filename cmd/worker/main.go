// Command worker runs the archive search worker as its own process.
//
// It consumes worker requests (index builds, queries, cancels) from Kafka,
// answers on the responses topic, caches query results in Redis and
// publishes query analytics for the search service to aggregate.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/transport"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/redis"
)

const (
	analyticsBatchSize     = 100
	analyticsFlushInterval = 2 * time.Second
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search worker",
		"brokers", cfg.Kafka.Brokers,
		"requests", cfg.Kafka.Topics.WorkerRequests,
		"responses", cfg.Kafka.Topics.WorkerResponses,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}
	checker := health.NewChecker()

	opts := worker.Options{
		Metrics:  m,
		BudgetMs: &cfg.Search.BudgetMs,
		TrackKey: cfg.Archive.UserID,
	}

	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			opts.Cache = cache.New(cache.NewRedisStore(redisClient), cfg.Redis.CacheTTL, cfg.Archive.UserID, m)
			checker.Register("redis", health.Ping(redisClient.Ping, true))
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Kafka.Topics.AnalyticsEvents != "" {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, analyticsBatchSize, analyticsFlushInterval)
		collector.Start(ctx)
		defer collector.Close()
		opts.Tracker = collector
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)
	}

	ch := transport.NewKafkaChannel(cfg.Kafka, transport.KafkaOptions{
		SendTopic:    cfg.Kafka.Topics.WorkerResponses,
		ReceiveTopic: cfg.Kafka.Topics.WorkerRequests,
		GroupID:      cfg.Kafka.ConsumerGroup,
		Key:          cfg.Archive.UserID,
	})
	defer ch.Close()

	w := worker.New(opts)
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		engine := w.Engine()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("index version %d", engine.Version()),
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.RequestID(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("worker health endpoint listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()

	err = w.Serve(ctx, ch)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("health server shutdown error", "error", shutdownErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("search worker stopped")
}
