// Command analytics runs the standalone analytics service.
//
// It consumes the query and index events search workers publish to Kafka,
// aggregates them in memory (query volume, latency percentiles, cache hit
// rate, zero-result queries), snapshots the totals to PostgreSQL and serves
// them at GET /api/v1/analytics.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/postgres"
)

const (
	consumerGroup    = "archive-search-analytics"
	snapshotInterval = time.Minute
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
	slog.Info("starting analytics service", "port", cfg.Server.Port, "topic", cfg.Kafka.Topics.AnalyticsEvents)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	checker := health.NewChecker()
	aggregator := analytics.NewAggregator()

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents,
		kafka.ConsumerOptions{GroupID: consumerGroup, FromBeginning: true},
		analytics.HandleEvent(aggregator),
	)
	defer consumer.Close()
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(aggregator).Stats)

	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx, analytics.SnapshotSchema); err != nil {
			slog.Error("snapshot migration failed", "error", err)
			os.Exit(1)
		}
		snapshots := analytics.NewSnapshotStore(db, cfg.Archive.UserID)
		go snapshots.RunSnapshots(ctx, aggregator, snapshotInterval)
		checker.Register("postgres", health.Ping(db.Ping, true))

		mux.HandleFunc("GET /api/v1/analytics/snapshot", func(w http.ResponseWriter, r *http.Request) {
			stats, at, err := snapshots.Latest(r.Context())
			w.Header().Set("Content-Type", "application/json")
			if err != nil {
				logger.FromContext(r.Context()).Warn("no snapshot", "error", err)
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "no snapshot available"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"capturedAt": at, "stats": stats})
		})
		slog.Info("analytics snapshots enabled", "interval", snapshotInterval)
	}

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m)),
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
