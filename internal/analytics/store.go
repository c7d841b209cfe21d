package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/postgres"
)

// SnapshotSchema creates the table SnapshotStore writes to.
const SnapshotSchema = `CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    user_id     TEXT NOT NULL,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// SnapshotStore persists aggregated stats in PostgreSQL.
type SnapshotStore struct {
	db     *postgres.Client
	userID string
	logger *slog.Logger
}

func NewSnapshotStore(db *postgres.Client, userID string) *SnapshotStore {
	return &SnapshotStore{
		db:     db,
		userID: userID,
		logger: slog.Default().With("component", "analytics-store"),
	}
}

func (s *SnapshotStore) Save(ctx context.Context, stats AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO analytics_snapshots (user_id, data, captured_at) VALUES ($1, $2, $3)`,
		s.userID, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Info("analytics snapshot saved",
		"total_queries", stats.TotalQueries,
		"total_index_builds", stats.TotalIndexBuilds,
	)
	return nil
}

// Latest returns the most recent snapshot for the store's user.
func (s *SnapshotStore) Latest(ctx context.Context) (*AggregatedStats, time.Time, error) {
	var data []byte
	var at time.Time
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data, captured_at FROM analytics_snapshots WHERE user_id = $1 ORDER BY captured_at DESC LIMIT 1`,
		s.userID,
	).Scan(&data, &at)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("loading analytics snapshot: %w", err)
	}
	var stats AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, time.Time{}, fmt.Errorf("decoding analytics snapshot: %w", err)
	}
	return &stats, at, nil
}

// RunSnapshots saves agg's stats every interval until ctx is cancelled.
func (s *SnapshotStore) RunSnapshots(ctx context.Context, agg *Aggregator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Save(ctx, agg.Stats()); err != nil {
				s.logger.Error("snapshot failed", "error", err)
			}
		}
	}
}
