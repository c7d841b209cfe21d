package itemstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

// Schema creates the archive_items table. Items are stored whole as jsonb;
// posted_at is extracted for ordering.
const Schema = `CREATE TABLE IF NOT EXISTS archive_items (
	user_id    TEXT        NOT NULL,
	source     TEXT        NOT NULL CHECK (source IN ('authored', 'context')),
	item_id    TEXT        NOT NULL,
	posted_at  TIMESTAMPTZ,
	data       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, source, item_id)
)`

const postedIndex = `CREATE INDEX IF NOT EXISTS idx_archive_items_posted
	ON archive_items (user_id, source, posted_at)`

type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "item-store"),
	}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, Schema, postedIndex)
}

// Load returns every stored item for userID. A user with no rows gets an
// empty archive, not an error.
func (s *PostgresStore) Load(ctx context.Context, userID string) (*Archive, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 0, "archive user id is required")
	}
	start := time.Now()
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT source, data, updated_at
		FROM archive_items
		WHERE user_id = $1
		ORDER BY source, posted_at NULLS LAST, item_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying archive items: %w", err)
	}
	defer rows.Close()

	archive := &Archive{UserID: userID, Authored: []proto.Item{}, Context: []proto.Item{}}
	var latest time.Time
	for rows.Next() {
		var (
			source  string
			raw     []byte
			updated time.Time
		)
		if err := rows.Scan(&source, &raw, &updated); err != nil {
			return nil, fmt.Errorf("scanning archive item: %w", err)
		}
		var item proto.Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decoding archive item: %w", err)
		}
		switch proto.Source(source) {
		case proto.SourceAuthored:
			archive.Authored = append(archive.Authored, item)
		case proto.SourceContext:
			archive.Context = append(archive.Context, item)
		}
		if updated.After(latest) {
			latest = updated
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archive items: %w", err)
	}
	archive.Revision = revision(len(archive.Authored)+len(archive.Context), latest)
	s.logger.Info("archive loaded",
		"user_id", userID,
		"authored", len(archive.Authored),
		"context", len(archive.Context),
		"took_ms", time.Since(start).Milliseconds(),
	)
	return archive, nil
}

// Save replaces the stored archive for a.UserID in one transaction.
func (s *PostgresStore) Save(ctx context.Context, a *Archive) error {
	if a.UserID == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 0, "archive user id is required")
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM archive_items WHERE user_id = $1`, a.UserID); err != nil {
			return fmt.Errorf("clearing archive: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO archive_items (user_id, source, item_id, posted_at, data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, source, item_id)
			DO UPDATE SET posted_at = EXCLUDED.posted_at, data = EXCLUDED.data, updated_at = NOW()`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		insert := func(source proto.Source, items []proto.Item) error {
			for i := range items {
				raw, err := json.Marshal(&items[i])
				if err != nil {
					return fmt.Errorf("encoding item %s: %w", items[i].ID, err)
				}
				if _, err := stmt.ExecContext(ctx, a.UserID, string(source), items[i].ID, postedAt(items[i].PostedAt), raw); err != nil {
					return fmt.Errorf("inserting item %s: %w", items[i].ID, err)
				}
			}
			return nil
		}
		if err := insert(proto.SourceAuthored, a.Authored); err != nil {
			return err
		}
		return insert(proto.SourceContext, a.Context)
	})
}

func postedAt(s string) sql.NullTime {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func revision(count int, latest time.Time) string {
	return strconv.Itoa(count) + "-" + strconv.FormatInt(latest.UnixMicro(), 36)
}
