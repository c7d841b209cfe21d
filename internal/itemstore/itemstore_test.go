package itemstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

const archiveJSON = `{
	"userId": "u1",
	"authored": [
		{"_id": "p1", "postedAt": "2024-03-01T10:00:00Z", "baseScore": 12, "title": "Deep work", "htmlBody": "<p>focus</p>"},
		{"_id": "c1", "postedAt": "2024-03-02T10:00:00Z", "baseScore": 3, "contents": {"markdown": "agreed"}}
	],
	"context": [
		{"_id": "p9", "postedAt": "2024-02-01T10:00:00Z", "baseScore": 40, "title": "Parent"}
	]
}`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileStoreLoad(t *testing.T) {
	store := NewFileStore(writeFile(t, archiveJSON))

	a, err := store.Load(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, a.Authored, 2)
	require.Len(t, a.Context, 1)
	assert.Equal(t, proto.ItemPost, a.Authored[0].Type())
	assert.Equal(t, "agreed", a.Authored[1].Markdown())
	assert.NotEmpty(t, a.Revision)

	again, err := store.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, a.Revision, again.Revision, "unchanged content keeps its revision")
}

func TestFileStoreWrongUser(t *testing.T) {
	_, err := NewFileStore(writeFile(t, archiveJSON)).Load(context.Background(), "u2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFileStoreMissing(t *testing.T) {
	_, err := NewFileStore(filepath.Join(t.TempDir(), "nope.json")).Load(context.Background(), "u1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDecodeBareArray(t *testing.T) {
	a, err := Decode([]byte(`[{"_id":"a","postedAt":"2024-01-01T00:00:00Z"}]`))
	require.NoError(t, err)
	assert.Len(t, a.Authored, 1)
	assert.Empty(t, a.Context)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", "  "},
		{"malformed", `{"authored": [`},
		{"missing id", `{"authored": [{"postedAt": "2024-01-01T00:00:00Z"}]}`},
		{"missing context id", `{"authored": [], "context": [{"baseScore": 1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestDecodeRevisionTracksContent(t *testing.T) {
	a, err := Decode([]byte(`[{"_id":"a","baseScore":1}]`))
	require.NoError(t, err)
	b, err := Decode([]byte(`[{"_id":"a","baseScore":2}]`))
	require.NoError(t, err)
	assert.NotEqual(t, a.Revision, b.Revision)
}

type recordingSink struct {
	authored, context []proto.Item
	revisions         []string
}

func (s *recordingSink) SetAuthoredItems(items []proto.Item, revision string) {
	s.authored = items
	s.revisions = append(s.revisions, revision)
}

func (s *recordingSink) SetContextItems(items []proto.Item, revision string) {
	s.context = items
	s.revisions = append(s.revisions, revision)
}

func TestApply(t *testing.T) {
	a, err := Decode([]byte(archiveJSON))
	require.NoError(t, err)
	sink := &recordingSink{}
	Apply(sink, a)
	assert.Len(t, sink.authored, 2)
	assert.Len(t, sink.context, 1)
	assert.Equal(t, []string{a.Revision, a.Revision}, sink.revisions)
}

type flakyStore struct {
	failures int
	calls    int
	err      error
}

func (s *flakyStore) Load(ctx context.Context, userID string) (*Archive, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	return &Archive{UserID: userID}, nil
}

func TestLoadWithRetryRecovers(t *testing.T) {
	store := &flakyStore{failures: 2, err: errors.New("connection refused")}
	a, err := LoadWithRetry(context.Background(), store, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, 3, store.calls)
}

func TestLoadWithRetryStopsOnNotFound(t *testing.T) {
	store := &flakyStore{failures: 10, err: apperrors.New(apperrors.ErrNotFound, 0, "gone")}
	_, err := LoadWithRetry(context.Background(), store, "u1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 1, store.calls)
}

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	port, _ := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	db, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "archivesearch_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "archivesearch"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		t.Skipf("skipping postgres test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestPostgresStoreSaveLoad(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()
	store := NewPostgresStore(db)
	require.NoError(t, store.Migrate(ctx))

	a, err := Decode([]byte(archiveJSON))
	require.NoError(t, err)
	a.UserID = "test-" + uuid.NewString()
	t.Cleanup(func() {
		db.DB.Exec(`DELETE FROM archive_items WHERE user_id = $1`, a.UserID)
	})
	require.NoError(t, store.Save(ctx, a))

	got, err := store.Load(ctx, a.UserID)
	require.NoError(t, err)
	require.Len(t, got.Authored, 2)
	require.Len(t, got.Context, 1)
	assert.Equal(t, "p1", got.Authored[0].ID, "authored items ordered by postedAt")
	assert.Equal(t, "Deep work", *got.Authored[0].Title)
	first := got.Revision

	a.Authored = a.Authored[:1]
	require.NoError(t, store.Save(ctx, a))
	got, err = store.Load(ctx, a.UserID)
	require.NoError(t, err)
	assert.Len(t, got.Authored, 1)
	assert.NotEqual(t, first, got.Revision)
}

func TestPostgresStoreEmptyUser(t *testing.T) {
	db := skipIfNoPostgres(t)
	store := NewPostgresStore(db)
	require.NoError(t, store.Migrate(context.Background()))

	got, err := store.Load(context.Background(), "nobody-"+uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, got.Authored)
	assert.Empty(t, got.Context)

	_, err = store.Load(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
