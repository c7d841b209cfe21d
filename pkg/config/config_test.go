package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 150, cfg.Search.BudgetMs)
	assert.Equal(t, 500, cfg.Search.ChunkSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Search.IndexDebounce)
	assert.Equal(t, TransportInProc, cfg.Worker.Transport)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
search:
  budgetMs: 75
  facetBudget: 20ms
  indexDebounce: 10ms
archive:
  userId: user-1
worker:
  transport: kafka
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("AS_ARCHIVE_USER_ID", "user-2")
	t.Setenv("AS_SEARCH_CHUNK_SIZE", "100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.Search.BudgetMs)
	assert.Equal(t, 20*time.Millisecond, cfg.Search.FacetBudget)
	assert.Equal(t, 10*time.Millisecond, cfg.Search.IndexDebounce)
	assert.Equal(t, 100, cfg.Search.ChunkSize)
	assert.Equal(t, "user-2", cfg.Archive.UserID)
	assert.Equal(t, TransportKafka, cfg.Worker.Transport)
	assert.Equal(t, 50, cfg.Search.DefaultLimit)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Worker.Transport = "carrier-pigeon"
	assert.ErrorIs(t, cfg.Validate(), apperrors.ErrInvalidInput)

	cfg = Default()
	cfg.Search.ChunkSize = 0
	assert.ErrorIs(t, cfg.Validate(), apperrors.ErrInvalidInput)

	cfg = Default()
	cfg.Worker.Transport = TransportKafka
	cfg.Kafka.Brokers = nil
	assert.Error(t, cfg.Validate())
}
