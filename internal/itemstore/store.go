// Package itemstore loads a user's archive: the items they authored and the
// context items (parent posts, reply targets) shown alongside them.
package itemstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/resilience"
)

// Archive is one user's item collections.
type Archive struct {
	UserID   string       `json:"userId,omitempty"`
	Authored []proto.Item `json:"authored"`
	Context  []proto.Item `json:"context"`
	// Revision changes whenever stored items change, including in-place
	// edits that keep the item count.
	Revision string `json:"revision,omitempty"`
}

// Store loads archives.
type Store interface {
	Load(ctx context.Context, userID string) (*Archive, error)
}

// Sink accepts item collections. *manager.Manager satisfies it.
type Sink interface {
	SetAuthoredItems(items []proto.Item, revision string)
	SetContextItems(items []proto.Item, revision string)
}

// Apply hands both collections of a to sink.
func Apply(sink Sink, a *Archive) {
	sink.SetAuthoredItems(a.Authored, a.Revision)
	sink.SetContextItems(a.Context, a.Revision)
}

// LoadWithRetry retries transient load failures with backoff. Missing
// archives and bad input fail immediately.
func LoadWithRetry(ctx context.Context, s Store, userID string) (*Archive, error) {
	var archive *Archive
	err := resilience.Retry(ctx, "itemstore.load", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Retryable: func(err error) bool {
			return !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrInvalidInput)
		},
	}, func() error {
		a, err := s.Load(ctx, userID)
		if err != nil {
			return err
		}
		archive = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return archive, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
