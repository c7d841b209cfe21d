// Package cache memoises complete query results in Redis. Keys embed the
// index version, so a rebuilt corpus never serves an older answer, and
// concurrent identical queries collapse into one execution.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
	pkgredis "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/resilience"
)

const (
	keyPrefix    = "archive-search:"
	flushTimeout = 2 * time.Second
)

// Store is the key-value backend of the cache.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Flush(ctx context.Context, pattern string) (int64, error)
}

type redisStore struct {
	client *pkgredis.Client
}

// NewRedisStore adapts a Redis client to Store.
func NewRedisStore(client *pkgredis.Client) Store {
	return redisStore{client: client}
}

func (s redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl)
}

func (s redisStore) Flush(ctx context.Context, pattern string) (int64, error) {
	return s.client.FlushByPattern(ctx, pattern)
}

type QueryCache struct {
	store     Store
	ttl       time.Duration
	namespace string
	group     singleflight.Group
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a cache whose keys live under namespace, usually the
// archive owner.
func New(store Store, ttl time.Duration, namespace string, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		store:     store,
		ttl:       ttl,
		namespace: namespace,
		metrics:   m,
		logger:    slog.Default().With("component", "query-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, _, to resilience.State) {
			m.BreakerState(name, int(to))
		},
	})
	return c
}

// Cacheable reports whether run may be served from the cache. Explain
// traces carry timings and are always computed fresh.
func Cacheable(run proto.QueryRun) bool {
	return !run.DebugExplain
}

// Key derives the cache key for run against indexVersion.
func (c *QueryCache) Key(indexVersion int64, run proto.QueryRun) string {
	raw := strings.Join([]string{
		fmt.Sprintf("v=%d", indexVersion),
		"q=" + strings.TrimSpace(run.Query),
		"sort=" + run.SortMode,
		"scope=" + strings.ToLower(strings.TrimSpace(run.ScopeParam)),
		fmt.Sprintf("limit=%d", run.Limit),
	}, "\x00")
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%x", keyPrefix, c.namespace, hash[:16])
}

func (c *QueryCache) Get(ctx context.Context, key string) (*proto.QueryResult, bool) {
	var data []byte
	var found bool
	err := c.breaker.Execute(func() error {
		var err error
		data, found, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	if !found {
		c.miss()
		return nil, false
	}
	var result proto.QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.metrics.CacheHit()
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

// Set stores result. Partial results depend on timing and are skipped.
func (c *QueryCache) Set(ctx context.Context, key string, result *proto.QueryResult) {
	if result.Diagnostics.PartialResults {
		return
	}
	stored := *result
	stored.RequestID = ""
	data, err := json.Marshal(&stored)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for key or runs compute once for
// all concurrent callers. The returned value is a private copy.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key string,
	compute func() (*proto.QueryResult, error),
) (proto.QueryResult, bool, error) {
	if result, ok := c.Get(ctx, key); ok {
		return *result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return proto.QueryResult{}, false, err
	}
	return *val.(*proto.QueryResult), false, nil
}

// Invalidate drops every key in the namespace.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	pattern := keyPrefix + c.namespace + ":*"
	var deleted int64
	err := resilience.WithTimeout(ctx, flushTimeout, "cache-invalidate", func(ctx context.Context) error {
		return c.breaker.Execute(func() error {
			var err error
			deleted, err = c.store.Flush(ctx, pattern)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) miss() {
	c.metrics.CacheMiss()
}
