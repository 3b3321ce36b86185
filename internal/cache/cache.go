// Package cache provides a namespaced key-value store with TTL on top of
// Redis. The cache is an optimization, never a correctness dependency: every
// operation degrades to a miss or a no-op with a logged warning when the
// backend is unreachable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// Namespace prefixes every key written by this application.
	Namespace = "leadforge"

	// PrefixEnrichment groups cached domain-enrichment entries.
	PrefixEnrichment = "enrich"

	// DefaultTTL applies when Set is called with a zero TTL.
	DefaultTTL = 24 * time.Hour

	// EnrichmentTTL is how long domain-level enrichment stays fresh.
	EnrichmentTTL = 7 * 24 * time.Hour
)

// Store wraps a Redis client with namespaced keys and best-effort semantics.
type Store struct {
	client  *redis.Client
	closeFn func() error
}

// New creates a Store over an existing Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// NewFromURL connects to Redis at the given URL and verifies the connection.
func NewFromURL(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, eris.Wrap(err, "cache: connect")
	}

	return &Store{client: client, closeFn: client.Close}, nil
}

// Key builds the canonical cache key: {namespace}:{prefix}:{id}.
func Key(prefix, id string) string {
	return Namespace + ":" + prefix + ":" + id
}

// Get returns the raw cached value for (prefix, id), or nil on a miss.
// Backend errors are logged and reported as misses.
func (s *Store) Get(ctx context.Context, prefix, id string) []byte {
	key := Key(prefix, id)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("cache: get failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}
	zap.L().Debug("cache: hit", zap.String("key", key))
	return data
}

// Set stores v as JSON under (prefix, id) with the given TTL. A zero TTL
// falls back to DefaultTTL. Failures are logged and swallowed.
func (s *Store) Set(ctx context.Context, prefix, id string, v any, ttl time.Duration) {
	key := Key(prefix, id)
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	data, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("cache: marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		zap.L().Warn("cache: set failed", zap.String("key", key), zap.Error(err))
		return
	}
	zap.L().Debug("cache: set", zap.String("key", key), zap.Duration("ttl", ttl))
}

// Delete removes the entry for (prefix, id). Failures are logged and swallowed.
func (s *Store) Delete(ctx context.Context, prefix, id string) {
	key := Key(prefix, id)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		zap.L().Warn("cache: delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Close releases the underlying connection when this Store owns it.
func (s *Store) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}
