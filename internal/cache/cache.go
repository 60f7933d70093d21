// Package cache holds ensemble result caches keyed by (query, strategy).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"llm-ensemble/internal/ensemble"
)

// DefaultCapacity is the entry bound used when none is configured.
const DefaultCapacity = 100

// Cache is an ensemble result cache with an administrative surface.
type Cache interface {
	ensemble.Cache

	// Stats reports the current entry count and lifetime counters.
	Stats(ctx context.Context) (Stats, error)

	// Clear drops every entry. Counters are kept.
	Clear(ctx context.Context) error

	// Close releases any connection held by the cache.
	Close() error
}

// Stats is a point-in-time view of a cache.
type Stats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Key returns a fixed-length key for (query, strategy).
func Key(query string, strategy ensemble.Strategy) string {
	sum := sha256.Sum256([]byte(string(strategy) + ":" + query))
	return hex.EncodeToString(sum[:])
}
