package cache

import (
	"context"

	"llm-ensemble/internal/ensemble"
)

// NoOpCache is a cache implementation that does nothing.
// Used when caching is disabled: every lookup is a miss and nothing is stored.
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

func (c *NoOpCache) Get(context.Context, string, ensemble.Strategy) (*ensemble.Result, error) {
	return nil, nil
}

func (c *NoOpCache) Put(context.Context, string, ensemble.Strategy, *ensemble.Result) error {
	return nil
}

func (c *NoOpCache) Stats(context.Context) (Stats, error) {
	return Stats{}, nil
}

func (c *NoOpCache) Clear(context.Context) error {
	return nil
}

func (c *NoOpCache) Close() error {
	return nil
}
