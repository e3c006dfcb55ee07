// Package couriers keeps the provider's courier list in process memory.
//
// One Catalog is built per process in bootstrap and lives until exit. It starts
// empty, is filled by the first List call and is never torn down. When a
// shared cache is configured, replicas reuse each other's fetch through it.
package couriers

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/TrackIt/internal/cache"
	"github.com/BearBump/TrackIt/internal/integrations/carrier"
)

const cacheKey = "trackit:couriers:v1"

type Source interface {
	Couriers(ctx context.Context) ([]carrier.Courier, error)
}

type Catalog struct {
	src   Source
	cache cache.BytesCache
	ttl   time.Duration

	mu   sync.Mutex
	list []carrier.Courier
}

// New builds the catalog. bc may be nil.
func New(src Source, bc cache.BytesCache, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Catalog{src: src, cache: bc, ttl: ttl}
}

// List returns the cached list, fetching it once if needed. Concurrent first
// callers wait for the same fetch.
func (c *Catalog) List(ctx context.Context) ([]carrier.Courier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.list) > 0 {
		return clone(c.list), nil
	}

	if list := c.fromCache(ctx); len(list) > 0 {
		c.list = list
		return clone(list), nil
	}

	list, err := c.src.Couriers(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []carrier.Courier{}, nil
	}
	c.list = list
	c.toCache(ctx, list)
	return clone(list), nil
}

func (c *Catalog) fromCache(ctx context.Context) []carrier.Courier {
	if c.cache == nil {
		return nil
	}
	b, ok, err := c.cache.Get(ctx, cacheKey)
	if err != nil {
		slog.Warn("courier cache get", "error", err.Error())
		return nil
	}
	if !ok {
		return nil
	}
	var list []carrier.Courier
	if err := json.Unmarshal(b, &list); err != nil {
		slog.Warn("courier cache decode", "error", err.Error())
		return nil
	}
	return list
}

func (c *Catalog) toCache(ctx context.Context, list []carrier.Courier) {
	if c.cache == nil {
		return
	}
	b, err := json.Marshal(list)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cacheKey, b, c.ttl); err != nil {
		slog.Warn("courier cache set", "error", err.Error())
	}
}

func clone(list []carrier.Courier) []carrier.Courier {
	return append([]carrier.Courier(nil), list...)
}
