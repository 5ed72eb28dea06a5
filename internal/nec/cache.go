package nec

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/copyleftdev/yagiopt/internal/geometry"
)

// CachedSimulator memoizes successful results of another Simulator keyed by
// the exact structure, feed, conductivity and frequency. Failures are not
// cached.
type CachedSimulator struct {
	next   Simulator
	cache  *cache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedSimulator wraps next. Entries expire after ttl; a ttl of zero
// keeps them for the life of the process.
func NewCachedSimulator(next Simulator, ttl time.Duration) *CachedSimulator {
	expiration := ttl
	cleanup := 2 * ttl
	if ttl <= 0 {
		expiration = cache.NoExpiration
		cleanup = 0
	}
	return &CachedSimulator{
		next:  next,
		cache: cache.New(expiration, cleanup),
	}
}

func (c *CachedSimulator) Simulate(ctx context.Context, mesh *geometry.WireMesh, feed geometry.Feed, conductivity, frequency float64) (Result, error) {
	if mesh == nil {
		return c.next.Simulate(ctx, mesh, feed, conductivity, frequency)
	}
	key := cacheKey(mesh, feed, conductivity, frequency)
	if v, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return v.(Result), nil
	}
	c.misses.Add(1)

	res, err := c.next.Simulate(ctx, mesh, feed, conductivity, frequency)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, res)
	return res, nil
}

// Stats returns the hit and miss counts since creation.
func (c *CachedSimulator) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len is the number of cached results.
func (c *CachedSimulator) Len() int { return c.cache.ItemCount() }

func cacheKey(mesh *geometry.WireMesh, feed geometry.Feed, conductivity, frequency float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%x|%x|%d:%d:%x", frequency, conductivity, feed.Tag, feed.Segment, feed.Voltage)
	for _, w := range mesh.Wires {
		fmt.Fprintf(&b, "|%d:%d:%x:%x:%x", w.Tag, w.Segments, w.Start, w.End, w.Radius)
	}
	return b.String()
}
