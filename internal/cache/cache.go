package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"marketdash/internal/metrics"
)

// DefaultTTL is the freshness window used when Options.TTL is zero.
const DefaultTTL = 5 * time.Minute

// RefreshFunc is called after every successful recompute.
type RefreshFunc func(key string, payload json.RawMessage, computedAt time.Time)

// Options configures a Cache.
type Options struct {
	TTL     time.Duration
	Store   Store            // MemoryStore when nil
	Now     func() time.Time // time.Now when nil
	Metrics *metrics.Metrics
}

// Result is a value served by GetOrCompute.
type Result[T any] struct {
	Value      T
	ComputedAt time.Time
	Hit        bool
}

// Cache serves payloads of type T for one endpoint. An entry is fresh while
// now - computedAt < ttl. Only successful computations are stored.
type Cache[T any] struct {
	namespace string
	ttl       time.Duration
	store     Store
	now       func() time.Time
	metrics   *metrics.Metrics
	group     singleflight.Group
	onRefresh []RefreshFunc
}

// New creates a cache for the endpoint named namespace.
func New[T any](namespace string, opts Options) *Cache[T] {
	c := &Cache[T]{
		namespace: namespace,
		ttl:       opts.TTL,
		store:     opts.Store,
		now:       opts.Now,
		metrics:   opts.Metrics,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Namespace returns the endpoint name.
func (c *Cache[T]) Namespace() string { return c.namespace }

// TTL returns the freshness window.
func (c *Cache[T]) TTL() time.Duration { return c.ttl }

// Key builds the cache key for params under this cache's namespace.
func (c *Cache[T]) Key(params map[string]string) string {
	return Key(c.namespace, params)
}

// OnRefresh registers fn to run after each successful recompute.
// Register hooks before serving traffic.
func (c *Cache[T]) OnRefresh(fn RefreshFunc) {
	c.onRefresh = append(c.onRefresh, fn)
}

// Lookup returns the entry for key if it is still fresh.
// Store errors are logged and treated as a miss.
func (c *Cache[T]) Lookup(ctx context.Context, key string) (T, time.Time, bool) {
	var zero T
	e, ok := c.raw(ctx, key)
	if !ok || c.now().Sub(e.ComputedAt) >= c.ttl {
		return zero, time.Time{}, false
	}
	var v T
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		slog.Warn("[cache] decode failed", "key", key, "error", err)
		return zero, time.Time{}, false
	}
	return v, e.ComputedAt, true
}

// Last returns the stored payload for key regardless of freshness.
func (c *Cache[T]) Last(ctx context.Context, key string) (json.RawMessage, time.Time, bool) {
	e, ok := c.raw(ctx, key)
	if !ok {
		return nil, time.Time{}, false
	}
	return e.Payload, e.ComputedAt, true
}

func (c *Cache[T]) raw(ctx context.Context, key string) (Entry, bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("[cache] store get failed", "key", key, "error", err)
		return Entry{}, false
	}
	return e, ok
}

// Set stores v under key, computed now, overwriting any previous entry.
func (c *Cache[T]) Set(ctx context.Context, key string, v T) (time.Time, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("cache encode %s: %w", key, err)
	}
	at := c.now()
	if err := c.store.Set(ctx, key, Entry{Payload: payload, ComputedAt: at}); err != nil {
		return at, err
	}
	c.metrics.CacheWrite(c.namespace)
	for _, fn := range c.onRefresh {
		fn(key, payload, at)
	}
	return at, nil
}

// GetOrCompute returns the fresh entry for key, or runs compute and stores
// its result. Concurrent misses for the same key share one compute call.
// A failed compute is returned to every waiter and leaves the cache untouched.
func (c *Cache[T]) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (T, error)) (Result[T], error) {
	if v, at, ok := c.Lookup(ctx, key); ok {
		c.metrics.CacheLookup(c.namespace, true)
		return Result[T]{Value: v, ComputedAt: at, Hit: true}, nil
	}
	c.metrics.CacheLookup(c.namespace, false)
	return c.flight(ctx, key, compute, true)
}

// Refresh recomputes key unconditionally and stores the result on success.
func (c *Cache[T]) Refresh(ctx context.Context, key string, compute func(context.Context) (T, error)) (Result[T], error) {
	return c.flight(ctx, key, compute, false)
}

func (c *Cache[T]) flight(ctx context.Context, key string, compute func(context.Context) (T, error), recheck bool) (Result[T], error) {
	// The shared computation must not die with whichever request started it.
	flightCtx := context.WithoutCancel(ctx)
	res, err, _ := c.group.Do(key, func() (any, error) {
		if recheck {
			if v, at, ok := c.Lookup(flightCtx, key); ok {
				return Result[T]{Value: v, ComputedAt: at, Hit: true}, nil
			}
		}
		v, err := compute(flightCtx)
		if err != nil {
			return nil, err
		}
		at, err := c.Set(flightCtx, key, v)
		if err != nil {
			slog.Warn("[cache] store set failed", "key", key, "error", err)
		}
		return Result[T]{Value: v, ComputedAt: at}, nil
	})
	if err != nil {
		return Result[T]{}, err
	}
	return res.(Result[T]), nil
}
