// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache holds short-lived binary blobs such as preview frames.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/harekaze/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Cache is a TTL key/value store for byte slices. Lookups never fail: a
// backend error is reported as a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
	Stats() Stats
	Close() error
}

// Stats holds cache counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	Evictions   int64 `json:"evictions"`
	CurrentSize int   `json:"currentSize"`
}

// Config selects and configures a backend.
type Config struct {
	Backend         string // memory | redis | none
	CleanupInterval time.Duration
	MaxEntries      int
	Redis           RedisConfig
}

// New builds the configured backend.
func New(cfg Config, logger zerolog.Logger) (Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryCache(cfg.CleanupInterval, cfg.MaxEntries), nil
	case "redis":
		rc, err := NewRedisCache(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return rc, nil
	case "none", "off":
		return NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}

type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) isExpired(now time.Time) bool {
	return now.After(e.expiration)
}

type memoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	maxEntries int
	stats      Stats
	janitor    *janitor
	now        func() time.Time
}

// NewMemoryCache creates an in-memory cache. A janitor removes expired
// entries every cleanupInterval when it is positive. maxEntries <= 0 means
// unbounded.
func NewMemoryCache(cleanupInterval time.Duration, maxEntries int) Cache {
	c := &memoryCache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
	if cleanupInterval > 0 {
		c.janitor = &janitor{interval: cleanupInterval, stop: make(chan struct{}), done: make(chan struct{})}
		go c.janitor.run(c)
	}
	return c
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found || e.isExpired(c.now()) {
		c.stats.Misses++
		metrics.IncCacheLookup("memory", false)
		return nil, false
	}
	c.stats.Hits++
	metrics.IncCacheLookup("memory", true)
	return e.value, true
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOne()
	}
	c.entries[key] = &entry{value: append([]byte(nil), value...), expiration: c.now().Add(ttl)}
	c.stats.Sets++
}

// evictOne drops an expired entry if there is one, else the entry closest
// to expiry. Caller holds the lock.
func (c *memoryCache) evictOne() {
	now := c.now()
	var victim string
	var earliest time.Time
	for k, e := range c.entries {
		if e.isExpired(now) {
			victim = k
			break
		}
		if victim == "" || e.expiration.Before(earliest) {
			victim, earliest = k, e.expiration
		}
	}
	if victim != "" {
		delete(c.entries, victim)
		c.stats.Evictions++
	}
}

func (c *memoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

func (c *memoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

// deleteExpired returns the number of entries removed.
func (c *memoryCache) deleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	count := 0
	for key, e := range c.entries {
		if e.isExpired(now) {
			delete(c.entries, key)
			count++
		}
	}
	c.stats.Evictions += int64(count)
	return count
}

// Close stops the janitor and waits for it to exit.
func (c *memoryCache) Close() error {
	if c.janitor != nil {
		c.janitor.once.Do(func() { close(c.janitor.stop) })
		<-c.janitor.done
	}
	return nil
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (j *janitor) run(c *memoryCache) {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}

type noOpCache struct{}

// NewNoOpCache returns a cache that stores nothing.
func NewNoOpCache() Cache {
	return noOpCache{}
}

func (noOpCache) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (noOpCache) Set(context.Context, string, []byte, time.Duration) {}
func (noOpCache) Delete(context.Context, string)                     {}
func (noOpCache) Clear(context.Context)                              {}
func (noOpCache) Stats() Stats                                       { return Stats{} }
func (noOpCache) Close() error                                       { return nil }

// Loader computes a value on a cache miss.
type Loader func(ctx context.Context) ([]byte, error)

// ReadThrough wraps a Cache with miss deduplication: concurrent misses for
// the same key share one Loader call.
type ReadThrough struct {
	Cache
	group singleflight.Group
}

// NewReadThrough wraps c.
func NewReadThrough(c Cache) *ReadThrough {
	return &ReadThrough{Cache: c}
}

// Fetch returns the cached value or loads and stores it. Load errors are
// not cached.
func (r *ReadThrough) Fetch(ctx context.Context, key string, ttl time.Duration, load Loader) ([]byte, error) {
	if v, ok := r.Get(ctx, key); ok {
		return v, nil
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		b, err := load(ctx)
		if err != nil {
			return nil, err
		}
		r.Set(context.WithoutCancel(ctx), key, b, ttl)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
