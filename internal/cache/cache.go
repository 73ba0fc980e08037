// Package cache provides the in-process, TTL bounded store holding job
// progress and result records.
package cache

import (
	"sync"
	"time"

	"github.com/JakeFAU/video-optimizer-proxy/internal/clock"
)

// DefaultTTL bounds every entry unless a caller picks another lifetime.
const DefaultTTL = 24 * time.Hour

// Config tunes a Cache.
//   - TTL: lifetime applied by Set (default 24h).
//   - SweepInterval: janitor period; zero disables background sweeping and
//     leaves only lazy eviction on access.
//   - Clock: time source (defaults to the system clock).
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Clock         clock.Clock
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a concurrent map with per-entry expiry. There is no capacity
// bound other than TTL.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	clock   clock.Clock

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New constructs a Cache and starts its janitor when a sweep interval is set.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     cfg.TTL,
		clock:   cfg.Clock,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go c.janitor(cfg.SweepInterval)
	} else {
		close(c.doneCh)
	}
	return c
}

// Get returns the live value stored under key.
func (c *Cache) Get(key string) (any, bool) {
	now := c.clock.Now()
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		c.evictIfExpired(key, now)
		return nil, false
	}
	return e.value, true
}

// Has reports whether key holds a live value.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key for ttl.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Close stops the janitor. It is safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
}

func (c *Cache) evictIfExpired(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && !now.Before(e.expiresAt) {
		delete(c.entries, key)
	}
}

func (c *Cache) janitor(interval time.Duration) {
	defer close(c.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopCh:
			return
		}
	}
}
