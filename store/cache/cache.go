// Package cache provides the read-mostly cache layer used by the store:
// a process-local TTL cache by default, a shared redis backend when
// CONVERSIA_CACHE_URL is set, and versioned key construction so writers can
// invalidate without enumerating reader keys.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds cache settings.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	MaxItems        int
	OnEviction      func(key string)
}

// Backend is the operation set shared by the in-memory cache and the redis
// cache. All operations are best-effort: a backend failure behaves like a
// miss and never propagates an error to readers.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) int64
	// Counter returns the current counter value, zero when unset.
	Counter(ctx context.Context, key string) int64
	Close()
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is the in-process TTL cache.
type Memory struct {
	mu       sync.RWMutex
	items    map[string]entry
	counters map[string]int64
	config   Config
	done     chan struct{}
	once     sync.Once
}

// New creates an in-memory cache and starts its cleanup goroutine.
func New(config Config) *Memory {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 10 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.MaxItems <= 0 {
		config.MaxItems = 1000
	}
	c := &Memory{
		items:    make(map[string]entry),
		counters: make(map[string]int64),
		config:   config,
		done:     make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *Memory) janitor() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Memory) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
			if c.config.OnEviction != nil {
				c.config.OnEviction(k)
			}
		}
	}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) >= c.config.MaxItems {
		// Room is made by dropping expired entries first, then an arbitrary
		// entry. The cache is advisory; precision eviction is not worth a
		// heap here.
		now := time.Now()
		dropped := false
		for k, e := range c.items {
			if now.After(e.expiresAt) {
				delete(c.items, k)
				dropped = true
			}
		}
		if !dropped {
			for k := range c.items {
				delete(c.items, k)
				break
			}
		}
	}
	c.items[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (c *Memory) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *Memory) Incr(_ context.Context, key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key]
}

func (c *Memory) Counter(_ context.Context, key string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[key]
}

func (c *Memory) Close() {
	c.once.Do(func() { close(c.done) })
}

// Versioned builds keys that embed a per-subject version counter. Writers
// call Bump(subject) after any invalidating write; readers build keys with
// the current version, so stale entries become unreachable and age out.
type Versioned struct {
	backend Backend
	name    string
	ttl     time.Duration
}

// NewVersioned wraps a backend with versioned key construction for one
// named cache (e.g. "agentcfg", "scopes", "catalog", "search").
func NewVersioned(backend Backend, name string, ttl time.Duration) *Versioned {
	return &Versioned{backend: backend, name: name, ttl: ttl}
}

func (v *Versioned) versionKey(subject string) string {
	return "ver:" + v.name + ":" + subject
}

// Key builds the full cache key for a subject and its discriminator parts.
func (v *Versioned) Key(ctx context.Context, subject string, parts ...string) string {
	ver := v.backend.Counter(ctx, v.versionKey(subject))
	var b strings.Builder
	b.WriteString(v.name)
	b.WriteString(":v")
	b.WriteString(strconv.FormatInt(ver, 10))
	b.WriteString(":")
	b.WriteString(subject)
	for _, p := range parts {
		b.WriteString(":")
		b.WriteString(p)
	}
	return b.String()
}

// Bump invalidates every key previously built for subject.
func (v *Versioned) Bump(ctx context.Context, subject string) {
	v.backend.Incr(ctx, v.versionKey(subject))
}

// GetJSON fetches and unmarshals a cached value into out.
func (v *Versioned) GetJSON(ctx context.Context, key string, out any) bool {
	raw, ok := v.backend.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// SetJSON marshals and stores a value under key with the cache's TTL.
func (v *Versioned) SetJSON(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	v.backend.Set(ctx, key, raw, v.ttl)
}
