// Package cache memoises successful replies for a short time.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTTL = 5 * time.Minute

	keyPrefixRunes = 50
)

// Key derives the cache key for a request. Messages that share their first
// 50 normalised characters collide on purpose.
func Key(scene, roleID, message string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(message)), "_")
	if runes := []rune(normalized); len(runes) > keyPrefixRunes {
		normalized = string(runes[:keyPrefixRunes])
	}
	sum := md5.Sum([]byte(scene + "\x00" + roleID + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}

type entry struct {
	value    string
	storedAt time.Time
}

// Cache is a TTL map safe for concurrent use. Expired entries are never
// returned and are purged lazily.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.expired(e) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *Cache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, storedAt: c.now()}
}

// Sweep drops every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len counts stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(e entry) bool {
	return c.now().Sub(e.storedAt) >= c.ttl
}
