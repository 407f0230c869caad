package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sync"
	"time"
)

// ResponseCache holds provider response bodies keyed by request signature.
// Entries older than ttl are never served.
type ResponseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	body     []byte
	storedAt time.Time
}

// NewResponseCache creates a cache. A non-positive ttl disables caching.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns a cached body if present and fresh.
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.body, true
}

// Set stores a body, pruning expired entries.
func (c *ResponseCache) Set(key string, body []byte) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{body: body, storedAt: now}
}

// Len reports the number of stored entries, fresh or not.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cacheKey is the SHA-256 of the request URL with credentials removed.
func cacheKey(u *url.URL) string {
	clean := *u
	q := clean.Query()
	q.Del("apikey")
	q.Del("appid")
	clean.RawQuery = q.Encode()
	sum := sha256.Sum256([]byte(clean.String()))
	return hex.EncodeToString(sum[:])
}

type freshKey struct{}

// WithFreshData marks ctx so provider calls bypass the response cache.
func WithFreshData(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshKey{}, true)
}

func wantsFresh(ctx context.Context) bool {
	v, _ := ctx.Value(freshKey{}).(bool)
	return v
}
