package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cloo-solutions/repomem/internal/domain"
)

// DefaultCacheTTL is how long a cached response stays valid.
const DefaultCacheTTL = 30 * time.Minute

type CacheStatus string

const (
	CacheHit         CacheStatus = "hit"
	CacheMiss        CacheStatus = "miss"
	CacheUnavailable CacheStatus = "unavailable"
)

// CacheResult is the outcome of a lookup. Miss and unavailable both mean the
// caller computes the response itself.
type CacheResult struct {
	Status  CacheStatus
	Payload []byte
	Err     error
}

type Cache interface {
	Get(ctx context.Context, key string) CacheResult
	Set(ctx context.Context, key string, payload []byte) error
}

// CacheKey fingerprints a normalized request.
func CacheKey(query string, filters domain.SearchFilters, opts domain.SearchOptions) string {
	fingerprint := struct {
		Query   string               `json:"q"`
		Filters domain.SearchFilters `json:"f"`
		Options domain.SearchOptions `json:"o"`
	}{
		Query:   strings.Join(strings.Fields(strings.ToLower(query)), " "),
		Filters: filters,
		Options: opts,
	}
	// cache bypass does not change the response
	fingerprint.Options.SkipCache = false
	raw, _ := json.Marshal(fingerprint)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// LRUCache keeps responses in process memory.
type LRUCache struct {
	lru *expirable.LRU[string, []byte]
}

func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LRUCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *LRUCache) Get(_ context.Context, key string) CacheResult {
	payload, ok := c.lru.Get(key)
	if !ok {
		return CacheResult{Status: CacheMiss}
	}
	return CacheResult{Status: CacheHit, Payload: payload}
}

func (c *LRUCache) Set(_ context.Context, key string, payload []byte) error {
	c.lru.Add(key, payload)
	return nil
}

func (c *LRUCache) Len() int {
	return c.lru.Len()
}

func (c *LRUCache) Purge() {
	c.lru.Purge()
}

type CacheStore interface {
	Get(ctx context.Context, key string) (*domain.CacheEntry, error)
	Put(ctx context.Context, entry domain.CacheEntry) error
}

// StoreCache keeps responses in a shared table so every replica sees them.
type StoreCache struct {
	store CacheStore
	ttl   time.Duration
	now   func() time.Time
}

func NewStoreCache(store CacheStore, ttl time.Duration) *StoreCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &StoreCache{store: store, ttl: ttl, now: time.Now}
}

func (c *StoreCache) Get(ctx context.Context, key string) CacheResult {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		return CacheResult{Status: CacheUnavailable, Err: err}
	}
	if entry == nil || entry.Expired(c.now(), c.ttl) {
		return CacheResult{Status: CacheMiss}
	}
	return CacheResult{Status: CacheHit, Payload: entry.Payload}
}

func (c *StoreCache) Set(ctx context.Context, key string, payload []byte) error {
	return c.store.Put(ctx, domain.CacheEntry{Key: key, Payload: payload, CreatedAt: c.now().UTC()})
}
