package utils

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheItem[V any] struct {
	data      V
	expiresAt time.Time
}

// Cache is a size bounded LRU whose entries also expire after a TTL.
type Cache[V any] struct {
	lruCache *lru.Cache[string, cacheItem[V]]
	ttl      time.Duration
	now      func() time.Time
}

func NewCache[V any](size int, ttl time.Duration) *Cache[V] {
	l, err := lru.New[string, cacheItem[V]](size)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Cache[V]{lruCache: l, ttl: ttl, now: time.Now}
}

func (c *Cache[V]) Set(key string, data V) {
	c.lruCache.Add(key, cacheItem[V]{
		data:      data,
		expiresAt: c.now().Add(c.ttl),
	})
}

// Get returns the cached value if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	val, ok := c.lruCache.Get(key)
	if !ok {
		return zero, false
	}
	if c.now().After(val.expiresAt) {
		c.lruCache.Remove(key)
		return zero, false
	}
	return val.data, true
}

func (c *Cache[V]) Delete(key string) {
	c.lruCache.Remove(key)
}
