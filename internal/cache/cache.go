package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
)

// ReadCache holds encoded read results for the batcher.
type ReadCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Close()
}

// LocalCache is an in-process TTL cache.
type LocalCache struct {
	c *cache.Cache
}

func NewLocalCache(defaultTTL time.Duration) *LocalCache {
	return &LocalCache{c: cache.New(defaultTTL, 2*defaultTTL)}
}

func (lc *LocalCache) Get(key string) ([]byte, bool) {
	v, ok := lc.c.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (lc *LocalCache) Set(key string, value []byte, ttl time.Duration) {
	lc.c.Set(key, value, ttl)
}

func (lc *LocalCache) Close() {
	lc.c.Flush()
}

// hashKey keeps keys within memcached limits regardless of query shape length.
func hashKey(key string) string {
	hash := sha256.New()
	hash.Write([]byte(key))
	return hex.EncodeToString(hash.Sum(nil))
}
