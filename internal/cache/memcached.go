package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/config"
	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedCache shares cached reads between worker replicas.
type MemcachedCache struct {
	client *memcache.Client
	log    *slog.Logger
}

func NewMemcachedCache(cacheConfig *config.CacheConfig, log *slog.Logger) (*MemcachedCache, error) {
	log.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	servers := strings.Split(cacheConfig.Servers, ",")
	if err := ss.SetServers(servers...); err != nil {
		return nil, fmt.Errorf("set memcached servers: %w", err)
	}
	c := &MemcachedCache{
		client: memcache.NewFromSelector(ss),
		log:    log,
	}
	c.log.Info("pinging the memcached.")
	if err := c.client.Ping(); err != nil {
		return nil, fmt.Errorf("connection to the memcached failed: %w", err)
	}
	c.log.Info("connected to memcached!")

	return c, nil
}

func (mc *MemcachedCache) Get(key string) ([]byte, bool) {
	item, err := mc.client.Get(hashKey(key))
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			mc.log.Warn("failed to read from cache.", slog.String("err", err.Error()))
		}
		return nil, false
	}
	return item.Value, true
}

func (mc *MemcachedCache) Set(key string, value []byte, ttl time.Duration) {
	seconds := int32(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	item := &memcache.Item{
		Key:        hashKey(key),
		Value:      value,
		Expiration: seconds,
	}
	if err := mc.client.Set(item); err != nil {
		mc.log.Error("failed to save to cache.", slog.String("err", err.Error()))
	}
}

func (mc *MemcachedCache) Close() {
	mc.log.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		mc.log.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}
