package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalCache is the in-process backend, a thin wrapper over go-cache.
type LocalCache struct {
	c *gocache.Cache
}

func NewLocalCache(config LocalConfig) *LocalCache {
	if config.DefaultExpiration <= 0 {
		config.DefaultExpiration = 30 * time.Second
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	return &LocalCache{c: gocache.New(config.DefaultExpiration, config.CleanupInterval)}
}

func (l *LocalCache) Get(_ context.Context, key string) (interface{}, bool) {
	return l.c.Get(key)
}

func (l *LocalCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	l.c.Set(key, value, expiration)
	return nil
}

func (l *LocalCache) Delete(_ context.Context, key string) error {
	l.c.Delete(key)
	return nil
}

func (l *LocalCache) Exists(_ context.Context, key string) bool {
	_, ok := l.c.Get(key)
	return ok
}

func (l *LocalCache) Close() error {
	l.c.Flush()
	return nil
}
