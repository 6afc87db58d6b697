package cache

import (
	"context"
	"testing"
	"time"
)

func TestLocalCache(t *testing.T) {
	config := LocalConfig{
		DefaultExpiration: 5 * time.Minute,
		CleanupInterval:   10 * time.Minute,
	}

	cache := NewLocalCache(config)
	defer cache.Close()

	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		err := cache.Set(ctx, "test_key", "test_value", time.Minute)
		if err != nil {
			t.Errorf("Failed to set cache: %v", err)
		}

		if retrieved, exists := cache.Get(ctx, "test_key"); !exists {
			t.Error("Cache value not found")
		} else if retrieved != "test_value" {
			t.Errorf("Expected test_value, got %v", retrieved)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "gone", 1, time.Minute)
		_ = cache.Delete(ctx, "gone")
		if cache.Exists(ctx, "gone") {
			t.Error("key should be deleted")
		}
	})

	t.Run("Factory defaults to local", func(t *testing.T) {
		c, err := NewCache(Config{})
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		defer c.Close()
		if _, ok := c.(*LocalCache); !ok {
			t.Errorf("expected *LocalCache, got %T", c)
		}
	})
}
