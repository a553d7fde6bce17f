package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("get: %q %v", got, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
	c.removeExpired()
	if len(c.entries) != 0 {
		t.Fatalf("expected expired entry to be swept")
	}
}

func TestMemoryCacheDeletePrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	c.Set(ctx, "zora:featured:vendors:a", []byte("1"), time.Minute)
	c.Set(ctx, "zora:featured:vendors:b", []byte("2"), time.Minute)
	c.Set(ctx, "zora:featured:products:a", []byte("3"), time.Minute)

	if err := c.DeletePrefix(ctx, "zora:featured:vendors:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if _, err := c.Get(ctx, "zora:featured:vendors:a"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected vendor key removed")
	}
	if _, err := c.Get(ctx, "zora:featured:products:a"); err != nil {
		t.Fatalf("product key should survive: %v", err)
	}
}

func TestMemoryCacheCloseTwice(t *testing.T) {
	c := NewMemoryCache()
	c.Close()
	c.Close()
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(ctx, RedisOptions{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	defer c.Close()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("get: %q %v", got, err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after ttl, got %v", err)
	}
}

func TestRedisCacheDeletePrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(ctx, RedisOptions{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	defer c.Close()

	for _, key := range []string{"p:vendors:1", "p:vendors:2", "p:products:1"} {
		if err := c.Set(ctx, key, []byte("x"), time.Minute); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	if err := c.DeletePrefix(ctx, "p:vendors:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if mr.Exists("p:vendors:1") || mr.Exists("p:vendors:2") {
		t.Fatalf("vendor keys should be gone")
	}
	if !mr.Exists("p:products:1") {
		t.Fatalf("product key should remain")
	}
}

func TestNewRedisCacheFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisCache(context.Background(), RedisOptions{Addr: addr}); err == nil {
		t.Fatalf("expected connection error")
	}
}
