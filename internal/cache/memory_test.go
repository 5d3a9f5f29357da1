package cache

import (
	"context"
	"testing"
	"time"
)

func newTestMemoryCache(t *testing.T, maxSize int) (*MemoryCache, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	mc := NewMemoryCache(maxSize, time.Hour)
	mc.SetClock(func() time.Time { return now })
	t.Cleanup(func() { mc.Close() })
	return mc, &now
}

func TestMemoryCacheGetSet(t *testing.T) {
	mc, _ := newTestMemoryCache(t, 10)
	ctx := context.Background()

	if _, found, _ := mc.Get(ctx, "missing"); found {
		t.Fatal("expected miss for unknown key")
	}

	if err := mc.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, found, err := mc.Get(ctx, "k")
	if err != nil || !found || string(v) != "v" {
		t.Fatalf("Get() = %q, %v, %v; want v, true, nil", v, found, err)
	}

	mc.Delete(ctx, "k")
	if _, found, _ := mc.Get(ctx, "k"); found {
		t.Error("expected miss after Delete")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc, now := newTestMemoryCache(t, 10)
	ctx := context.Background()

	mc.Set(ctx, "k", []byte("v"), time.Minute)
	*now = now.Add(59 * time.Second)
	if _, found, _ := mc.Get(ctx, "k"); !found {
		t.Fatal("entry expired early")
	}
	*now = now.Add(time.Second)
	if _, found, _ := mc.Get(ctx, "k"); found {
		t.Error("expired entry was returned")
	}
	if mc.Len() != 0 {
		t.Error("expired entry was not removed on read")
	}
}

func TestMemoryCacheSweep(t *testing.T) {
	mc, now := newTestMemoryCache(t, 2)
	ctx := context.Background()

	mc.Set(ctx, "gone", []byte("0"), time.Second)
	mc.Set(ctx, "a", []byte("1"), time.Minute)
	mc.Set(ctx, "b", []byte("2"), 2*time.Minute)
	mc.Set(ctx, "c", []byte("3"), 3*time.Minute)
	*now = now.Add(2 * time.Second)
	mc.sweep()

	if mc.Len() != 2 {
		t.Fatalf("Len() = %d after sweep, want 2", mc.Len())
	}
	if _, found, _ := mc.Get(ctx, "a"); found {
		t.Error("entry closest to expiry should have been evicted")
	}
	for _, k := range []string{"b", "c"} {
		if _, found, _ := mc.Get(ctx, k); !found {
			t.Errorf("entry %q should have been kept", k)
		}
	}
}

func TestNewDefaultsToMemory(t *testing.T) {
	b, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close()
	if _, ok := b.(*MemoryCache); !ok {
		t.Errorf("New() = %T, want *MemoryCache", b)
	}
}

func TestNewRejectsBadRedisURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisURL = "not-a-url://"
	if _, err := New(cfg); err == nil {
		t.Error("New() accepted an invalid redis url")
	}
}
