package kv

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// The same conformance suite runs against both backends: identical call
// sequences must produce identical decisions.

type storeFixture struct {
	store   Store
	advance func(d time.Duration)
}

func newMemoryFixture(t *testing.T) storeFixture {
	t.Helper()
	now := time.Now()
	mem := NewMemory()
	mem.WithClock(func() time.Time { return now })
	return storeFixture{
		store: mem,
		advance: func(d time.Duration) {
			now = now.Add(d)
		},
	}
}

func newRedisFixture(t *testing.T) storeFixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return storeFixture{
		store:   NewRedis(rdb),
		advance: mr.FastForward,
	}
}

func runStoreSuite(t *testing.T, newFixture func(t *testing.T) storeFixture) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		fx := newFixture(t)
		if _, err := fx.store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SetGetDelete", func(t *testing.T) {
		fx := newFixture(t)
		if err := fx.store.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
			t.Fatalf("set: %v", err)
		}
		data, err := fx.store.Get(ctx, "k")
		if err != nil || string(data) != "v" {
			t.Fatalf("get: %q %v", data, err)
		}
		if err := fx.store.Delete(ctx, "k"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := fx.store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		if err := fx.store.Delete(ctx, "k"); err != nil {
			t.Fatalf("second delete: %v", err)
		}
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		fx := newFixture(t)
		if err := fx.store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
			t.Fatalf("set: %v", err)
		}
		fx.advance(2 * time.Minute)
		if _, err := fx.store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after expiry, got %v", err)
		}
	})

	t.Run("SetMembership", func(t *testing.T) {
		fx := newFixture(t)
		for _, member := range []string{"a", "b", "c"} {
			if err := fx.store.AddToSet(ctx, "s", member, time.Hour); err != nil {
				t.Fatalf("add %s: %v", member, err)
			}
		}
		members, err := fx.store.SetMembers(ctx, "s")
		if err != nil {
			t.Fatalf("members: %v", err)
		}
		sort.Strings(members)
		if len(members) != 3 || members[0] != "a" || members[2] != "c" {
			t.Fatalf("members = %v", members)
		}

		if err := fx.store.RemoveFromSet(ctx, "s", "b"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		members, _ = fx.store.SetMembers(ctx, "s")
		if len(members) != 2 {
			t.Fatalf("after remove: %v", members)
		}

		if err := fx.store.DeleteSet(ctx, "s"); err != nil {
			t.Fatalf("delete set: %v", err)
		}
		members, err = fx.store.SetMembers(ctx, "s")
		if err != nil || len(members) != 0 {
			t.Fatalf("after delete set: %v %v", members, err)
		}
	})

	t.Run("SetExpiry", func(t *testing.T) {
		fx := newFixture(t)
		if err := fx.store.AddToSet(ctx, "s", "a", time.Minute); err != nil {
			t.Fatalf("add: %v", err)
		}
		fx.advance(2 * time.Minute)
		members, err := fx.store.SetMembers(ctx, "s")
		if err != nil || len(members) != 0 {
			t.Fatalf("expected empty expired set, got %v %v", members, err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, newMemoryFixture)
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, newRedisFixture)
}

func TestFailoverDegradesToMemory(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var degraded int
	fo := NewFailover(NewRedis(rdb), NewMemory(), nil, func() { degraded++ })

	if err := fo.Set(ctx, "k", []byte("primary"), time.Hour); err != nil {
		t.Fatalf("set via primary: %v", err)
	}
	if fo.Degraded() {
		t.Fatal("unexpected degraded state")
	}

	// Kill the primary: writes must transparently land in the fallback.
	mr.Close()
	if err := fo.Set(ctx, "k2", []byte("fallback"), time.Hour); err != nil {
		t.Fatalf("set via fallback: %v", err)
	}
	data, err := fo.Get(ctx, "k2")
	if err != nil || string(data) != "fallback" {
		t.Fatalf("get via fallback: %q %v", data, err)
	}
	if !fo.Degraded() {
		t.Fatal("expected degraded state")
	}
	if degraded == 0 {
		t.Fatal("expected onDegrade callback")
	}

	// A missing key is an authoritative answer, not a failover trigger.
	if _, err := fo.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
