package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client)
}

func TestRedisStoreSlidingWindow(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	buckets := []Bucket{{Key: AccountKey(1), Limit: 2}}

	for i := 0; i < 2; i++ {
		ok, _, err := store.Reserve(ctx, buckets, base.Add(time.Duration(i)*time.Minute), Window)
		if err != nil || !ok {
			t.Fatalf("reserve %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, retry, err := store.Reserve(ctx, buckets, base.Add(10*time.Minute), Window)
	if err != nil {
		t.Fatal(err)
	}
	if ok || retry != 50*time.Minute {
		t.Fatalf("ok=%v retry=%s, want denied with 50m", ok, retry)
	}
	ok, _, _ = store.Reserve(ctx, buckets, base.Add(61*time.Minute), Window)
	if !ok {
		t.Fatal("expected a slot after the first entry expired")
	}
}

func TestRedisStoreAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g := NewGovernor(store).WithClock(func() time.Time { return now })

	if d, err := g.Reserve(ctx, Reservation{AccountID: 1, AccountCap: 1, QueueID: 1, QueueLimit: 10}); err != nil || !d.Allowed {
		t.Fatalf("first: %+v %v", d, err)
	}
	d, err := g.Reserve(ctx, Reservation{AccountID: 1, AccountCap: 1, QueueID: 2, QueueLimit: 10})
	if err != nil || d.Allowed {
		t.Fatalf("account cap must deny: %+v %v", d, err)
	}
	n, err := store.c.ZCard(ctx, QueueKey(2)).Result()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("denied reservation wrote %d entries to the queue bucket", n)
	}
}
