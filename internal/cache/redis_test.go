package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+m.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store, m
}

func TestRedisRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	e := Entry{
		Key:       "search:abc",
		Value:     []byte(`{"listings":[]}`),
		Tier:      TierWarm,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := store.Put(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "search:abc")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Tier != TierWarm || string(got.Value) != string(e.Value) {
		t.Errorf("got %+v", got)
	}
}

func TestRedisMissIsNilNil(t *testing.T) {
	store, _ := newTestRedisStore(t)
	got, err := store.Get(context.Background(), "search:absent")
	if err != nil || got != nil {
		t.Errorf("miss = %v, %v; want nil, nil", got, err)
	}
}

func TestRedisExpiredEntryIsAMiss(t *testing.T) {
	store, m := newTestRedisStore(t)
	ctx := context.Background()

	e := Entry{Key: "search:short", Value: []byte("x"), Tier: TierHot, ExpiresAt: time.Now().Add(time.Second)}
	if err := store.Put(ctx, e); err != nil {
		t.Fatal(err)
	}

	m.FastForward(2 * time.Second)
	got, err := store.Get(ctx, "search:short")
	if err != nil || got != nil {
		t.Errorf("expired = %v, %v; want nil, nil", got, err)
	}
}

func TestRedisCorruptEnvelopeDropsToMiss(t *testing.T) {
	store, m := newTestRedisStore(t)
	m.Set(redisKeyPrefix+"search:bad", "not json")

	got, err := store.Get(context.Background(), "search:bad")
	if err != nil || got != nil {
		t.Errorf("corrupt = %v, %v; want nil, nil", got, err)
	}
	if m.Exists(redisKeyPrefix + "search:bad") {
		t.Error("corrupt entry should be deleted")
	}
}

func TestRedisDeletePattern(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	for _, k := range []string{"search:aaa", "search:abb", "other:aaa"} {
		if err := store.Put(ctx, Entry{Key: k, Value: []byte("x"), Tier: TierCold, ExpiresAt: exp}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.DeletePattern(ctx, "search:a*")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if got, _ := store.Get(ctx, "other:aaa"); got == nil {
		t.Error("non-matching key must survive")
	}
}
