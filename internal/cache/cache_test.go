package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestTiered(t *testing.T) (*Tiered, *MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	clock := testNow
	store.now = func() time.Time { return clock }
	tiered := NewTiered(store, nil)
	tiered.now = func() time.Time { return clock }
	return tiered, store, &clock
}

func TestKeyDeterminism(t *testing.T) {
	f := models.FilterSet{Make: "Honda", Models: []string{"Civic", "Accord"}}
	g := models.FilterSet{Make: "Honda", Models: []string{"Accord", "Civic"}}

	k1 := Key("Honda  Civic", f, []string{"ebay", "local_db"})
	k2 := Key("honda civic", g, []string{"local_db", "ebay"})
	if k1 != k2 {
		t.Error("equivalent query/filters/sources must share a key")
	}

	k3 := Key("honda civic", f, []string{"ebay"})
	if k1 == k3 {
		t.Error("different enabled source set must change the key")
	}
}

func TestPutTierPolicy(t *testing.T) {
	tiered, store, _ := newTestTiered(t)
	ctx := context.Background()

	cases := []struct {
		key   string
		count int
		want  Tier
	}{
		{"search:many", 25, TierHot},
		{"search:some", 3, TierWarm},
		{"search:none", 0, TierCold},
	}
	for _, tc := range cases {
		if err := tiered.Put(ctx, tc.key, []byte("x"), tc.count, ""); err != nil {
			t.Fatal(err)
		}
		e, _ := store.Get(ctx, tc.key)
		if e == nil || e.Tier != tc.want {
			t.Errorf("%s: tier = %v, want %s", tc.key, e, tc.want)
		}
	}
}

func TestPrewarmPatternForcesHot(t *testing.T) {
	tiered, store, _ := newTestTiered(t)
	tiered.SetPrewarmPatterns([]string{"search:popular*"})
	ctx := context.Background()

	tiered.Put(ctx, "search:popular-civic", []byte("x"), 0, "")
	e, _ := store.Get(ctx, "search:popular-civic")
	if e.Tier != TierHot {
		t.Errorf("tier = %s, want hot for prewarm-pattern match", e.Tier)
	}
}

func TestExpiryIsAMiss(t *testing.T) {
	tiered, _, clock := newTestTiered(t)
	ctx := context.Background()

	tiered.Put(ctx, "search:k", []byte("x"), 1, "") // warm, 30m TTL
	if _, ok := tiered.Get(ctx, "search:k"); !ok {
		t.Fatal("fresh entry should hit")
	}

	*clock = clock.Add(31 * time.Minute)
	if _, ok := tiered.Get(ctx, "search:k"); ok {
		t.Error("expired entry must be a miss")
	}
}

func TestPromotionThresholds(t *testing.T) {
	tiered, store, _ := newTestTiered(t)
	ctx := context.Background()

	tiered.Put(ctx, "search:k", []byte("x"), 0, "") // cold
	for i := 0; i < 3; i++ {
		tiered.Get(ctx, "search:k")
	}
	e, _ := store.Get(ctx, "search:k")
	if e.Tier != TierWarm {
		t.Fatalf("tier after 3 accesses = %s, want warm", e.Tier)
	}

	for i := 0; i < 7; i++ {
		tiered.Get(ctx, "search:k")
	}
	e, _ = store.Get(ctx, "search:k")
	if e.Tier != TierHot {
		t.Errorf("tier after 10 accesses = %s, want hot", e.Tier)
	}
}

func TestInvalidatePattern(t *testing.T) {
	tiered, _, _ := newTestTiered(t)
	ctx := context.Background()

	tiered.Put(ctx, "search:aaa", []byte("x"), 1, "")
	tiered.Put(ctx, "search:abb", []byte("x"), 1, "")
	tiered.Put(ctx, "other:aaa", []byte("x"), 1, "")

	n, err := tiered.InvalidatePattern(ctx, "search:a*")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("invalidated %d, want 2", n)
	}
	if _, ok := tiered.Get(ctx, "other:aaa"); !ok {
		t.Error("non-matching key must survive")
	}
}

func TestGetOrFillSingleFlight(t *testing.T) {
	tiered, _, _ := newTestTiered(t)
	ctx := context.Background()

	var fills atomic.Int32
	fill := func(ctx context.Context) ([]byte, int, error) {
		fills.Add(1)
		time.Sleep(20 * time.Millisecond)
		return []byte("result"), 5, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, _, err := tiered.GetOrFill(ctx, "search:sf", fill)
			if err != nil || string(v) != "result" {
				t.Errorf("GetOrFill = %q, %v", v, err)
			}
		}()
	}
	wg.Wait()

	if got := fills.Load(); got != 1 {
		t.Errorf("fill ran %d times, want 1", got)
	}
	_, tier, cached, _ := tiered.GetOrFill(ctx, "search:sf", fill)
	if !cached {
		t.Error("second call should be served from cache")
	}
	if tier != TierWarm {
		t.Errorf("hit tier = %q, a 5-result page lands warm", tier)
	}
}

func TestGetOrFillPropagatesError(t *testing.T) {
	tiered, _, _ := newTestTiered(t)
	boom := errors.New("upstream down")
	_, _, _, err := tiered.GetOrFill(context.Background(), "search:err",
		func(ctx context.Context) ([]byte, int, error) { return nil, 0, boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped upstream error", err)
	}
	if _, ok := tiered.Get(context.Background(), "search:err"); ok {
		t.Error("failed fills must not populate the cache")
	}
}

func TestStats(t *testing.T) {
	tiered, _, _ := newTestTiered(t)
	ctx := context.Background()

	tiered.Get(ctx, "search:missing")
	tiered.Put(ctx, "search:k", []byte("x"), 1, "")
	tiered.Get(ctx, "search:k")

	s := tiered.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.Backend != "memory" {
		t.Errorf("backend = %s", s.Backend)
	}
}
