package cache

import (
	"context"
	"path"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Promotion thresholds: an entry accessed this many times moves up a tier.
const (
	promoteToWarmAt = 3
	promoteToHotAt  = 10
)

// Tiered is the result cache in front of the orchestrator. It owns tier
// selection, TTLs, promotion, pattern invalidation and the per-key
// single-flight barrier around misses.
type Tiered struct {
	store Store
	ttls  map[Tier]time.Duration

	// prewarmPatterns are key globs stored at hot tier on Put.
	prewarmPatterns []string

	sf     singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
	fills  atomic.Int64
	now    func() time.Time
}

func NewTiered(store Store, ttls map[Tier]time.Duration) *Tiered {
	merged := make(map[Tier]time.Duration, len(DefaultTTLs))
	for tier, ttl := range DefaultTTLs {
		merged[tier] = ttl
	}
	for tier, ttl := range ttls {
		if ttl > 0 {
			merged[tier] = ttl
		}
	}
	return &Tiered{store: store, ttls: merged, now: time.Now}
}

// SetPrewarmPatterns installs the key globs treated as always-hot.
func (t *Tiered) SetPrewarmPatterns(globs []string) {
	t.prewarmPatterns = append([]string(nil), globs...)
}

// Get returns the cached value for key, counting the access and promoting
// the entry when it crosses a threshold.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	e, ok := t.get(ctx, key)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

func (t *Tiered) get(ctx context.Context, key string) (*Entry, bool) {
	e, err := t.store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
		t.misses.Add(1)
		return nil, false
	}
	if e == nil {
		t.misses.Add(1)
		return nil, false
	}

	t.hits.Add(1)
	e.AccessCount++
	if next := t.promoted(e.Tier, e.AccessCount); next != e.Tier {
		e.Tier = next
		e.ExpiresAt = t.now().Add(t.ttls[next])
		log.Debug().Str("key", key).Str("tier", string(next)).Msg("cache entry promoted")
	}
	if err := t.store.Put(ctx, *e); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache access-count writeback failed")
	}
	return e, true
}

func (t *Tiered) promoted(tier Tier, accesses int64) Tier {
	switch {
	case tier == TierCold && accesses >= promoteToWarmAt:
		return TierWarm
	case tier == TierWarm && accesses >= promoteToHotAt:
		return TierHot
	default:
		return tier
	}
}

// Put stores a result page. Tier policy: hot when the key matches a pre-warm
// pattern or the page holds more than 10 listings, warm for non-empty pages,
// cold otherwise. tierHint overrides when non-empty.
func (t *Tiered) Put(ctx context.Context, key string, value []byte, resultCount int, tierHint Tier) error {
	tier := t.chooseTier(key, resultCount)
	if tierHint != "" {
		tier = tierHint
	}
	now := t.now()
	e := Entry{
		Key:       key,
		Value:     value,
		Tier:      tier,
		CreatedAt: now,
		ExpiresAt: now.Add(t.ttls[tier]),
	}
	return t.store.Put(ctx, e)
}

func (t *Tiered) chooseTier(key string, resultCount int) Tier {
	for _, glob := range t.prewarmPatterns {
		if ok, _ := path.Match(glob, key); ok {
			return TierHot
		}
	}
	switch {
	case resultCount > 10:
		return TierHot
	case resultCount > 0:
		return TierWarm
	default:
		return TierCold
	}
}

// InvalidatePattern drops all entries whose key matches the glob. Called on
// ingest of new inventory.
func (t *Tiered) InvalidatePattern(ctx context.Context, glob string) (int, error) {
	n, err := t.store.DeletePattern(ctx, glob)
	if n > 0 {
		log.Info().Str("glob", glob).Int("dropped", n).Msg("cache entries invalidated")
	}
	return n, err
}

// FillFunc computes a value on a miss and reports the result count used for
// tier selection.
type FillFunc func(ctx context.Context) ([]byte, int, error)

// GetOrFill returns the cached value or runs fill under a per-key
// single-flight barrier: at most one fill runs per key, concurrent callers
// observe its result. The bool reports whether the value came from cache;
// on a hit the serving tier accompanies it.
func (t *Tiered) GetOrFill(ctx context.Context, key string, fill FillFunc) ([]byte, Tier, bool, error) {
	if e, ok := t.get(ctx, key); ok {
		return e.Value, e.Tier, true, nil
	}

	v, err, _ := t.sf.Do(key, func() (interface{}, error) {
		// A sibling caller may have filled while we queued.
		if e, ok := t.get(ctx, key); ok {
			return e.Value, nil
		}
		value, count, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		t.fills.Add(1)
		if err := t.Put(ctx, key, value, count, ""); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
		return value, nil
	})
	if err != nil {
		return nil, "", false, err
	}
	return v.([]byte), "", false, nil
}

// Stats snapshots hit/miss/fill counters.
func (t *Tiered) Stats() Stats {
	s := Stats{
		Hits:   t.hits.Load(),
		Misses: t.misses.Load(),
		Fills:  t.fills.Load(),
	}
	switch st := t.store.(type) {
	case *MemoryStore:
		s.Backend = "memory"
		s.Entries = st.Len()
	case *RedisStore:
		s.Backend = "redis"
	default:
		s.Backend = "unknown"
	}
	return s
}
