package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// PrewarmSearchFunc runs one synthetic search and returns the cache key and
// serialized page it produced.
type PrewarmSearchFunc func(ctx context.Context, query string) (key string, value []byte, count int, err error)

// Prewarmer proactively populates the cache for popular queries at startup
// and on an interval. It never blocks serving: everything runs on its own
// goroutine with its own timeouts.
type Prewarmer struct {
	cache    *Tiered
	search   PrewarmSearchFunc
	queries  []string
	interval time.Duration
	timeout  time.Duration
}

func NewPrewarmer(cache *Tiered, search PrewarmSearchFunc, queries []string, interval time.Duration) *Prewarmer {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Prewarmer{
		cache:    cache,
		search:   search,
		queries:  append([]string(nil), queries...),
		interval: interval,
		timeout:  time.Minute,
	}
}

// Start launches the prewarm loop; it stops when ctx is cancelled.
func (p *Prewarmer) Start(ctx context.Context) {
	if len(p.queries) == 0 {
		return
	}
	go func() {
		p.runOnce(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.runOnce(ctx)
			}
		}
	}()
}

func (p *Prewarmer) runOnce(ctx context.Context) {
	for _, q := range p.queries {
		if ctx.Err() != nil {
			return
		}
		qCtx, cancel := context.WithTimeout(ctx, p.timeout)
		key, value, count, err := p.search(qCtx, q)
		cancel()
		if err != nil {
			log.Warn().Str("query", q).Err(err).Msg("prewarm search failed")
			continue
		}
		if err := p.cache.Put(ctx, key, value, count, TierWarm); err != nil {
			log.Warn().Str("query", q).Err(err).Msg("prewarm cache write failed")
			continue
		}
		log.Debug().Str("query", q).Int("results", count).Msg("prewarmed query")
	}
}
