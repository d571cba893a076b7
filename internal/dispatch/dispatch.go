// Package dispatch fans one search out to every enabled source, inside the
// resilience envelope: circuit breaker, rate-limit lease, retry policy, and
// per-source sub-deadlines under the overall request deadline.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thetangstr/findmycar/internal/breaker"
	"github.com/thetangstr/findmycar/internal/metrics"
	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/ratelimit"
	"github.com/thetangstr/findmycar/internal/retry"
	"github.com/thetangstr/findmycar/internal/sources"
)

// Bundle status values.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// SourceResult is one source's contribution to a fan-out.
type SourceResult struct {
	Source   string
	Status   string
	Listings []models.Listing
	Meta     sources.SearchMeta
	Err      error
	Elapsed  time.Duration
}

// Timeouts holds the per-kind sub-deadlines.
type Timeouts struct {
	API    time.Duration `yaml:"api"`
	Scrape time.Duration `yaml:"scrape"`
	Feed   time.Duration `yaml:"feed"`
	Local  time.Duration `yaml:"local"`
}

var DefaultTimeouts = Timeouts{
	API:    30 * time.Second,
	Scrape: 60 * time.Second,
	Feed:   15 * time.Second,
	Local:  5 * time.Second,
}

func (t Timeouts) forKind(kind models.SourceKind) time.Duration {
	switch kind {
	case models.KindAPI:
		return t.API
	case models.KindScrape:
		return t.Scrape
	case models.KindFeed:
		return t.Feed
	case models.KindLocal:
		return t.Local
	default:
		return t.API
	}
}

// Engine runs fan-outs. A process-wide semaphore bounds total concurrent
// outbound operations across all requests.
type Engine struct {
	limiter  *ratelimit.Registry
	breakers *breaker.Registry
	policy   retry.Policy
	timeouts Timeouts
	sem      chan struct{}
}

// DefaultMaxOutbound bounds concurrent outbound operations process-wide.
const DefaultMaxOutbound = 64

func NewEngine(limiter *ratelimit.Registry, breakers *breaker.Registry, policy retry.Policy, timeouts Timeouts, maxOutbound int) *Engine {
	if maxOutbound <= 0 {
		maxOutbound = DefaultMaxOutbound
	}
	if timeouts == (Timeouts{}) {
		timeouts = DefaultTimeouts
	}
	return &Engine{
		limiter:  limiter,
		breakers: breakers,
		policy:   policy,
		timeouts: timeouts,
		sem:      make(chan struct{}, maxOutbound),
	}
}

// Search fans out to the given adapters and returns one bundle per source in
// the adapters' order. It returns when every source finished or the overall
// deadline elapsed; unfinished sources are cancelled cooperatively. Failures
// never abort sibling sources.
func (e *Engine) Search(ctx context.Context, adapters []sources.Adapter, query string, filters models.FilterSet, page, perPage int) []SourceResult {
	results := make([]SourceResult, len(adapters))
	var wg sync.WaitGroup

	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a sources.Adapter) {
			defer wg.Done()
			results[i] = e.searchOne(ctx, a, query, filters, page, perPage)
		}(i, a)
	}
	wg.Wait()
	return results
}

func (e *Engine) searchOne(ctx context.Context, a sources.Adapter, query string, filters models.FilterSet, page, perPage int) SourceResult {
	tag := a.Tag()
	start := time.Now()
	res := SourceResult{Source: tag, Status: StatusFailed}
	finish := func() SourceResult {
		res.Elapsed = time.Since(start)
		metrics.SourceRequests.WithLabelValues(tag, res.Status).Inc()
		metrics.SourceLatency.WithLabelValues(tag).Observe(res.Elapsed.Seconds())
		return res
	}

	// Local reads bypass the breaker and limiter; they are in-process.
	guarded := a.Kind() != models.KindLocal

	var br *breaker.Breaker
	if guarded {
		br = e.breakers.For(tag)
		if err := br.Allow(); err != nil {
			res.Err = err
			log.Debug().Str("source", tag).Msg("short-circuited by open breaker")
			return finish()
		}
	}

	// Bound total outbound concurrency.
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		// The local queue produced this timeout, not the upstream; the
		// breaker does not see it.
		res.Err = sources.NewError(tag, "search", sources.KindDeadlineExceeded, ctx.Err())
		return finish()
	}

	subTimeout := e.timeouts.forKind(a.Kind())
	subCtx, cancel := context.WithTimeout(ctx, subTimeout)
	defer cancel()

	if guarded {
		lease, err := e.limiter.Acquire(subCtx, tag, "search")
		if err != nil {
			res.Err = err
			// Locally produced denial: the upstream never saw the call, so
			// the breaker does not either.
			return finish()
		}
		if lease.Waited > 0 {
			log.Debug().Str("source", tag).Dur("waited", lease.Waited).Msg("rate limit lease acquired")
		}
	}

	var (
		listings []models.Listing
		meta     sources.SearchMeta
	)
	err := e.policy.Do(subCtx, tag+".search", func(ctx context.Context) error {
		var innerErr error
		listings, meta, innerErr = a.Search(ctx, query, filters, page, perPage)
		return innerErr
	})

	if br != nil {
		if err == nil {
			br.RecordSuccess()
		} else if sources.CountsAsBreakerFailure(err) {
			br.RecordFailure()
		}
		e.publishState(br)
	}

	if err != nil {
		res.Err = err
		if len(listings) > 0 {
			// Deadline hit mid-page: keep what arrived, flag the bundle.
			res.Status = StatusPartial
			res.Listings = listings
			res.Meta = meta
		}
		log.Warn().Str("source", tag).Str("kind", string(sources.KindOf(err))).
			Err(err).Msg("source search failed")
		return finish()
	}

	res.Listings = listings
	res.Meta = meta
	if meta.Truncated {
		res.Status = StatusPartial
	} else {
		res.Status = StatusOK
	}
	return finish()
}

func (e *Engine) publishState(br *breaker.Breaker) {
	snap := br.Snapshot()
	var v float64
	switch snap.State {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	metrics.BreakerState.WithLabelValues(snap.Source).Set(v)
}

// Details fetches a single record through the same envelope as Search. The
// scheduler uses it for background refresh.
func (e *Engine) Details(ctx context.Context, a sources.Adapter, sourceListingID string) (models.Listing, error) {
	tag := a.Tag()
	guarded := a.Kind() != models.KindLocal

	var br *breaker.Breaker
	if guarded {
		br = e.breakers.For(tag)
		if err := br.Allow(); err != nil {
			return models.Listing{}, err
		}
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return models.Listing{}, sources.NewError(tag, "details", sources.KindDeadlineExceeded, ctx.Err())
	}

	subCtx, cancel := context.WithTimeout(ctx, e.timeouts.forKind(a.Kind()))
	defer cancel()

	if guarded {
		if _, err := e.limiter.Acquire(subCtx, tag, "details"); err != nil {
			return models.Listing{}, err
		}
	}

	var out models.Listing
	err := e.policy.Do(subCtx, tag+".details", func(ctx context.Context) error {
		var innerErr error
		out, innerErr = a.GetDetails(ctx, sourceListingID)
		return innerErr
	})

	if br != nil {
		if err == nil {
			br.RecordSuccess()
		} else if sources.CountsAsBreakerFailure(err) {
			br.RecordFailure()
		}
		e.publishState(br)
	}
	return out, err
}
