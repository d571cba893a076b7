// Package aggregator is the search orchestrator. One call runs the whole
// pipeline: validate, derive filters from the query, consult the cache, read
// the local index, decide whether live sources are worth the latency, fan out,
// ingest, dedupe, score, and paginate.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thetangstr/findmycar/internal/cache"
	"github.com/thetangstr/findmycar/internal/dedup"
	"github.com/thetangstr/findmycar/internal/dispatch"
	"github.com/thetangstr/findmycar/internal/freshness"
	"github.com/thetangstr/findmycar/internal/index"
	"github.com/thetangstr/findmycar/internal/metrics"
	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/query"
	"github.com/thetangstr/findmycar/internal/score"
	"github.com/thetangstr/findmycar/internal/sources"
	"github.com/thetangstr/findmycar/internal/sources/local"
)

// Config tunes orchestration. Zero values take defaults.
type Config struct {
	// DefaultDeadline bounds a search when the request does not.
	DefaultDeadline time.Duration `yaml:"default_deadline"`
	// LiveThreshold is the local hit count below which live sources are
	// consulted even when local data is fresh.
	LiveThreshold int `yaml:"live_threshold"`
	// LocalFraction is the slice of the deadline granted to the local read.
	LocalFraction float64 `yaml:"local_fraction"`
	// LivePerSource caps how many records each live source is asked for.
	LivePerSource int `yaml:"live_per_source"`
	// LocalLimit caps how many local records join the merge set.
	LocalLimit int `yaml:"local_limit"`
}

func (c Config) withDefaults() Config {
	if c.DefaultDeadline <= 0 {
		c.DefaultDeadline = 30 * time.Second
	}
	if c.LiveThreshold <= 0 {
		c.LiveThreshold = 10
	}
	if c.LocalFraction <= 0 || c.LocalFraction >= 1 {
		c.LocalFraction = 0.2
	}
	if c.LivePerSource <= 0 {
		c.LivePerSource = 50
	}
	if c.LocalLimit <= 0 {
		c.LocalLimit = 500
	}
	return c
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	cfg      Config
	registry *sources.Registry
	engine   *dispatch.Engine
	cache    *cache.Tiered
	idx      *index.Index
	now      func() time.Time
}

func New(cfg Config, registry *sources.Registry, engine *dispatch.Engine, tiered *cache.Tiered, idx *index.Index) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		registry: registry,
		engine:   engine,
		cache:    tiered,
		idx:      idx,
		now:      time.Now,
	}
}

// Search runs one federated search end to end.
func (o *Orchestrator) Search(ctx context.Context, req models.SearchRequest) (models.SearchResponse, error) {
	start := o.now()
	now := start.UTC()

	page, perPage, clamped := score.ClampPage(req.Page, req.PerPage)
	if err := req.Filters.Validate(now); err != nil {
		metrics.SearchesTotal.WithLabelValues("invalid").Inc()
		return models.SearchResponse{}, fmt.Errorf("invalid filters: %w", err)
	}

	deadline := o.cfg.DefaultDeadline
	if req.Deadline != nil {
		deadline = *req.Deadline
	}
	// A spent budget cannot reach any source; answer immediately with an
	// all-failed partial rather than queueing doomed work. An explicit zero
	// counts as spent.
	if deadline <= 0 || ctx.Err() != nil {
		metrics.SearchesTotal.WithLabelValues("deadline").Inc()
		return o.exhausted(req, page, perPage, start), nil
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	derived := query.Preprocess(req.Query, now)
	filters := req.Filters.Merge(derived.Filters)
	applied := appliedFilters(filters, clamped, perPage)

	key := cache.Key(cache.NormalizeQuery(req.Query), filters, o.registry.EnabledTags())
	payload, tier, cached, err := o.cache.GetOrFill(ctx, key, func(ctx context.Context) ([]byte, int, error) {
		resp, err := o.search(ctx, req.Query, derived.Residual, filters, now)
		if err != nil {
			return nil, 0, err
		}
		b, err := json.Marshal(resp)
		if err != nil {
			return nil, 0, err
		}
		return b, resp.Total, nil
	})
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return models.SearchResponse{}, err
	}
	if cached {
		metrics.CacheHits.WithLabelValues(string(tier)).Inc()
	} else {
		metrics.CacheMisses.Inc()
	}

	var resp models.SearchResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return models.SearchResponse{}, fmt.Errorf("decode cached result: %w", err)
	}

	// Pagination and scoring run over the cached merge set, so page N+1 of
	// the same search is a cache hit.
	full := resp.Listings
	score.Apply(full, req.Query, filters, o.kindOf, now)
	pageListings := score.Paginate(full, page, perPage)

	resp.Listings = pageListings
	resp.Page = page
	resp.PerPage = perPage
	resp.Cached = cached
	resp.AppliedFilters = applied
	resp.SearchTime = o.now().Sub(start)

	if ids := listingIDs(pageListings); len(ids) > 0 {
		if err := o.idx.IncrementAccess(ctx, ids); err != nil {
			log.Debug().Err(err).Msg("access count update failed")
		}
	}

	outcome := "ok"
	if resp.Partial {
		outcome = "partial"
	}
	metrics.SearchesTotal.WithLabelValues(outcome).Inc()
	metrics.SearchDuration.Observe(resp.SearchTime.Seconds())
	return resp, nil
}

// Prewarm runs the fill path for a bare query and returns the cache key and
// serialized merge set, for the cache prewarmer.
func (o *Orchestrator) Prewarm(ctx context.Context, rawQuery string) (string, []byte, int, error) {
	now := o.now().UTC()
	derived := query.Preprocess(rawQuery, now)
	filters := models.FilterSet{}.Merge(derived.Filters)
	key := cache.Key(cache.NormalizeQuery(rawQuery), filters, o.registry.EnabledTags())

	resp, err := o.search(ctx, rawQuery, derived.Residual, filters, now)
	if err != nil {
		return "", nil, 0, err
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return "", nil, 0, err
	}
	return key, b, resp.Total, nil
}

// search builds the unpaginated merge set: local first, live when local is
// thin or stale.
func (o *Orchestrator) search(ctx context.Context, rawQuery, residual string, filters models.FilterSet, now time.Time) (models.SearchResponse, error) {
	resp := models.SearchResponse{
		SourcesSearched: []string{},
		SourcesFailed:   []string{},
	}

	localListings, localOK := o.searchLocal(ctx, residual, filters)
	resp.LocalCount = len(localListings)
	if localOK {
		resp.SourcesSearched = append(resp.SourcesSearched, local.Tag)
	} else {
		resp.SourcesFailed = append(resp.SourcesFailed, local.Tag)
	}

	merged := localListings
	if o.needLive(localListings, now) {
		live := o.searchLive(ctx, residual, filters, &resp)
		resp.LiveCount = len(live)
		merged = append(merged, live...)
	}

	if len(resp.SourcesFailed) > 0 {
		resp.Partial = true
	}
	if len(merged) == 0 && len(resp.SourcesSearched) == 0 {
		// Nothing answered at all.
		resp.Partial = true
	}

	merged = dedup.Dedupe(merged, o.registry.Priorities())
	resp.Listings = merged
	resp.Total = len(merged)
	return resp, nil
}

func (o *Orchestrator) searchLocal(ctx context.Context, residual string, filters models.FilterSet) ([]models.Listing, bool) {
	adapter, ok := o.registry.Get(local.Tag)
	if !ok {
		return nil, false
	}
	if d, found := o.registry.Descriptor(local.Tag); found && !d.Enabled {
		return nil, false
	}

	budget := o.localBudget(ctx)
	localCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	listings, _, err := adapter.Search(localCtx, residual, filters, 1, o.cfg.LocalLimit)
	if err != nil {
		log.Warn().Err(err).Msg("local index search failed")
		return nil, false
	}
	return listings, true
}

// localBudget grants the local read a fraction of whatever deadline remains.
func (o *Orchestrator) localBudget(ctx context.Context) time.Duration {
	dl, ok := ctx.Deadline()
	if !ok {
		return 5 * time.Second
	}
	budget := time.Duration(float64(time.Until(dl)) * o.cfg.LocalFraction)
	if budget < 100*time.Millisecond {
		budget = 100 * time.Millisecond
	}
	return budget
}

// needLive decides whether live sources are consulted: yes when local results
// are thin, or when the freshest local record is stale or worse.
func (o *Orchestrator) needLive(localListings []models.Listing, now time.Time) bool {
	if len(localListings) < o.cfg.LiveThreshold {
		return true
	}
	newest := time.Time{}
	for _, l := range localListings {
		if l.LastSeenAt.After(newest) {
			newest = l.LastSeenAt
		}
	}
	return freshness.StaleOrWorse(freshness.Classify(newest, now))
}

func (o *Orchestrator) searchLive(ctx context.Context, residual string, filters models.FilterSet, resp *models.SearchResponse) []models.Listing {
	var liveAdapters []sources.Adapter
	for _, a := range o.registry.Enabled() {
		if a.Kind() == models.KindLocal {
			continue
		}
		liveAdapters = append(liveAdapters, a)
	}
	if len(liveAdapters) == 0 {
		return nil
	}

	results := o.engine.Search(ctx, liveAdapters, residual, filters, 1, o.cfg.LivePerSource)

	var live []models.Listing
	for _, r := range results {
		switch r.Status {
		case dispatch.StatusOK:
			resp.SourcesSearched = append(resp.SourcesSearched, r.Source)
		case dispatch.StatusPartial:
			resp.SourcesSearched = append(resp.SourcesSearched, r.Source)
			resp.Partial = true
		default:
			resp.SourcesFailed = append(resp.SourcesFailed, r.Source)
		}
		live = append(live, r.Listings...)
	}
	sort.Strings(resp.SourcesSearched)
	sort.Strings(resp.SourcesFailed)

	o.ingest(ctx, live)
	return live
}

// ingest persists live results into the index, best effort. Failed upserts
// cost durability, not the response.
func (o *Orchestrator) ingest(ctx context.Context, listings []models.Listing) {
	for _, l := range listings {
		if err := o.idx.Upsert(ctx, l); err != nil {
			log.Debug().Str("source", l.Source).Str("source_listing_id", l.SourceListingID).
				Err(err).Msg("ingest upsert failed")
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// exhausted is the immediate answer for a search whose budget is already
// spent: every source reported failed, nothing attempted.
func (o *Orchestrator) exhausted(req models.SearchRequest, page, perPage int, start time.Time) models.SearchResponse {
	return models.SearchResponse{
		Listings:        []models.Listing{},
		Page:            page,
		PerPage:         perPage,
		SourcesSearched: []string{},
		SourcesFailed:   o.registry.EnabledTags(),
		SearchTime:      o.now().Sub(start),
		Partial:         true,
	}
}

func (o *Orchestrator) kindOf(tag string) models.SourceKind {
	if d, ok := o.registry.Descriptor(tag); ok {
		return d.Kind
	}
	return models.KindScrape
}

func listingIDs(listings []models.Listing) []string {
	ids := make([]string, 0, len(listings))
	for _, l := range listings {
		ids = append(ids, l.ID)
	}
	return ids
}

func appliedFilters(f models.FilterSet, clamped bool, perPage int) map[string]interface{} {
	out := map[string]interface{}{}
	if f.Make != "" {
		out["make"] = f.Make
	}
	if len(f.Models) > 0 {
		out["models"] = f.Models
	}
	if f.YearMin != nil {
		out["year_min"] = *f.YearMin
	}
	if f.YearMax != nil {
		out["year_max"] = *f.YearMax
	}
	if f.PriceMin != nil {
		out["price_min"] = *f.PriceMin
	}
	if f.PriceMax != nil {
		out["price_max"] = *f.PriceMax
	}
	if f.MileageMax != nil {
		out["mileage_max"] = *f.MileageMax
	}
	if clamped {
		out["per_page_clamped"] = perPage
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
