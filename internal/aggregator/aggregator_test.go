package aggregator

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/thetangstr/findmycar/internal/breaker"
	"github.com/thetangstr/findmycar/internal/cache"
	"github.com/thetangstr/findmycar/internal/dispatch"
	"github.com/thetangstr/findmycar/internal/index"
	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/ratelimit"
	"github.com/thetangstr/findmycar/internal/retry"
	"github.com/thetangstr/findmycar/internal/sources"
	"github.com/thetangstr/findmycar/internal/sources/local"
)

type stubSource struct {
	tag      string
	kind     models.SourceKind
	listings []models.Listing
	calls    int
}

func (s *stubSource) Tag() string             { return s.tag }
func (s *stubSource) Kind() models.SourceKind { return s.kind }

func (s *stubSource) Search(ctx context.Context, query string, filters models.FilterSet, page, perPage int) ([]models.Listing, sources.SearchMeta, error) {
	s.calls++
	return s.listings, sources.SearchMeta{TotalClaimed: len(s.listings)}, nil
}

func (s *stubSource) GetDetails(ctx context.Context, id string) (models.Listing, error) {
	return models.Listing{}, nil
}

func (s *stubSource) Health(ctx context.Context) sources.HealthStatus {
	return sources.HealthStatus{State: sources.Healthy}
}

func mkListings(source string, n int, seen time.Time) []models.Listing {
	out := make([]models.Listing, 0, n)
	for i := 0; i < n; i++ {
		// Distinct price buckets keep the stubs from collapsing in dedup.
		price := 10000.0 + float64(i)*1500
		l := models.Listing{
			Source:          source,
			SourceListingID: fmt.Sprintf("%s-%d", source, i),
			Title:           fmt.Sprintf("2018 Honda Civic %d", i),
			Make:            "Honda",
			Model:           "Civic",
			Year:            2018,
			Price:           &price,
			LastSeenAt:      seen,
		}
		l.Normalize(seen)
		out = append(out, l)
	}
	return out
}

type fixture struct {
	orch  *Orchestrator
	local *stubSource
	live  *stubSource
}

func newFixture(t *testing.T, localListings, liveListings []models.Listing) *fixture {
	t.Helper()

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	idx := index.New(sqlx.NewDb(db, "sqlmock"))

	registry := sources.NewRegistry()
	localStub := &stubSource{tag: local.Tag, kind: models.KindLocal, listings: localListings}
	liveStub := &stubSource{tag: "ebay", kind: models.KindAPI, listings: liveListings}
	registry.Register(localStub, true, 1)
	registry.Register(liveStub, true, 10)

	policy := retry.Policy{Base: time.Millisecond, Factor: 2, Cap: time.Millisecond,
		Jitter: func(time.Duration) time.Duration { return 0 }}
	engine := dispatch.NewEngine(ratelimit.NewRegistry(), breaker.NewRegistry(), policy, dispatch.DefaultTimeouts, 8)

	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	tiered := cache.NewTiered(store, nil)

	orch := New(Config{}, registry, engine, tiered, idx)
	return &fixture{orch: orch, local: localStub, live: liveStub}
}

func TestSearchRejectsInvalidFilters(t *testing.T) {
	f := newFixture(t, nil, nil)
	lo, hi := 2020, 2015
	_, err := f.orch.Search(context.Background(), models.SearchRequest{
		Query:   "civic",
		Filters: models.FilterSet{YearMin: &lo, YearMax: &hi},
	})
	if err == nil {
		t.Fatal("inverted year range must be rejected")
	}
}

func TestSearchSpentBudgetAnswersImmediately(t *testing.T) {
	// Both an explicit zero and a negative budget are already spent.
	for _, budget := range []time.Duration{0, -1} {
		f := newFixture(t, nil, nil)
		resp, err := f.orch.Search(context.Background(), models.SearchRequest{
			Query: "civic", Deadline: &budget,
		})
		if err != nil {
			t.Fatal(err)
		}
		if !resp.Partial || len(resp.Listings) != 0 {
			t.Errorf("budget %d: resp = %+v, want empty all-failed partial", budget, resp)
		}
		if len(resp.SourcesFailed) == 0 {
			t.Errorf("budget %d: every enabled source should be reported failed", budget)
		}
		if f.local.calls != 0 || f.live.calls != 0 {
			t.Errorf("budget %d: no source should be consulted", budget)
		}
	}
}

func TestSufficientFreshLocalSkipsLive(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, mkListings("local_db", 15, now), mkListings("ebay", 3, now))

	resp, err := f.orch.Search(context.Background(), models.SearchRequest{Query: "civic", PerPage: 20})
	if err != nil {
		t.Fatal(err)
	}
	if f.live.calls != 0 {
		t.Error("fresh, plentiful local data must not trigger live dispatch")
	}
	if resp.LocalCount != 15 || resp.LiveCount != 0 {
		t.Errorf("counts = local %d live %d", resp.LocalCount, resp.LiveCount)
	}
}

func TestThinLocalTriggersLiveFanOut(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, mkListings("local_db", 2, now), mkListings("ebay", 5, now))

	resp, err := f.orch.Search(context.Background(), models.SearchRequest{Query: "civic", PerPage: 20})
	if err != nil {
		t.Fatal(err)
	}
	if f.live.calls == 0 {
		t.Fatal("thin local data must consult live sources")
	}
	if resp.LiveCount != 5 {
		t.Errorf("live count = %d, want 5", resp.LiveCount)
	}
	if resp.Total != 7 {
		t.Errorf("total = %d, want 7 distinct listings", resp.Total)
	}
}

func TestStaleLocalTriggersLive(t *testing.T) {
	stale := time.Now().UTC().Add(-48 * time.Hour)
	f := newFixture(t, mkListings("local_db", 15, stale), mkListings("ebay", 1, time.Now().UTC()))

	_, err := f.orch.Search(context.Background(), models.SearchRequest{Query: "civic", PerPage: 20})
	if err != nil {
		t.Fatal(err)
	}
	if f.live.calls == 0 {
		t.Error("stale local data must consult live sources even when plentiful")
	}
}

func TestSecondPageHitsCache(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, mkListings("local_db", 2, now), mkListings("ebay", 30, now))

	ctx := context.Background()
	first, err := f.orch.Search(ctx, models.SearchRequest{Query: "civic", Page: 1, PerPage: 10})
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached {
		t.Fatal("first request cannot be a cache hit")
	}
	liveCalls := f.live.calls

	second, err := f.orch.Search(ctx, models.SearchRequest{Query: "civic", Page: 2, PerPage: 10})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached {
		t.Error("page 2 of the same search must be served from cache")
	}
	if f.live.calls != liveCalls {
		t.Error("cache hit must not fan out again")
	}
	if second.Page != 2 || len(second.Listings) != 10 {
		t.Errorf("page 2 = %d listings on page %d", len(second.Listings), second.Page)
	}

	// Pages must not overlap.
	seen := map[string]bool{}
	for _, l := range first.Listings {
		seen[l.ID] = true
	}
	for _, l := range second.Listings {
		if seen[l.ID] {
			t.Fatalf("listing %s appeared on both pages", l.ID)
		}
	}
}

func TestPerPageClampSurfacesInAppliedFilters(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, mkListings("local_db", 15, now), nil)

	resp, err := f.orch.Search(context.Background(), models.SearchRequest{Query: "civic", PerPage: 500})
	if err != nil {
		t.Fatal(err)
	}
	if resp.PerPage != 100 {
		t.Errorf("per_page = %d, want clamp to 100", resp.PerPage)
	}
	if resp.AppliedFilters["per_page_clamped"] == nil {
		t.Error("clamp must be surfaced in applied_filters")
	}
}
