package freshness

import (
	"testing"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestClassifyTierEdges(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want Tier
	}{
		{0, RealTime},
		{5 * time.Minute, RealTime},
		{5*time.Minute + time.Second, Fresh},
		{time.Hour, Fresh},
		{time.Hour + time.Second, Recent},
		{24 * time.Hour, Recent},
		{24*time.Hour + time.Second, Stale},
		{7 * 24 * time.Hour, Stale},
		{7*24*time.Hour + time.Second, Expired},
	}
	for _, tc := range cases {
		if got := Classify(testNow.Add(-tc.age), testNow); got != tc.want {
			t.Errorf("age %s: got %s, want %s", tc.age, got, tc.want)
		}
	}
}

func TestClassifyZeroTimeIsExpired(t *testing.T) {
	if got := Classify(time.Time{}, testNow); got != Expired {
		t.Errorf("never-seen listing should be expired, got %s", got)
	}
}

func TestNeedsRefreshPolicy(t *testing.T) {
	cases := []struct {
		tier Tier
		v    Volatility
		want bool
	}{
		{Expired, Low, true},
		{Expired, High, true},
		{Recent, High, true},
		{Fresh, High, false},
		{Stale, Medium, true},
		{Recent, Medium, false},
		{Stale, Low, false},
	}
	for _, tc := range cases {
		if got := NeedsRefresh(tc.tier, tc.v); got != tc.want {
			t.Errorf("NeedsRefresh(%s, %s) = %v, want %v", tc.tier, tc.v, got, tc.want)
		}
	}
}

func TestPriorityCapsAndWeights(t *testing.T) {
	// Age part caps at 100, access part at 50.
	got := Priority(30, models.KindScrape, 100)
	if got != 100*1.0+50 {
		t.Errorf("capped priority = %f, want 150", got)
	}

	// API sources outrank scrape sources at equal age.
	api := Priority(2, models.KindAPI, 0)
	scrape := Priority(2, models.KindScrape, 0)
	if api <= scrape {
		t.Errorf("api %f should outrank scrape %f", api, scrape)
	}
}

func TestBuildBatchDedupesAndOrders(t *testing.T) {
	candidates := []Candidate{
		{ListingID: "b", Source: "ebay", Kind: models.KindAPI, LastSeen: testNow.Add(-48 * time.Hour)},
		{ListingID: "a", Source: "carfeed", Kind: models.KindFeed, LastSeen: testNow.Add(-48 * time.Hour)},
		{ListingID: "b", Source: "ebay", Kind: models.KindAPI, LastSeen: testNow.Add(-90 * 24 * time.Hour)},
		{ListingID: "c", Source: "autotrader", Kind: models.KindScrape, LastSeen: testNow.Add(-time.Minute)},
	}

	batch := BuildBatch(candidates, 10, testNow)
	if len(batch) != 3 {
		t.Fatalf("batch size = %d, want 3 after dedupe", len(batch))
	}
	// b (api, 2 days) outranks a (feed, 2 days) outranks c (scrape, 1 min).
	if batch[0].ListingID != "b" || batch[1].ListingID != "a" || batch[2].ListingID != "c" {
		t.Errorf("order = %s,%s,%s", batch[0].ListingID, batch[1].ListingID, batch[2].ListingID)
	}

	top := BuildBatch(candidates, 1, testNow)
	if len(top) != 1 || top[0].ListingID != "b" {
		t.Error("n=1 should keep only the highest-priority candidate")
	}
}

func TestBuildReportRecommendations(t *testing.T) {
	lastSeen := []time.Time{
		testNow.Add(-time.Minute),
		testNow.Add(-30 * 24 * time.Hour),
		testNow.Add(-40 * 24 * time.Hour),
		testNow.Add(-50 * 24 * time.Hour),
	}
	r := BuildReport(lastSeen, testNow)
	if r.Total != 4 {
		t.Fatalf("total = %d", r.Total)
	}
	if r.Counts[Expired] != 3 || r.Counts[RealTime] != 1 {
		t.Errorf("counts = %v", r.Counts)
	}
	if r.ExpiredPercent != 75 {
		t.Errorf("expired percent = %f, want 75", r.ExpiredPercent)
	}
	if len(r.Recommendations) == 0 {
		t.Error("75%% expired should produce a recommendation")
	}
}

func TestBuildReportEmpty(t *testing.T) {
	r := BuildReport(nil, testNow)
	if r.Total != 0 || r.ExpiredPercent != 0 {
		t.Errorf("empty report: total=%d expired=%f", r.Total, r.ExpiredPercent)
	}
	if len(r.Recommendations) == 0 {
		t.Error("report always carries at least the nominal recommendation")
	}
}
