package dedup

import (
	"testing"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
)

var (
	testNow    = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	priorities = map[string]int{"ebay": 10, "marketcheck": 8, "autotrader": 5, "local_db": 1}
)

func withVIN(source, id, vin string) models.Listing {
	l := models.Listing{
		Source:          source,
		SourceListingID: id,
		Title:           "2018 Honda Civic EX",
		Make:            "Honda",
		Model:           "Civic",
		Year:            2018,
		VIN:             vin,
		LastSeenAt:      testNow,
	}
	l.Normalize(testNow)
	return l
}

func TestVINCollapsesAcrossSources(t *testing.T) {
	a := withVIN("ebay", "e1", "2HGFC2F56JH000001")
	b := withVIN("autotrader", "a1", "2hgfc2f56jh000001") // case differs

	out := Dedupe([]models.Listing{a, b}, priorities)
	if len(out) != 1 {
		t.Fatalf("got %d listings, want 1 after VIN collapse", len(out))
	}
}

func TestNonVINKeyNeverCollapsesAcrossSources(t *testing.T) {
	price := 18500.0
	miles := 42000
	mk := func(source string) models.Listing {
		l := models.Listing{
			Source: source, SourceListingID: "x", Title: "2018 Honda Civic",
			Make: "Honda", Model: "Civic", Year: 2018,
			Price: &price, Mileage: &miles, LastSeenAt: testNow,
		}
		l.Normalize(testNow)
		return l
	}

	out := Dedupe([]models.Listing{mk("ebay"), mk("autotrader")}, priorities)
	if len(out) != 2 {
		t.Fatalf("got %d listings, want 2: fuzzy keys must stay source-scoped", len(out))
	}
}

func TestFingerprintBucketsAbsorbDrift(t *testing.T) {
	p1, p2 := 18100.0, 18900.0
	a := models.Listing{Source: "ebay", Year: 2018, Make: "Honda", Model: "Civic", Price: &p1}
	b := models.Listing{Source: "ebay", Year: 2018, Make: "Honda", Model: "Civic", Price: &p2}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("prices within the same $1000 bucket must fingerprint equal")
	}

	p3 := 19100.0
	c := models.Listing{Source: "ebay", Year: 2018, Make: "Honda", Model: "Civic", Price: &p3}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("prices in different buckets must fingerprint differently")
	}
}

func TestWinnerPrefersCompleteness(t *testing.T) {
	vin := withVIN("autotrader", "a1", "2HGFC2F56JH000001")
	other := vin
	other.Source = "ebay"
	other.SourceListingID = "e9"
	other.ID = ""
	other.DealerName = "Big Dealer"
	other.Trim = "EX"
	other.Normalize(testNow)

	out := Dedupe([]models.Listing{vin, other}, priorities)
	if len(out) != 1 {
		t.Fatal("expected one group")
	}
	// other has more core fields, so it wins despite equal VIN presence.
	if out[0].Source != "ebay" {
		t.Errorf("winner source = %s, want the more complete ebay record", out[0].Source)
	}
}

func TestMergeFillsNullsOnly(t *testing.T) {
	price := 17995.0
	winner := withVIN("ebay", "e1", "2HGFC2F56JH000001")
	winner.DealerName = "Keep Me Motors"
	winner.Trim = "EX"

	loser := withVIN("autotrader", "a1", "2HGFC2F56JH000001")
	loser.Price = &price
	loser.DealerName = "Other Dealer"
	loser.Attributes = map[string]interface{}{"horsepower": 174.0}
	loser.Features = []string{"sunroof"}

	out := Dedupe([]models.Listing{winner, loser}, priorities)
	if len(out) != 1 {
		t.Fatal("expected one merged listing")
	}
	got := out[0]
	if got.Price == nil || *got.Price != price {
		t.Error("winner's nil price should be filled from the loser")
	}
	if got.DealerName != "Keep Me Motors" {
		t.Error("present fields must never be overwritten")
	}
	if got.Attributes["horsepower"] != 174.0 {
		t.Error("attribute keys the winner lacks should be copied")
	}
	if len(got.Features) != 1 || got.Features[0] != "sunroof" {
		t.Error("features should union")
	}
}

func TestDedupeIsIdempotentAndStable(t *testing.T) {
	listings := []models.Listing{
		withVIN("ebay", "e1", "2HGFC2F56JH000001"),
		withVIN("autotrader", "a1", "2HGFC2F56JH000001"),
		withVIN("marketcheck", "m1", "1FTEW1EP5JK000002"),
		withVIN("carfeed", "c1", ""),
	}

	once := Dedupe(listings, priorities)
	twice := Dedupe(once, priorities)
	if len(once) != len(twice) {
		t.Fatalf("idempotence violated: %d then %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].ID != twice[i].ID {
			t.Fatalf("order unstable at %d", i)
		}
	}
}
