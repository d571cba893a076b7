package models

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestListingIDIsStable(t *testing.T) {
	a := ListingID("ebay", "v1|123|0")
	b := ListingID("ebay", "v1|123|0")
	if a != b {
		t.Error("id derivation must be pure")
	}
	if a == ListingID("autotrader", "v1|123|0") {
		t.Error("different sources must derive different ids")
	}
}

func TestValidateRejectsBadRecords(t *testing.T) {
	neg := -1.0
	negMiles := -5
	cases := []struct {
		name string
		l    Listing
	}{
		{"missing source", Listing{SourceListingID: "x"}},
		{"missing source listing id", Listing{Source: "ebay"}},
		{"ancient year", Listing{Source: "ebay", SourceListingID: "x", Year: 1850}},
		{"future year", Listing{Source: "ebay", SourceListingID: "x", Year: testNow.Year() + 3}},
		{"negative price", Listing{Source: "ebay", SourceListingID: "x", Price: &neg}},
		{"negative mileage", Listing{Source: "ebay", SourceListingID: "x", Mileage: &negMiles}},
		{"last_seen before created", Listing{Source: "ebay", SourceListingID: "x",
			CreatedAt: testNow, LastSeenAt: testNow.Add(-time.Hour)}},
	}
	for _, tc := range cases {
		if err := tc.l.Validate(testNow); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	ok := Listing{Source: "ebay", SourceListingID: "x", Year: 2018}
	if err := ok.Validate(testNow); err != nil {
		t.Errorf("valid listing rejected: %v", err)
	}
}

func TestNormalizeDerivesAndCanonicalizes(t *testing.T) {
	l := Listing{Source: "ebay", SourceListingID: "x", Make: " Honda ", VIN: "2hgfc2f56jh000001 "}
	l.Normalize(testNow)

	if l.ID != ListingID("ebay", "x") {
		t.Error("id should be derived from the source pair")
	}
	if l.Make != "Honda" || l.VIN != "2HGFC2F56JH000001" {
		t.Errorf("make=%q vin=%q", l.Make, l.VIN)
	}
	if !l.LastSeenAt.Equal(testNow) || !l.CreatedAt.Equal(testNow) {
		t.Error("zero timestamps should be filled with now")
	}
	if !l.Active || l.Attributes == nil {
		t.Error("normalize must mark the record active with a non-nil attribute bag")
	}

	// A pre-assigned id survives.
	l2 := Listing{ID: "custom", Source: "ebay", SourceListingID: "x"}
	l2.Normalize(testNow)
	if l2.ID != "custom" {
		t.Error("existing id must not be overwritten")
	}
}

func TestFilterSetValidate(t *testing.T) {
	lo, hi := 2020, 2015
	bad := FilterSet{YearMin: &lo, YearMax: &hi}
	if err := bad.Validate(testNow); err == nil {
		t.Error("inverted year range must fail")
	}

	pLo, pHi := 30000.0, 20000.0
	bad = FilterSet{PriceMin: &pLo, PriceMax: &pHi}
	if err := bad.Validate(testNow); err == nil {
		t.Error("inverted price range must fail")
	}

	ok := FilterSet{Make: "Honda", YearMin: &hi, YearMax: &lo}
	if err := ok.Validate(testNow); err != nil {
		t.Errorf("valid filters rejected: %v", err)
	}
}

func TestFilterSetMergeExplicitWins(t *testing.T) {
	y := 2018
	derived := FilterSet{Make: "Honda", Models: []string{"Civic"}, YearMin: &y, YearMax: &y}
	explicit := FilterSet{Make: "Toyota"}

	got := explicit.Merge(derived)
	if got.Make != "Toyota" {
		t.Errorf("make = %q, explicit must win", got.Make)
	}
	if len(got.Models) != 1 || got.Models[0] != "Civic" {
		t.Errorf("models = %v, derived should fill the gap", got.Models)
	}
	if got.YearMin == nil || *got.YearMin != 2018 {
		t.Error("derived year should fill the gap")
	}
}

func TestCanonicalJSONOrderIndependent(t *testing.T) {
	a := FilterSet{Make: "Honda", Models: []string{"Civic", "Accord"}, ExcludeColors: []string{"red", "blue"}}
	b := FilterSet{Make: "Honda", Models: []string{"accord", "civic"}, ExcludeColors: []string{"Blue", "Red"}}
	if a.CanonicalJSON() != b.CanonicalJSON() {
		t.Errorf("canonical forms differ:\n%s\n%s", a.CanonicalJSON(), b.CanonicalJSON())
	}
}

func TestCoreFieldCount(t *testing.T) {
	price := 1.0
	miles := 1
	l := Listing{Title: "t", Make: "m", Model: "x", Year: 2018, Price: &price,
		Mileage: &miles, ImageURLs: []string{"u"}}
	if got := l.CoreFieldCount(); got != 7 {
		t.Errorf("count = %d, want 7", got)
	}
}
