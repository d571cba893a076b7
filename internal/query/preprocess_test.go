package query

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestChassisCodeExpands(t *testing.T) {
	d := Preprocess("EG6 hatch", testNow)
	if d.Filters.Make != "Honda" {
		t.Errorf("make = %q, want Honda", d.Filters.Make)
	}
	if len(d.Filters.Models) != 1 || d.Filters.Models[0] != "Civic" {
		t.Errorf("models = %v, want [Civic]", d.Filters.Models)
	}
	if d.Filters.YearMin == nil || *d.Filters.YearMin != 1992 {
		t.Errorf("year_min = %v, want 1992", d.Filters.YearMin)
	}
	if d.Filters.YearMax == nil || *d.Filters.YearMax != 1995 {
		t.Errorf("year_max = %v, want 1995", d.Filters.YearMax)
	}
	if d.Residual != "hatch" {
		t.Errorf("residual = %q, want hatch", d.Residual)
	}
}

func TestChassisCodeIsCaseInsensitive(t *testing.T) {
	d := Preprocess("eg6", testNow)
	if d.Filters.Make != "Honda" {
		t.Errorf("lowercase chassis code not recognized, make = %q", d.Filters.Make)
	}
}

func TestMakeAndModelKeywords(t *testing.T) {
	d := Preprocess("honda civic manual", testNow)
	if d.Filters.Make != "Honda" {
		t.Errorf("make = %q", d.Filters.Make)
	}
	if len(d.Filters.Models) != 1 || d.Filters.Models[0] != "Civic" {
		t.Errorf("models = %v", d.Filters.Models)
	}
	if d.Residual != "manual" {
		t.Errorf("residual = %q, want manual", d.Residual)
	}
}

func TestModelImpliesMake(t *testing.T) {
	d := Preprocess("miata", testNow)
	if d.Filters.Make != "Mazda" {
		t.Errorf("make = %q, want Mazda inferred from model", d.Filters.Make)
	}
	if len(d.Filters.Models) != 1 || d.Filters.Models[0] != "MX-5 Miata" {
		t.Errorf("models = %v", d.Filters.Models)
	}
}

func TestYearExtraction(t *testing.T) {
	d := Preprocess("2018 civic", testNow)
	if d.Filters.YearMin == nil || *d.Filters.YearMin != 2018 || *d.Filters.YearMax != 2018 {
		t.Errorf("year bounds = %v..%v", d.Filters.YearMin, d.Filters.YearMax)
	}

	// Out-of-range "years" stay in the residual.
	d = Preprocess("1985 truck", testNow)
	if d.Filters.YearMin != nil {
		t.Error("1985 is below the 1990 floor and must not become a filter")
	}
	if d.Residual != "1985 truck" {
		t.Errorf("residual = %q", d.Residual)
	}

	// Next model year is accepted.
	d = Preprocess("2027 camry", testNow)
	if d.Filters.YearMin == nil || *d.Filters.YearMin != 2027 {
		t.Error("current year + 1 should be accepted")
	}
}

func TestPricePhrases(t *testing.T) {
	d := Preprocess("civic under $25k", testNow)
	if d.Filters.PriceMax == nil || *d.Filters.PriceMax != 25000 {
		t.Errorf("price_max = %v, want 25000", d.Filters.PriceMax)
	}

	d = Preprocess("corvette over $40,000", testNow)
	if d.Filters.PriceMin == nil || *d.Filters.PriceMin != 40000 {
		t.Errorf("price_min = %v, want 40000", d.Filters.PriceMin)
	}

	d = Preprocess("below 9,500 anything", testNow)
	if d.Filters.PriceMax == nil || *d.Filters.PriceMax != 9500 {
		t.Errorf("price_max = %v, want 9500", d.Filters.PriceMax)
	}
}

func TestLowMileagePhrase(t *testing.T) {
	d := Preprocess("low mileage wrx", testNow)
	if d.Filters.MileageMax == nil || *d.Filters.MileageMax != 50000 {
		t.Errorf("mileage_max = %v, want 50000", d.Filters.MileageMax)
	}
	if d.Filters.Make != "Subaru" {
		t.Errorf("make = %q, want Subaru", d.Filters.Make)
	}
}

func TestUnrecognizedTokensPassThrough(t *testing.T) {
	d := Preprocess("clean title one owner", testNow)
	if !d.Filters.IsZero() {
		t.Errorf("no filters expected, got %+v", d.Filters)
	}
	if d.Residual != "clean title one owner" {
		t.Errorf("residual = %q", d.Residual)
	}
}

func TestEmptyQuery(t *testing.T) {
	d := Preprocess("   ", testNow)
	if !d.Filters.IsZero() || d.Residual != "" {
		t.Errorf("blank query should derive nothing, got %+v / %q", d.Filters, d.Residual)
	}
}

func TestLookupChassisTable(t *testing.T) {
	cases := map[string][2]string{
		"EK9": {"Honda", "Civic"},
		"S13": {"Nissan", "240SX"},
		"R34": {"Nissan", "Skyline"},
		"AE86": {"Toyota", "Corolla"},
		"NA6": {"Mazda", "MX-5 Miata"},
	}
	for code, want := range cases {
		spec, ok := LookupChassis(code)
		if !ok {
			t.Errorf("chassis %s not found", code)
			continue
		}
		if spec.Make != want[0] || spec.Model != want[1] {
			t.Errorf("%s = %s %s, want %s %s", code, spec.Make, spec.Model, want[0], want[1])
		}
	}
}
