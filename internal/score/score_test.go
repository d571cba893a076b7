package score

import (
	"testing"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func apiKind(string) models.SourceKind { return models.KindAPI }

func listing(id string) models.Listing {
	price := 18500.0
	miles := 42000
	return models.Listing{
		ID:         id,
		Source:     "ebay",
		Title:      "2018 Honda Civic EX",
		Make:       "Honda",
		Model:      "Civic",
		Price:      &price,
		Mileage:    &miles,
		ImageURLs:  []string{"https://img.example/1.jpg"},
		Location:   "Austin, TX",
		LastSeenAt: testNow.Add(-time.Hour),
	}
}

func TestScoreComponents(t *testing.T) {
	l := listing("a")
	filters := models.FilterSet{Make: "Honda", Models: []string{"Civic"}}

	// Two query tokens in title (20) + make (5) + model (5) + price (2) +
	// mileage (2) + image (1) + location (1) + api kind (3) + age<=1d (5).
	got := Score(l, "honda civic", filters, models.KindAPI, testNow)
	if got != 44 {
		t.Errorf("score = %d, want 44", got)
	}
}

func TestScoreMissingFieldsScoreLower(t *testing.T) {
	full := listing("a")
	bare := full
	bare.Price = nil
	bare.Mileage = nil
	bare.ImageURLs = nil

	if Score(bare, "civic", models.FilterSet{}, models.KindAPI, testNow) >=
		Score(full, "civic", models.FilterSet{}, models.KindAPI, testNow) {
		t.Error("listing with price, mileage and image must outrank one without")
	}
}

func TestApplyIsDeterministic(t *testing.T) {
	mk := func() []models.Listing {
		a := listing("a")
		b := listing("b")
		c := listing("c")
		c.LastSeenAt = testNow.Add(-2 * time.Hour)
		return []models.Listing{c, a, b}
	}

	first := mk()
	second := mk()
	Apply(first, "civic", models.FilterSet{}, apiKind, testNow)
	Apply(second, "civic", models.FilterSet{}, apiKind, testNow)

	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("order differs at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
	// Equal scores and timestamps break by id ascending.
	if first[0].ID != "a" || first[1].ID != "b" {
		t.Errorf("tie-break order = %s,%s, want a,b", first[0].ID, first[1].ID)
	}
}

func TestClampPage(t *testing.T) {
	page, perPage, clamped := ClampPage(0, 0)
	if page != 1 || perPage != MinPerPage || !clamped {
		t.Errorf("ClampPage(0,0) = %d,%d,%v", page, perPage, clamped)
	}

	page, perPage, clamped = ClampPage(3, 500)
	if page != 3 || perPage != MaxPerPage || !clamped {
		t.Errorf("ClampPage(3,500) = %d,%d,%v", page, perPage, clamped)
	}

	_, perPage, clamped = ClampPage(1, 20)
	if perPage != 20 || clamped {
		t.Error("in-range per_page must not be flagged as clamped")
	}
}

func TestPaginateCoversWholeSequence(t *testing.T) {
	var all []models.Listing
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		all = append(all, listing(id))
	}

	var seen []string
	for page := 1; ; page++ {
		chunk := Paginate(all, page, 2)
		if len(chunk) == 0 {
			break
		}
		for _, l := range chunk {
			seen = append(seen, l.ID)
		}
	}
	if len(seen) != 5 {
		t.Fatalf("pagination covered %d of 5 listings", len(seen))
	}

	if got := Paginate(all, 99, 2); got != nil {
		t.Error("past-the-end page must be empty")
	}
}
