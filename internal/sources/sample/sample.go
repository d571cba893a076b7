// Package sample is a deterministic in-memory source for demos and load
// shakeouts. It is only registered when FINDMYCAR_ENABLE_SAMPLE=true and never
// ships enabled.
package sample

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/sources"
)

const Tag = "sample"

var (
	makes  = []string{"Honda", "Toyota", "Mazda", "Nissan", "BMW", "Subaru"}
	modelsByMake = map[string][]string{
		"Honda":  {"Civic", "Accord", "CR-V"},
		"Toyota": {"Corolla", "Camry", "Supra"},
		"Mazda":  {"MX-5 Miata", "3", "CX-5"},
		"Nissan": {"370Z", "Altima", "GT-R"},
		"BMW":    {"M3", "330i", "X3"},
		"Subaru": {"WRX", "Outback", "BRZ"},
	}
	colors = []string{"White", "Black", "Silver", "Blue", "Red"}
)

// Adapter serves a fixed corpus generated from a seed; the same seed always
// yields the same listings.
type Adapter struct {
	listings []models.Listing
	latency  time.Duration
}

func New(seed int64, count int) *Adapter {
	if count <= 0 {
		count = 200
	}
	rng := rand.New(rand.NewSource(seed))
	now := time.Now().UTC()

	out := make([]models.Listing, 0, count)
	for i := 0; i < count; i++ {
		mk := makes[rng.Intn(len(makes))]
		md := modelsByMake[mk][rng.Intn(len(modelsByMake[mk]))]
		year := 1995 + rng.Intn(30)
		price := float64(5000 + rng.Intn(60000))
		miles := rng.Intn(180000)
		l := models.Listing{
			Source:          Tag,
			SourceListingID: fmt.Sprintf("sample-%06d", i),
			Title:           fmt.Sprintf("%d %s %s", year, mk, md),
			Make:            mk,
			Model:           md,
			Year:            year,
			Price:           &price,
			Mileage:         &miles,
			ExteriorColor:   colors[rng.Intn(len(colors))],
			Location:        "Sampleville, CA",
			URL:             fmt.Sprintf("https://example.invalid/listing/%d", i),
			Attributes:      map[string]interface{}{},
		}
		l.LastSeenAt = now.Add(-time.Duration(rng.Intn(72)) * time.Hour)
		l.Normalize(now)
		out = append(out, l)
	}
	return &Adapter{listings: out}
}

// SetLatency adds artificial delay per call, for deadline exercises.
func (a *Adapter) SetLatency(d time.Duration) { a.latency = d }

func (a *Adapter) Tag() string             { return Tag }
func (a *Adapter) Kind() models.SourceKind { return models.KindSample }

func (a *Adapter) Search(ctx context.Context, query string, filters models.FilterSet, page, perPage int) ([]models.Listing, sources.SearchMeta, error) {
	var meta sources.SearchMeta
	if err := a.sleep(ctx); err != nil {
		return nil, meta, sources.NewError(Tag, "search", sources.KindDeadlineExceeded, err)
	}

	q := strings.ToLower(strings.TrimSpace(query))
	matched := make([]models.Listing, 0, len(a.listings))
	for _, l := range a.listings {
		if q != "" && !strings.Contains(strings.ToLower(l.Title), q) {
			continue
		}
		if filters.Make != "" && !strings.EqualFold(l.Make, filters.Make) {
			continue
		}
		if filters.YearMin != nil && l.Year < *filters.YearMin {
			continue
		}
		if filters.YearMax != nil && l.Year > *filters.YearMax {
			continue
		}
		if filters.PriceMax != nil && (l.Price == nil || *l.Price > *filters.PriceMax) {
			continue
		}
		matched = append(matched, l)
	}

	meta.TotalClaimed = len(matched)
	lo := (page - 1) * perPage
	if lo >= len(matched) {
		return nil, meta, nil
	}
	hi := lo + perPage
	if hi > len(matched) {
		hi = len(matched)
	}
	meta.Truncated = hi < len(matched)
	return matched[lo:hi], meta, nil
}

func (a *Adapter) GetDetails(ctx context.Context, sourceListingID string) (models.Listing, error) {
	if err := a.sleep(ctx); err != nil {
		return models.Listing{}, sources.NewError(Tag, "details", sources.KindDeadlineExceeded, err)
	}
	for _, l := range a.listings {
		if l.SourceListingID == sourceListingID {
			return l, nil
		}
	}
	return models.Listing{}, sources.NewError(Tag, "details", sources.KindNotFound,
		fmt.Errorf("no sample listing %s", sourceListingID))
}

func (a *Adapter) Health(ctx context.Context) sources.HealthStatus {
	return sources.HealthStatus{State: sources.Healthy, CheckedAt: time.Now().UTC()}
}

func (a *Adapter) sleep(ctx context.Context) error {
	if a.latency <= 0 {
		return nil
	}
	t := time.NewTimer(a.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
