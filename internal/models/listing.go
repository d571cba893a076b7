package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// listingNamespace seeds stable id derivation. Changing it invalidates every
// derived id, so it never changes.
var listingNamespace = uuid.MustParse("7f1c6b2e-4a8d-4f3b-9c5e-2d0a1b3c4d5e")

// Listing is the normalized vehicle record every source adapter emits and the
// local index persists. Anything source-specific that has no core column goes
// into Attributes.
type Listing struct {
	ID              string    `json:"id" db:"id"`
	Source          string    `json:"source" db:"source"`
	SourceListingID string    `json:"source_listing_id" db:"source_listing_id"`
	Title           string    `json:"title" db:"title"`
	Make            string    `json:"make" db:"make"`
	Model           string    `json:"model" db:"model"`
	Year            int       `json:"year" db:"year"`
	Trim            string    `json:"trim,omitempty" db:"trim"`
	Price           *float64  `json:"price,omitempty" db:"price"`
	Mileage         *int      `json:"mileage,omitempty" db:"mileage"`
	BodyStyle       string    `json:"body_style,omitempty" db:"body_style"`
	ExteriorColor   string    `json:"exterior_color,omitempty" db:"exterior_color"`
	Transmission    string    `json:"transmission,omitempty" db:"transmission"`
	Drivetrain      string    `json:"drivetrain,omitempty" db:"drivetrain"`
	FuelType        string    `json:"fuel_type,omitempty" db:"fuel_type"`
	VIN             string    `json:"vin,omitempty" db:"vin"`
	Location        string    `json:"location,omitempty" db:"location"`
	Zip             string    `json:"zip,omitempty" db:"zip"`
	DealerName      string    `json:"dealer_name,omitempty" db:"dealer_name"`
	URL             string    `json:"url,omitempty" db:"url"`
	ImageURLs       []string  `json:"image_urls,omitempty" db:"-"`
	Description     string    `json:"description,omitempty" db:"description"`

	// Attributes is the open key->value bag for non-core fields. Keys are
	// standardized lowercase snake_case.
	Attributes map[string]interface{} `json:"attributes,omitempty" db:"-"`

	// Features is a set of standardized tags ("sunroof", "heated_seats").
	Features []string `json:"features,omitempty" db:"-"`

	// History carries provenance facts reported by the source.
	History History `json:"history" db:"-"`

	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
	LastSeenAt time.Time `json:"last_seen_at" db:"last_seen_at"`
	Active     bool      `json:"active" db:"active"`

	// AccessCount tracks how often the listing appeared in served results.
	// Used by the freshness manager; persisted, never part of identity.
	AccessCount int64 `json:"access_count,omitempty" db:"access_count"`

	// RelevanceScore is computed per query and never persisted.
	RelevanceScore int `json:"relevance_score,omitempty" db:"-"`
}

// History holds vehicle-history facts. Nil pointers mean "not reported".
type History struct {
	Accidents   *int   `json:"accidents,omitempty"`
	Owners      *int   `json:"owners,omitempty"`
	TitleStatus string `json:"title_status,omitempty"`
	Certified   bool   `json:"certified,omitempty"`
}

// ListingID derives the stable synthetic id for a (source, source_listing_id)
// pair. The derivation is pure, so the id never changes for a given pair.
func ListingID(source, sourceListingID string) string {
	return uuid.NewSHA1(listingNamespace, []byte(source+"/"+sourceListingID)).String()
}

const (
	MinYear = 1900
)

// MaxYear returns the upper bound for acceptable model years.
func MaxYear(now time.Time) int {
	return now.Year() + 2
}

// Validate checks the record invariants before it is accepted into the
// pipeline or the store.
func (l *Listing) Validate(now time.Time) error {
	if l.Source == "" {
		return fmt.Errorf("listing missing source tag")
	}
	if l.SourceListingID == "" {
		return fmt.Errorf("listing missing source listing id (source=%s)", l.Source)
	}
	if l.Year != 0 && (l.Year < MinYear || l.Year > MaxYear(now)) {
		return fmt.Errorf("listing year %d outside [%d, %d]", l.Year, MinYear, MaxYear(now))
	}
	if l.Price != nil && *l.Price < 0 {
		return fmt.Errorf("listing price %.2f negative", *l.Price)
	}
	if l.Mileage != nil && *l.Mileage < 0 {
		return fmt.Errorf("listing mileage %d negative", *l.Mileage)
	}
	if !l.LastSeenAt.IsZero() && !l.CreatedAt.IsZero() && l.LastSeenAt.Before(l.CreatedAt) {
		return fmt.Errorf("listing last_seen_at before created_at")
	}
	return nil
}

// Normalize fills derived fields and canonicalizes free-form ones. Adapters
// call it once before handing the record to the pipeline.
func (l *Listing) Normalize(now time.Time) {
	if l.ID == "" {
		l.ID = ListingID(l.Source, l.SourceListingID)
	}
	l.Make = strings.TrimSpace(l.Make)
	l.Model = strings.TrimSpace(l.Model)
	l.VIN = strings.ToUpper(strings.TrimSpace(l.VIN))
	if l.LastSeenAt.IsZero() {
		l.LastSeenAt = now
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = l.LastSeenAt
	}
	if l.Attributes == nil {
		l.Attributes = map[string]interface{}{}
	}
	l.Active = true
}

// CoreFieldCount reports how many core fields carry a value. The deduplicator
// prefers the more complete record.
func (l *Listing) CoreFieldCount() int {
	n := 0
	for _, s := range []string{l.Title, l.Make, l.Model, l.Trim, l.BodyStyle,
		l.ExteriorColor, l.Transmission, l.Drivetrain, l.FuelType, l.VIN,
		l.Location, l.DealerName, l.URL, l.Description} {
		if s != "" {
			n++
		}
	}
	if l.Year != 0 {
		n++
	}
	if l.Price != nil {
		n++
	}
	if l.Mileage != nil {
		n++
	}
	if len(l.ImageURLs) > 0 {
		n++
	}
	return n
}

// Age reports time since the listing was last confirmed upstream.
func (l *Listing) Age(now time.Time) time.Duration {
	if l.LastSeenAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(l.LastSeenAt)
}
