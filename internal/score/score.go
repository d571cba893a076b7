// Package score ranks listings for a query. Scoring is a pure function of
// (listing, query, filters); the sort and pagination are stable so repeated
// identical searches produce byte-identical pages.
package score

import (
	"sort"
	"strings"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
)

// Reference weights. Tuning them changes ranking only, never determinism.
const (
	weightTitleToken    = 10
	weightMakeMatch     = 5
	weightModelMatch    = 5
	weightHasPrice      = 2
	weightHasMileage    = 2
	weightHasImage      = 1
	weightHasLocation   = 1
	weightKindAPI       = 3
	weightKindFeed      = 2
	weightAgeDay        = 5
	weightAgeWeek       = 3
	weightAgeMonth      = 1
)

// Score computes the non-negative relevance score for one listing.
func Score(l models.Listing, query string, filters models.FilterSet, kind models.SourceKind, now time.Time) int {
	s := 0

	title := strings.ToLower(l.Title)
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		if strings.Contains(title, tok) {
			s += weightTitleToken
		}
	}

	if filters.Make != "" && strings.EqualFold(filters.Make, l.Make) {
		s += weightMakeMatch
	}
	lowerModel := strings.ToLower(l.Model)
	for _, m := range filters.Models {
		if m != "" && strings.Contains(lowerModel, strings.ToLower(m)) {
			s += weightModelMatch
			break
		}
	}

	if l.Price != nil {
		s += weightHasPrice
	}
	if l.Mileage != nil {
		s += weightHasMileage
	}
	if len(l.ImageURLs) > 0 {
		s += weightHasImage
	}
	if l.Location != "" {
		s += weightHasLocation
	}

	switch kind {
	case models.KindAPI:
		s += weightKindAPI
	case models.KindFeed:
		s += weightKindFeed
	}

	age := l.Age(now)
	switch {
	case age <= 24*time.Hour:
		s += weightAgeDay
	case age <= 7*24*time.Hour:
		s += weightAgeWeek
	case age <= 30*24*time.Hour:
		s += weightAgeMonth
	}

	return s
}

// KindLookup resolves a source tag to its kind for scoring.
type KindLookup func(tag string) models.SourceKind

// Apply scores every listing in place and sorts by
// (score desc, last_seen_at desc, id asc).
func Apply(listings []models.Listing, query string, filters models.FilterSet, kindOf KindLookup, now time.Time) {
	for i := range listings {
		listings[i].RelevanceScore = Score(listings[i], query, filters, kindOf(listings[i].Source), now)
	}
	sort.SliceStable(listings, func(i, j int) bool {
		a, b := listings[i], listings[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		if !a.LastSeenAt.Equal(b.LastSeenAt) {
			return a.LastSeenAt.After(b.LastSeenAt)
		}
		return a.ID < b.ID
	})
}

// Pagination bounds.
const (
	MinPerPage = 1
	MaxPerPage = 100
)

// ClampPage corrects out-of-range pagination instead of rejecting it. The
// bool reports whether per_page was clamped, for applied_filters.
func ClampPage(page, perPage int) (int, int, bool) {
	clamped := false
	if page < 1 {
		page = 1
	}
	if perPage < MinPerPage {
		perPage = MinPerPage
		clamped = true
	} else if perPage > MaxPerPage {
		perPage = MaxPerPage
		clamped = true
	}
	return page, perPage, clamped
}

// Paginate slices the sorted sequence with bounds checking.
func Paginate(listings []models.Listing, page, perPage int) []models.Listing {
	offset := (page - 1) * perPage
	if offset >= len(listings) {
		return nil
	}
	end := offset + perPage
	if end > len(listings) {
		end = len(listings)
	}
	return listings[offset:end]
}
