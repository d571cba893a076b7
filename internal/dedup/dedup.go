// Package dedup resolves cross-source listing identity and merges duplicate
// records. The procedure is deterministic: the same input set always yields
// the same winners and merged output.
package dedup

import (
	"fmt"
	"strings"

	"github.com/thetangstr/findmycar/internal/models"
)

// Bucket widths for the non-VIN fingerprint. Coarse on purpose: the key only
// has to survive small price/mileage drift between refreshes of one source.
const (
	priceBucket   = 1000.0
	mileageBucket = 10000
)

// Fingerprint computes the identity key. VIN-based keys collapse across
// sources; non-VIN keys include the source tag and never do.
func Fingerprint(l models.Listing) string {
	if vin := strings.ToUpper(strings.TrimSpace(l.VIN)); vin != "" {
		return "vin:" + vin
	}
	var pb int64 = -1
	if l.Price != nil {
		pb = int64(*l.Price / priceBucket)
	}
	mb := -1
	if l.Mileage != nil {
		mb = *l.Mileage / mileageBucket
	}
	return fmt.Sprintf("fp:%d|%s|%s|%d|%d|%s",
		l.Year,
		strings.ToLower(strings.TrimSpace(l.Make)),
		strings.ToLower(strings.TrimSpace(l.Model)),
		pb, mb, l.Source)
}

// Dedupe groups listings by fingerprint, picks a winner per group and merges
// loser fields into it. Input order is preserved for group emission, so the
// result is stable. priorities maps source tag -> ranking priority.
func Dedupe(listings []models.Listing, priorities map[string]int) []models.Listing {
	groups := make(map[string][]models.Listing)
	order := make([]string, 0, len(listings))

	for _, l := range listings {
		key := Fingerprint(l)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], l)
	}

	out := make([]models.Listing, 0, len(order))
	for _, key := range order {
		group := groups[key]
		winner := pickWinner(group, priorities)
		for _, other := range group {
			if other.ID == winner.ID && other.Source == winner.Source {
				continue
			}
			merge(&winner, other)
		}
		out = append(out, winner)
	}
	return out
}

// pickWinner orders by: VIN present, more complete, most recently seen,
// higher source priority, then stable id for determinism.
func pickWinner(group []models.Listing, priorities map[string]int) models.Listing {
	winner := group[0]
	for _, cand := range group[1:] {
		if better(cand, winner, priorities) {
			winner = cand
		}
	}
	return winner
}

func better(a, b models.Listing, priorities map[string]int) bool {
	av, bv := a.VIN != "", b.VIN != ""
	if av != bv {
		return av
	}
	ac, bc := a.CoreFieldCount(), b.CoreFieldCount()
	if ac != bc {
		return ac > bc
	}
	if !a.LastSeenAt.Equal(b.LastSeenAt) {
		return a.LastSeenAt.After(b.LastSeenAt)
	}
	ap, bp := priorities[a.Source], priorities[b.Source]
	if ap != bp {
		return ap > bp
	}
	return a.ID < b.ID
}

// merge fills the winner's null core fields from other and copies attribute
// keys the winner lacks. A present field is never overwritten.
func merge(winner *models.Listing, other models.Listing) {
	if winner.Price == nil && other.Price != nil {
		v := *other.Price
		winner.Price = &v
	}
	if winner.Mileage == nil && other.Mileage != nil {
		v := *other.Mileage
		winner.Mileage = &v
	}
	if winner.Year == 0 {
		winner.Year = other.Year
	}
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&winner.Title, other.Title)
	fill(&winner.Make, other.Make)
	fill(&winner.Model, other.Model)
	fill(&winner.Trim, other.Trim)
	fill(&winner.BodyStyle, other.BodyStyle)
	fill(&winner.ExteriorColor, other.ExteriorColor)
	fill(&winner.Transmission, other.Transmission)
	fill(&winner.Drivetrain, other.Drivetrain)
	fill(&winner.FuelType, other.FuelType)
	fill(&winner.VIN, other.VIN)
	fill(&winner.Location, other.Location)
	fill(&winner.Zip, other.Zip)
	fill(&winner.DealerName, other.DealerName)
	fill(&winner.URL, other.URL)
	fill(&winner.Description, other.Description)
	if len(winner.ImageURLs) == 0 && len(other.ImageURLs) > 0 {
		winner.ImageURLs = append([]string(nil), other.ImageURLs...)
	}
	if winner.History.Accidents == nil && other.History.Accidents != nil {
		v := *other.History.Accidents
		winner.History.Accidents = &v
	}
	if winner.History.Owners == nil && other.History.Owners != nil {
		v := *other.History.Owners
		winner.History.Owners = &v
	}
	if winner.History.TitleStatus == "" {
		winner.History.TitleStatus = other.History.TitleStatus
	}

	if len(other.Attributes) > 0 {
		if winner.Attributes == nil {
			winner.Attributes = make(map[string]interface{}, len(other.Attributes))
		}
		for k, v := range other.Attributes {
			if _, exists := winner.Attributes[k]; !exists {
				winner.Attributes[k] = v
			}
		}
	}
	for _, f := range other.Features {
		if !containsString(winner.Features, f) {
			winner.Features = append(winner.Features, f)
		}
	}
}

func containsString(in []string, want string) bool {
	for _, s := range in {
		if s == want {
			return true
		}
	}
	return false
}
