// Package freshness classifies listings by age of their last successful
// refresh and decides which records the background scheduler updates first.
package freshness

import (
	"fmt"
	"sort"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
)

// Tier buckets a listing by age.
type Tier string

const (
	RealTime Tier = "real_time" // <= 5 min
	Fresh    Tier = "fresh"     // <= 1 h
	Recent   Tier = "recent"    // <= 24 h
	Stale    Tier = "stale"     // <= 7 d
	Expired  Tier = "expired"   // > 7 d or never seen
)

// Classify maps a last-seen timestamp to its tier. A zero timestamp is
// expired.
func Classify(lastSeen time.Time, now time.Time) Tier {
	if lastSeen.IsZero() {
		return Expired
	}
	age := now.Sub(lastSeen)
	switch {
	case age <= 5*time.Minute:
		return RealTime
	case age <= time.Hour:
		return Fresh
	case age <= 24*time.Hour:
		return Recent
	case age <= 7*24*time.Hour:
		return Stale
	default:
		return Expired
	}
}

// rank orders tiers from freshest to most expired for policy comparisons.
func rank(t Tier) int {
	switch t {
	case RealTime:
		return 0
	case Fresh:
		return 1
	case Recent:
		return 2
	case Stale:
		return 3
	default:
		return 4
	}
}

// Volatility groups attributes by how fast they drift upstream.
type Volatility string

const (
	High   Volatility = "high"   // price, availability
	Medium Volatility = "medium" // mileage
	Low    Volatility = "low"    // description, features
)

// NeedsRefresh applies the hybrid policy: expired always refreshes; high
// volatility refreshes once worse than fresh; medium once stale; low only
// when expired.
func NeedsRefresh(tier Tier, v Volatility) bool {
	if tier == Expired {
		return true
	}
	switch v {
	case High:
		return rank(tier) > rank(Fresh)
	case Medium:
		return rank(tier) >= rank(Stale)
	default:
		return false
	}
}

// StaleOrWorse reports whether local data is old enough that the orchestrator
// should consult live sources.
func StaleOrWorse(tier Tier) bool {
	return rank(tier) >= rank(Stale)
}

// Priority scores a refresh candidate:
//
//	min(age_days*10, 100) * source_weight + min(access_count*5, 50)
func Priority(ageDays float64, kind models.SourceKind, accessCount int64) float64 {
	agePart := ageDays * 10
	if agePart > 100 {
		agePart = 100
	}
	accessPart := float64(accessCount) * 5
	if accessPart > 50 {
		accessPart = 50
	}
	return agePart*models.SourceWeight(kind) + accessPart
}

// Candidate is one listing considered for a refresh batch.
type Candidate struct {
	ListingID string
	Source    string
	Kind      models.SourceKind
	LastSeen  time.Time
	Access    int64
	Score     float64
}

// BuildBatch scores candidates, drops duplicates by listing id and returns
// the top n by (score desc, listing id asc).
func BuildBatch(candidates []Candidate, n int, now time.Time) []Candidate {
	seen := make(map[string]bool, len(candidates))
	unique := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.ListingID] {
			continue
		}
		seen[c.ListingID] = true
		ageDays := now.Sub(c.LastSeen).Hours() / 24
		if c.LastSeen.IsZero() {
			ageDays = 365
		}
		c.Score = Priority(ageDays, c.Kind, c.Access)
		unique = append(unique, c)
	}

	sort.Slice(unique, func(i, j int) bool {
		if unique[i].Score != unique[j].Score {
			return unique[i].Score > unique[j].Score
		}
		return unique[i].ListingID < unique[j].ListingID
	})

	if n > 0 && len(unique) > n {
		unique = unique[:n]
	}
	return unique
}

// Report is the periodic freshness distribution summary.
type Report struct {
	GeneratedAt     time.Time    `json:"generated_at"`
	Total           int          `json:"total"`
	Counts          map[Tier]int `json:"counts"`
	ExpiredPercent  float64      `json:"expired_percent"`
	Recommendations []string     `json:"recommendations"`
}

// BuildReport summarizes the tier distribution of the given last-seen
// timestamps.
func BuildReport(lastSeen []time.Time, now time.Time) Report {
	r := Report{
		GeneratedAt: now,
		Total:       len(lastSeen),
		Counts:      map[Tier]int{RealTime: 0, Fresh: 0, Recent: 0, Stale: 0, Expired: 0},
	}
	for _, ts := range lastSeen {
		r.Counts[Classify(ts, now)]++
	}
	if r.Total > 0 {
		r.ExpiredPercent = 100 * float64(r.Counts[Expired]) / float64(r.Total)
	}

	switch {
	case r.ExpiredPercent >= 50:
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("%.0f%% of listings expired: raise refresh batch size or frequency", r.ExpiredPercent))
	case r.ExpiredPercent >= 20:
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("%.0f%% of listings expired: schedule catch-up refresh", r.ExpiredPercent))
	}
	if r.Total > 0 && r.Counts[Stale]+r.Counts[Expired] > r.Total/2 {
		r.Recommendations = append(r.Recommendations,
			"over half of inventory stale or worse: check upstream source health")
	}
	if len(r.Recommendations) == 0 {
		r.Recommendations = append(r.Recommendations, "freshness distribution nominal")
	}
	return r
}
