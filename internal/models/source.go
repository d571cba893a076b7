package models

import "time"

// SourceKind classifies an upstream by transport. It drives per-source
// timeouts and the freshness source weight.
type SourceKind string

const (
	KindAPI    SourceKind = "api"
	KindScrape SourceKind = "scrape"
	KindFeed   SourceKind = "feed"
	KindLocal  SourceKind = "local"
	KindSample SourceKind = "sample"
)

// SourceDescriptor describes one registered upstream. Tags are globally
// unique; priority breaks ranking ties but never overrides relevance score.
type SourceDescriptor struct {
	Tag              string     `json:"tag"`
	Kind             SourceKind `json:"kind"`
	Enabled          bool       `json:"enabled"`
	Priority         int        `json:"priority"`
	RateProfile      string     `json:"rate_profile,omitempty"`
	CredentialHandle string     `json:"credential_handle,omitempty"`

	HealthState       string    `json:"health_state,omitempty"`
	HealthMessage     string    `json:"health_message,omitempty"`
	LastHealthChecked time.Time `json:"last_health_checked,omitempty"`
}

// SourceWeight is the freshness prioritization weight per kind.
func SourceWeight(kind SourceKind) float64 {
	switch kind {
	case KindAPI:
		return 1.5
	case KindFeed:
		return 1.2
	case KindScrape:
		return 1.0
	default:
		return 0.5
	}
}
