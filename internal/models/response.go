package models

import "time"

// SearchRequest is the orchestrator entry contract.
type SearchRequest struct {
	Query   string    `json:"query"`
	Filters FilterSet `json:"filters"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
	UserID  string    `json:"user_id,omitempty"`

	// Deadline bounds the whole search; nil takes the configured default.
	// An explicit zero or negative budget is already spent and answers
	// immediately.
	Deadline *time.Duration `json:"deadline,omitempty"`
}

// SearchResponse is the aggregated, deduplicated, scored result page.
type SearchResponse struct {
	Listings        []Listing              `json:"listings"`
	Total           int                    `json:"total"`
	Page            int                    `json:"page"`
	PerPage         int                    `json:"per_page"`
	LocalCount      int                    `json:"local_count"`
	LiveCount       int                    `json:"live_count"`
	SourcesSearched []string               `json:"sources_searched"`
	SourcesFailed   []string               `json:"sources_failed"`
	SearchTime      time.Duration          `json:"search_time"`
	Partial         bool                   `json:"partial"`
	Cached          bool                   `json:"cached,omitempty"`
	AppliedFilters  map[string]interface{} `json:"applied_filters,omitempty"`
}
