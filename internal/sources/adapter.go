package sources

import (
	"context"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
)

// SearchMeta is per-source metadata returned alongside a result page.
type SearchMeta struct {
	TotalClaimed int  `json:"total_claimed"`
	Truncated    bool `json:"truncated"`
}

// Health states reported by adapters.
const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// HealthStatus is the result of a side-effect-free probe.
type HealthStatus struct {
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Adapter is the uniform contract every upstream implements. All three
// operations must honor ctx deadlines at each I/O boundary; Search may return
// a partial page with Truncated set when the deadline is nearing expiry.
type Adapter interface {
	Tag() string
	Kind() models.SourceKind

	// Search returns normalized listings matching the query and filters.
	Search(ctx context.Context, query string, filters models.FilterSet, page, perPage int) ([]models.Listing, SearchMeta, error)

	// GetDetails fetches a single record by the source's own listing id.
	// Idempotent; returns a not_found SourceError when the upstream has
	// dropped the listing.
	GetDetails(ctx context.Context, sourceListingID string) (models.Listing, error)

	// Health probes the upstream without side effects.
	Health(ctx context.Context) HealthStatus
}
