// Package local exposes the persistent index as a dispatch source. It is the
// one kind=local adapter: always enabled, lowest priority, and exempt from the
// breaker and rate limiter.
package local

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/thetangstr/findmycar/internal/index"
	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/sources"
)

const Tag = "local_db"

type Adapter struct {
	idx *index.Index
}

func New(idx *index.Index) *Adapter { return &Adapter{idx: idx} }

func (a *Adapter) Tag() string             { return Tag }
func (a *Adapter) Kind() models.SourceKind { return models.KindLocal }

func (a *Adapter) Search(ctx context.Context, query string, filters models.FilterSet, page, perPage int) ([]models.Listing, sources.SearchMeta, error) {
	var meta sources.SearchMeta
	params := index.QueryParams{
		Filters: filters,
		Text:    query,
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
	}

	total, err := a.idx.Count(ctx, params)
	if err != nil {
		return nil, meta, wrap("search", err)
	}
	listings, err := a.idx.Query(ctx, params)
	if err != nil {
		return nil, meta, wrap("search", err)
	}

	meta.TotalClaimed = total
	meta.Truncated = total > (page-1)*perPage+len(listings)
	return listings, meta, nil
}

// GetDetails looks up by stable listing id; local records carry the composite
// id, not a remote source's native id.
func (a *Adapter) GetDetails(ctx context.Context, sourceListingID string) (models.Listing, error) {
	l, err := a.idx.Get(ctx, sourceListingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Listing{}, sources.NewError(Tag, "details", sources.KindNotFound, err)
		}
		return models.Listing{}, wrap("details", err)
	}
	return l, nil
}

func (a *Adapter) Health(ctx context.Context) sources.HealthStatus {
	now := time.Now().UTC()
	if err := a.idx.Ping(ctx); err != nil {
		return sources.HealthStatus{State: sources.Unhealthy, Message: err.Error(), CheckedAt: now}
	}
	return sources.HealthStatus{State: sources.Healthy, CheckedAt: now}
}

func wrap(op string, err error) error {
	kind := sources.KindTransient
	if errors.Is(err, context.DeadlineExceeded) {
		kind = sources.KindDeadlineExceeded
	}
	return sources.NewError(Tag, op, kind, err)
}
