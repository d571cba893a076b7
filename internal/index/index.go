// Package index is the persistent normalized listing store. It is both the
// authoritative store of ingested listings and a first-class dispatch source
// (kind=local, no rate limit, no breaker).
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/thetangstr/findmycar/internal/models"
)

// Index wraps the listings database. Writers for one (source,
// source_listing_id) serialize on the upsert's conflict target; readers run
// concurrently.
type Index struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to the configured database URL and tunes the pool.
func Open(url string) (*Index, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db), nil
}

// New wraps an existing connection (tests inject sqlmock here).
func New(db *sqlx.DB) *Index {
	return &Index{db: db, timeout: 5 * time.Second}
}

// EnsureSchema creates tables and indexes when missing. Idempotent.
func (ix *Index) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := ix.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (ix *Index) Close() error { return ix.db.Close() }

// Ping verifies connectivity for health probes.
func (ix *Index) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()
	return ix.db.PingContext(ctx)
}

// listingRow is the scan target; blob columns come back as raw JSON and the
// nullable color column as a NullString shadowing the model field.
type listingRow struct {
	models.Listing
	ExteriorColor  sql.NullString `db:"exterior_color"`
	ImageURLsJSON  []byte         `db:"image_urls"`
	AttributesJSON []byte         `db:"attributes"`
	FeaturesJSON   []byte         `db:"features"`
	HistoryJSON    []byte         `db:"history"`
}

func (r *listingRow) toListing() (models.Listing, error) {
	l := r.Listing
	l.ExteriorColor = r.ExteriorColor.String
	if len(r.ImageURLsJSON) > 0 {
		if err := json.Unmarshal(r.ImageURLsJSON, &l.ImageURLs); err != nil {
			return l, fmt.Errorf("decode image_urls: %w", err)
		}
	}
	if len(r.AttributesJSON) > 0 {
		if err := json.Unmarshal(r.AttributesJSON, &l.Attributes); err != nil {
			return l, fmt.Errorf("decode attributes: %w", err)
		}
	}
	if len(r.FeaturesJSON) > 0 {
		if err := json.Unmarshal(r.FeaturesJSON, &l.Features); err != nil {
			return l, fmt.Errorf("decode features: %w", err)
		}
	}
	if len(r.HistoryJSON) > 0 {
		if err := json.Unmarshal(r.HistoryJSON, &l.History); err != nil {
			return l, fmt.Errorf("decode history: %w", err)
		}
	}
	return l, nil
}

const listingColumns = `id, source, source_listing_id, title, make, model, year, trim,
	price, mileage, body_style, exterior_color, transmission, drivetrain, fuel_type,
	vin, location, zip, dealer_name, url, image_urls, description, attributes,
	features, history, access_count, active, created_at, updated_at, last_seen_at`

// Upsert inserts or refreshes a listing keyed by (source, source_listing_id).
// Idempotent: re-upserting the same record only advances updated_at and
// last_seen_at. created_at is preserved on conflict.
func (ix *Index) Upsert(ctx context.Context, l models.Listing) error {
	now := time.Now().UTC()
	l.Normalize(now)
	if err := l.Validate(now); err != nil {
		return fmt.Errorf("upsert rejected: %w", err)
	}

	imagesJSON, err := json.Marshal(l.ImageURLs)
	if err != nil {
		return fmt.Errorf("marshal image_urls: %w", err)
	}
	attrsJSON, err := json.Marshal(l.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	featuresJSON, err := json.Marshal(l.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	historyJSON, err := json.Marshal(l.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	query := `
		INSERT INTO listings (
			id, source, source_listing_id, title, make, model, year, trim,
			price, mileage, body_style, exterior_color, transmission, drivetrain,
			fuel_type, vin, location, zip, dealer_name, url, image_urls,
			description, attributes, features, history, active,
			created_at, updated_at, last_seen_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,TRUE,$26,$26,$26)
		ON CONFLICT (source, source_listing_id) DO UPDATE SET
			title = EXCLUDED.title,
			make = EXCLUDED.make,
			model = EXCLUDED.model,
			year = EXCLUDED.year,
			trim = EXCLUDED.trim,
			price = EXCLUDED.price,
			mileage = EXCLUDED.mileage,
			body_style = EXCLUDED.body_style,
			exterior_color = EXCLUDED.exterior_color,
			transmission = EXCLUDED.transmission,
			drivetrain = EXCLUDED.drivetrain,
			fuel_type = EXCLUDED.fuel_type,
			vin = EXCLUDED.vin,
			location = EXCLUDED.location,
			zip = EXCLUDED.zip,
			dealer_name = EXCLUDED.dealer_name,
			url = EXCLUDED.url,
			image_urls = EXCLUDED.image_urls,
			description = EXCLUDED.description,
			attributes = EXCLUDED.attributes,
			features = EXCLUDED.features,
			history = EXCLUDED.history,
			active = TRUE,
			updated_at = EXCLUDED.updated_at,
			last_seen_at = EXCLUDED.last_seen_at`

	var color interface{}
	if l.ExteriorColor != "" {
		color = l.ExteriorColor
	}

	_, err = ix.db.ExecContext(ctx, query,
		l.ID, l.Source, l.SourceListingID, l.Title, l.Make, l.Model, l.Year, l.Trim,
		l.Price, l.Mileage, l.BodyStyle, color, l.Transmission, l.Drivetrain,
		l.FuelType, l.VIN, l.Location, l.Zip, l.DealerName, l.URL, imagesJSON,
		l.Description, attrsJSON, featuresJSON, historyJSON, now)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return fmt.Errorf("upsert listing (pq %s): %w", pqErr.Code, err)
		}
		return fmt.Errorf("upsert listing: %w", err)
	}
	return nil
}

// Get fetches one listing by stable id.
func (ix *Index) Get(ctx context.Context, id string) (models.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	var row listingRow
	err := ix.db.GetContext(ctx, &row,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return models.Listing{}, fmt.Errorf("listing %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return models.Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return row.toListing()
}

// QueryParams is the filtered-query contract. All provided predicates apply
// conjunctively.
type QueryParams struct {
	Filters         models.FilterSet
	Text            string // free-text over title/description
	IncludeInactive bool
	Limit           int
	Offset          int
}

// buildWhere renders the conjunctive predicate list. exclude_colors excludes
// listings whose color case-insensitively contains any excluded value but
// keeps listings with null color.
func buildWhere(p QueryParams) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !p.IncludeInactive {
		conds = append(conds, "active = TRUE")
	}
	f := p.Filters
	if f.Make != "" {
		conds = append(conds, "LOWER(make) = LOWER("+arg(f.Make)+")")
	}
	if len(f.Models) > 0 {
		ors := make([]string, 0, len(f.Models))
		for _, m := range f.Models {
			ors = append(ors, "LOWER(model) LIKE LOWER("+arg("%"+m+"%")+")")
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	if f.YearMin != nil {
		conds = append(conds, "year >= "+arg(*f.YearMin))
	}
	if f.YearMax != nil {
		conds = append(conds, "year <= "+arg(*f.YearMax))
	}
	if f.PriceMin != nil {
		conds = append(conds, "price >= "+arg(*f.PriceMin))
	}
	if f.PriceMax != nil {
		conds = append(conds, "price <= "+arg(*f.PriceMax))
	}
	if f.MileageMin != nil {
		conds = append(conds, "mileage >= "+arg(*f.MileageMin))
	}
	if f.MileageMax != nil {
		conds = append(conds, "mileage <= "+arg(*f.MileageMax))
	}
	if f.BodyStyle != "" {
		conds = append(conds, "LOWER(body_style) = LOWER("+arg(f.BodyStyle)+")")
	}
	if len(f.ExteriorColors) > 0 {
		ors := make([]string, 0, len(f.ExteriorColors))
		for _, c := range f.ExteriorColors {
			ors = append(ors, "LOWER(exterior_color) LIKE LOWER("+arg("%"+c+"%")+")")
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	for _, c := range f.ExcludeColors {
		conds = append(conds,
			"(exterior_color IS NULL OR LOWER(exterior_color) NOT LIKE LOWER("+arg("%"+c+"%")+"))")
	}
	if f.Transmission != "" {
		conds = append(conds, "LOWER(transmission) = LOWER("+arg(f.Transmission)+")")
	}
	if f.Drivetrain != "" {
		conds = append(conds, "LOWER(drivetrain) = LOWER("+arg(f.Drivetrain)+")")
	}
	if f.FuelType != "" {
		conds = append(conds, "LOWER(fuel_type) = LOWER("+arg(f.FuelType)+")")
	}
	for _, feat := range f.RequiredFeatures {
		conds = append(conds, "features @> "+arg(fmt.Sprintf(`["%s"]`, feat))+"::jsonb")
	}
	for key, minVal := range f.Attributes {
		conds = append(conds,
			"(attributes ->> "+arg(key)+")::numeric >= "+arg(minVal))
	}
	if f.CleanTitleOnly {
		conds = append(conds, "history ->> 'title_status' = 'clean'")
	}
	if f.NoAccidents {
		conds = append(conds, "COALESCE((history ->> 'accidents')::int, 0) = 0")
	}
	if f.OneOwnerOnly {
		conds = append(conds, "(history ->> 'owners')::int = 1")
	}
	if f.CertifiedOnly {
		conds = append(conds, "(history ->> 'certified')::boolean = TRUE")
	}
	if p.Text != "" {
		needle := arg("%" + p.Text + "%")
		conds = append(conds, "(title ILIKE "+needle+" OR description ILIKE "+needle+")")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query runs the filtered query ordered by last_seen_at desc, id asc.
func (ix *Index) Query(ctx context.Context, p QueryParams) ([]models.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	where, args := buildWhere(p)
	q := `SELECT ` + listingColumns + ` FROM listings` + where +
		` ORDER BY last_seen_at DESC, id ASC`
	if p.Limit > 0 {
		args = append(args, p.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if p.Offset > 0 {
		args = append(args, p.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := ix.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var out []models.Listing
	for rows.Next() {
		var row listingRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		l, err := row.toListing()
		if err != nil {
			log.Warn().Str("id", row.ID).Err(err).Msg("skipping undecodable listing row")
			continue
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Count returns how many listings match the predicates.
func (ix *Index) Count(ctx context.Context, p QueryParams) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	where, args := buildWhere(p)
	var n int
	if err := ix.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM listings`+where, args...); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return n, nil
}

// MarkInactive deactivates a listing. Records are never destroyed.
func (ix *Index) MarkInactive(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	_, err := ix.db.ExecContext(ctx,
		`UPDATE listings SET active = FALSE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark inactive: %w", err)
	}
	return nil
}

// MarkInactiveOlderThan deactivates everything not seen since cutoff and
// reports how many rows changed. Used by the daily cleanup task.
func (ix *Index) MarkInactiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := ix.db.ExecContext(ctx,
		`UPDATE listings SET active = FALSE, updated_at = now()
		 WHERE active = TRUE AND last_seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark inactive by age: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// IterateStale returns active listings last seen before cutoff, oldest
// first, bounded by limit. The freshness manager turns these into refresh
// candidates.
func (ix *Index) IterateStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	rows, err := ix.db.QueryxContext(ctx,
		`SELECT `+listingColumns+` FROM listings
		 WHERE active = TRUE AND last_seen_at < $1
		 ORDER BY last_seen_at ASC, id ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("iterate stale: %w", err)
	}
	defer rows.Close()

	var out []models.Listing
	for rows.Next() {
		var row listingRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scan stale listing: %w", err)
		}
		l, err := row.toListing()
		if err != nil {
			continue
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MostAccessed returns the top-n active listings by access count for the
// popular-refresh task.
func (ix *Index) MostAccessed(ctx context.Context, n int) ([]models.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	rows, err := ix.db.QueryxContext(ctx,
		`SELECT `+listingColumns+` FROM listings
		 WHERE active = TRUE
		 ORDER BY access_count DESC, last_seen_at ASC, id ASC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("most accessed: %w", err)
	}
	defer rows.Close()

	var out []models.Listing
	for rows.Next() {
		var row listingRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		l, err := row.toListing()
		if err != nil {
			continue
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// IncrementAccess bumps access counts for listings that appeared in a served
// page. Counts only ever grow.
func (ix *Index) IncrementAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	_, err := ix.db.ExecContext(ctx,
		`UPDATE listings SET access_count = access_count + 1 WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("increment access: %w", err)
	}
	return nil
}

// AllLastSeen returns last_seen_at for all active listings, for the
// freshness report.
func (ix *Index) AllLastSeen(ctx context.Context) ([]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := ix.db.QueryContext(ctx,
		`SELECT last_seen_at FROM listings WHERE active = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("all last seen: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// RecordRefresh appends a refresh bookkeeping row.
func (ix *Index) RecordRefresh(ctx context.Context, listingID, source, status, detail string) error {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	_, err := ix.db.ExecContext(ctx,
		`INSERT INTO refresh_log (listing_id, source, status, detail) VALUES ($1, $2, $3, $4)`,
		listingID, source, status, detail)
	if err != nil {
		return fmt.Errorf("record refresh: %w", err)
	}
	return nil
}
