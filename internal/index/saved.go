package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
)

// SavedSearch is a user-stored query the popular-refresh task biases toward.
type SavedSearch struct {
	ID        int64             `json:"id" db:"id"`
	UserID    string            `json:"user_id" db:"user_id"`
	Query     string            `json:"query" db:"query"`
	Filters   models.FilterSet  `json:"filters" db:"-"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	LastRunAt *time.Time        `json:"last_run_at,omitempty" db:"last_run_at"`
}

type savedSearchRow struct {
	SavedSearch
	FiltersJSON []byte `db:"filters"`
}

// SaveSearch stores a saved search for a user.
func (ix *Index) SaveSearch(ctx context.Context, s SavedSearch) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	filtersJSON, err := json.Marshal(s.Filters)
	if err != nil {
		return 0, fmt.Errorf("marshal filters: %w", err)
	}

	var id int64
	err = ix.db.QueryRowxContext(ctx,
		`INSERT INTO saved_searches (user_id, query, filters) VALUES ($1, $2, $3) RETURNING id`,
		s.UserID, s.Query, filtersJSON).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save search: %w", err)
	}
	return id, nil
}

// SavedSearches lists a user's saved searches, newest first.
func (ix *Index) SavedSearches(ctx context.Context, userID string) ([]SavedSearch, error) {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	rows, err := ix.db.QueryxContext(ctx,
		`SELECT id, user_id, query, filters, created_at, last_run_at
		 FROM saved_searches WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list saved searches: %w", err)
	}
	defer rows.Close()

	var out []SavedSearch
	for rows.Next() {
		var row savedSearchRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scan saved search: %w", err)
		}
		s := row.SavedSearch
		if len(row.FiltersJSON) > 0 {
			if err := json.Unmarshal(row.FiltersJSON, &s.Filters); err != nil {
				return nil, fmt.Errorf("decode saved filters: %w", err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSavedSearch removes one saved search owned by the user.
func (ix *Index) DeleteSavedSearch(ctx context.Context, userID string, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	_, err := ix.db.ExecContext(ctx,
		`DELETE FROM saved_searches WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete saved search: %w", err)
	}
	return nil
}

// TouchSavedSearch records that a saved search was executed.
func (ix *Index) TouchSavedSearch(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	_, err := ix.db.ExecContext(ctx,
		`UPDATE saved_searches SET last_run_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch saved search: %w", err)
	}
	return nil
}
