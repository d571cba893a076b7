// Package cache implements the tiered result cache: hot/warm/cold TTL tiers
// backed by Redis when available, an in-process map otherwise.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
)

// Tier is a cache TTL class, shortest to longest.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// DefaultTTLs per tier; overridable via CACHE_TTL_* env keys.
var DefaultTTLs = map[Tier]time.Duration{
	TierHot:  5 * time.Minute,
	TierWarm: 30 * time.Minute,
	TierCold: 2 * time.Hour,
}

// Entry is one cached result page. AccessCount only ever grows.
type Entry struct {
	Key         string    `json:"key"`
	Value       []byte    `json:"value"`
	Tier        Tier      `json:"tier"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessCount int64     `json:"access_count"`
}

// Store is the backing storage for cache entries. Get returns (nil, nil) on
// a miss; expired entries count as misses and may be lazily dropped.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error

	// DeletePattern removes entries whose key matches the glob and reports
	// how many were dropped.
	DeletePattern(ctx context.Context, glob string) (int, error)

	Close() error
}

// Stats is the operational snapshot exposed by the admin surface.
type Stats struct {
	Backend string `json:"backend"`
	Entries int    `json:"entries,omitempty"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Fills   int64  `json:"fills"`
}

// Key derives the cache key from the normalized query, canonical filter JSON
// and the sorted enabled source set.
func Key(query string, filters models.FilterSet, sourceTags []string) string {
	tags := append([]string(nil), sourceTags...)
	sort.Strings(tags)

	h := sha256.New()
	h.Write([]byte(NormalizeQuery(query)))
	h.Write([]byte{0})
	h.Write([]byte(filters.CanonicalJSON()))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(tags, ",")))
	return "search:" + hex.EncodeToString(h.Sum(nil))[:32]
}

// NormalizeQuery lowercases and collapses whitespace so trivially different
// spellings share an entry.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
