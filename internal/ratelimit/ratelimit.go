// Package ratelimit enforces per-(source, operation) quotas in front of every
// upstream call. Two algorithms are supported: a leaky bucket for steady
// throughput and a daily quota with a hard calendar-day reset.
package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/thetangstr/findmycar/internal/sources"
)

// Algorithm selects how a bucket meters requests.
type Algorithm string

const (
	Leaky      Algorithm = "leaky"
	DailyQuota Algorithm = "daily"
)

// Profile configures one bucket.
type Profile struct {
	Algorithm Algorithm     `yaml:"algorithm"`
	RPS       float64       `yaml:"rps"`
	Burst     int           `yaml:"burst"`
	Quota     int64         `yaml:"quota"`
	MaxWait   time.Duration `yaml:"max_wait"`
}

// DefaultProfile is used for buckets nobody configured.
var DefaultProfile = Profile{Algorithm: Leaky, RPS: 5, Burst: 10, MaxWait: 2 * time.Second}

// Lease is proof a request was admitted, with the wait it paid.
type Lease struct {
	Source string
	Op     string
	Waited time.Duration
}

// BucketStatus is the admin snapshot of one bucket.
type BucketStatus struct {
	Source          string    `json:"source"`
	Op              string    `json:"op"`
	Algorithm       Algorithm `json:"algorithm"`
	TokensRemaining int64     `json:"tokens_remaining"`
	DailyQuota      int64     `json:"daily_quota,omitempty"`
	WindowResetAt   time.Time `json:"window_reset_at,omitempty"`
}

type bucket struct {
	profile Profile
	limiter *rate.Limiter // leaky only

	mu            sync.Mutex // daily only
	used          int64
	windowResetAt time.Time
}

// Registry is the process-wide bucket registry.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{buckets: make(map[string]*bucket), now: time.Now}
}

func key(source, op string) string { return source + ":" + op }

// Configure installs or replaces the profile for (source, op).
func (r *Registry) Configure(source, op string, p Profile) {
	if p.MaxWait == 0 {
		p.MaxWait = DefaultProfile.MaxWait
	}
	b := &bucket{profile: p}
	if p.Algorithm == Leaky {
		if p.RPS <= 0 {
			p.RPS = DefaultProfile.RPS
			b.profile.RPS = p.RPS
		}
		if p.Burst <= 0 {
			p.Burst = DefaultProfile.Burst
			b.profile.Burst = p.Burst
		}
		b.limiter = rate.NewLimiter(rate.Limit(p.RPS), p.Burst)
	} else {
		b.windowResetAt = nextMidnightUTC(r.now())
	}

	r.mu.Lock()
	r.buckets[key(source, op)] = b
	r.mu.Unlock()
}

func (r *Registry) get(source, op string) *bucket {
	k := key(source, op)
	r.mu.RLock()
	b, ok := r.buckets[k]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.buckets[k]; ok {
		return b
	}
	p := DefaultProfile
	b = &bucket{
		profile: p,
		limiter: rate.NewLimiter(rate.Limit(p.RPS), p.Burst),
	}
	r.buckets[k] = b
	return b
}

// Acquire blocks up to the bucket's max_wait (and never past the caller's
// deadline) for admission. On denial it returns a rate_limited SourceError
// carrying the time until the window resets where known.
func (r *Registry) Acquire(ctx context.Context, source, op string) (Lease, error) {
	b := r.get(source, op)
	start := r.now()

	switch b.profile.Algorithm {
	case DailyQuota:
		if err := b.takeDaily(source, op, r.now()); err != nil {
			log.Debug().Str("source", source).Str("op", op).Msg("daily quota exhausted")
			return Lease{}, err
		}
	default:
		waitCtx, cancel := context.WithTimeout(ctx, b.profile.MaxWait)
		err := b.limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return Lease{}, sources.NewError(source, op, sources.KindDeadlineExceeded, ctx.Err())
			}
			return Lease{}, sources.NewRateLimited(source, op, 0,
				fmt.Errorf("no token within %s", b.profile.MaxWait))
		}
	}

	return Lease{Source: source, Op: op, Waited: r.now().Sub(start)}, nil
}

func (b *bucket) takeDaily(source, op string, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !now.Before(b.windowResetAt) {
		b.used = 0
		b.windowResetAt = nextMidnightUTC(now)
	}
	if b.used >= b.profile.Quota {
		return sources.NewRateLimited(source, op, b.windowResetAt.Sub(now),
			fmt.Errorf("daily quota %d exhausted", b.profile.Quota))
	}
	b.used++
	return nil
}

// Remaining snapshots every bucket for the admin surface. tokens_remaining is
// never negative.
func (r *Registry) Remaining() []BucketStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.buckets))
	for k := range r.buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := r.now()
	out := make([]BucketStatus, 0, len(keys))
	for _, k := range keys {
		b := r.buckets[k]
		var source, op string
		if i := strings.IndexByte(k, ':'); i >= 0 {
			source, op = k[:i], k[i+1:]
		}
		st := BucketStatus{Source: source, Op: op, Algorithm: b.profile.Algorithm}
		if b.profile.Algorithm == DailyQuota {
			b.mu.Lock()
			used := b.used
			if !now.Before(b.windowResetAt) {
				used = 0
			}
			st.DailyQuota = b.profile.Quota
			st.TokensRemaining = b.profile.Quota - used
			if st.TokensRemaining < 0 {
				st.TokensRemaining = 0
			}
			st.WindowResetAt = b.windowResetAt
			b.mu.Unlock()
		} else {
			st.TokensRemaining = int64(b.limiter.Tokens())
			if st.TokensRemaining < 0 {
				st.TokensRemaining = 0
			}
		}
		out = append(out, st)
	}
	return out
}

func nextMidnightUTC(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
