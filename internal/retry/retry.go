// Package retry implements the classified exponential backoff policy used on
// every upstream call path.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thetangstr/findmycar/internal/sources"
)

// Policy describes the backoff schedule:
//
//	delay_i = min(base * factor^i, cap) + jitter in [0, base)
//
// The total budget is bounded by the caller's deadline; a retry whose delay
// would outlive the deadline is skipped and the last error surfaces.
type Policy struct {
	Base       time.Duration
	Factor     float64
	Cap        time.Duration
	MaxRetries int

	// Jitter returns a random duration in [0, base). Injected in tests.
	Jitter func(base time.Duration) time.Duration
}

// Default matches the documented defaults: 100ms base, factor 2, 5s cap,
// 3 retries.
var Default = Policy{Base: 100 * time.Millisecond, Factor: 2, Cap: 5 * time.Second, MaxRetries: 3}

func (p Policy) jitter() time.Duration {
	if p.Jitter != nil {
		return p.Jitter(p.Base)
	}
	if p.Base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(p.Base)))
}

// Delay computes the backoff before attempt i+1 (i counts completed
// attempts, starting at 0), excluding any Retry-After override.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Base)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
		if d >= float64(p.Cap) {
			d = float64(p.Cap)
			break
		}
	}
	if time.Duration(d) > p.Cap {
		d = float64(p.Cap)
	}
	return time.Duration(d) + p.jitter()
}

// Do runs fn, retrying transient and rate_limited failures on the schedule.
// A rate_limited error carrying a Retry-After waits at least that long.
// Non-retryable kinds surface immediately.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !sources.Retryable(lastErr) {
			return lastErr
		}

		delay := p.Delay(attempt)
		if ra := sources.RetryAfterOf(lastErr); ra > delay {
			delay = ra
		}

		if deadline, ok := ctx.Deadline(); ok {
			if time.Until(deadline) <= delay {
				log.Debug().Str("op", op).Dur("delay", delay).
					Msg("retry skipped, delay exceeds remaining deadline")
				return lastErr
			}
		}

		log.Debug().Str("op", op).Int("attempt", attempt+1).Dur("delay", delay).
			Str("kind", string(sources.KindOf(lastErr))).Msg("retrying after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
}
