// Package breaker suppresses calls to failing upstreams with one
// closed/half-open/open state machine per source.
package breaker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thetangstr/findmycar/internal/sources"
)

// State of one breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config for one breaker. Scrape sources typically lower FailureThreshold
// because schema drift fails hard and often.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

var DefaultConfig = Config{FailureThreshold: 5, Cooldown: 5 * time.Minute}

// Breaker is the per-source state machine. Transitions are monotone within a
// failure window: closed -> open at the threshold, open -> half-open after
// cooldown with exactly one probe admitted, half-open -> closed on success or
// back to open on failure.
type Breaker struct {
	source string
	cfg    Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openUntil           time.Time
	probeInFlight       bool

	now func() time.Time
}

func New(source string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig.Cooldown
	}
	return &Breaker{source: source, cfg: cfg, state: Closed, now: time.Now}
}

// Allow reports whether a call may proceed. While open it returns a
// circuit_open error without touching the network; after the cooldown it
// admits exactly one probe and rejects everything else until that probe is
// recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Before(b.openUntil) {
			return sources.NewError(b.source, "dispatch", sources.KindCircuitOpen,
				fmt.Errorf("circuit open until %s", b.openUntil.Format(time.RFC3339)))
		}
		b.state = HalfOpen
		b.probeInFlight = true
		log.Info().Str("source", b.source).Msg("circuit half-open, admitting probe")
		return nil
	case HalfOpen:
		if b.probeInFlight {
			return sources.NewError(b.source, "dispatch", sources.KindCircuitOpen,
				fmt.Errorf("probe already in flight"))
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess resets the failure count; a successful probe closes the
// breaker. While open, only the admitted probe can move the state, so a late
// success from a call issued before the trip is ignored.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		return
	}
	if b.state == HalfOpen {
		log.Info().Str("source", b.source).Msg("circuit closed after successful probe")
	}
	b.state = Closed
	b.consecutiveFailures = 0
	b.probeInFlight = false
}

// RecordFailure advances the failure count and opens the breaker at the
// threshold. A failed probe re-opens with a fresh cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.open()
		log.Warn().Str("source", b.source).Msg("probe failed, circuit re-opened")
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.open()
			log.Warn().Str("source", b.source).
				Int("consecutive_failures", b.consecutiveFailures).
				Msg("failure threshold reached, circuit opened")
		}
	case Open:
		// Late result from a call issued before the trip.
		b.consecutiveFailures++
	}
}

func (b *Breaker) open() {
	b.state = Open
	b.openUntil = b.now().Add(b.cfg.Cooldown)
	b.probeInFlight = false
	b.consecutiveFailures = 0
}

// Status is the admin snapshot of one breaker.
type Status struct {
	Source              string    `json:"source"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenUntil           time.Time `json:"open_until,omitempty"`
}

func (b *Breaker) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{
		Source:              b.source,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
	}
	if b.state == Open {
		st.OpenUntil = b.openUntil
	}
	return st
}

// Registry holds one breaker per source.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	configs  map[string]Config
}

func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		configs:  make(map[string]Config),
	}
}

// Configure sets the per-source config, applied when the breaker is first
// requested.
func (r *Registry) Configure(source string, cfg Config) {
	r.mu.Lock()
	r.configs[source] = cfg
	r.mu.Unlock()
}

// For returns the breaker for a source, creating it on first use.
func (r *Registry) For(source string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[source]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[source]; ok {
		return b
	}
	cfg, ok := r.configs[source]
	if !ok {
		cfg = DefaultConfig
	}
	b = New(source, cfg)
	r.breakers[source] = b
	return b
}

// Snapshot returns every breaker's status sorted by source tag.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
