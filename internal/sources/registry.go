package sources

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thetangstr/findmycar/internal/models"
)

// Registry holds every adapter compiled in and registered at startup,
// together with its descriptor. Listings never reference descriptors
// directly; they carry only the source tag and resolve through here.
type Registry struct {
	mu          sync.RWMutex
	adapters    map[string]Adapter
	descriptors map[string]*models.SourceDescriptor
}

func NewRegistry() *Registry {
	return &Registry{
		adapters:    make(map[string]Adapter),
		descriptors: make(map[string]*models.SourceDescriptor),
	}
}

// Register adds an adapter under its tag. Duplicate tags are a wiring bug.
func (r *Registry) Register(a Adapter, enabled bool, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag := a.Tag()
	if _, exists := r.adapters[tag]; exists {
		return fmt.Errorf("source %q already registered", tag)
	}
	r.adapters[tag] = a
	r.descriptors[tag] = &models.SourceDescriptor{
		Tag:      tag,
		Kind:     a.Kind(),
		Enabled:  enabled,
		Priority: priority,
	}
	log.Info().Str("source", tag).Str("kind", string(a.Kind())).
		Bool("enabled", enabled).Int("priority", priority).
		Msg("source registered")
	return nil
}

// Get returns the adapter for a tag.
func (r *Registry) Get(tag string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[tag]
	return a, ok
}

// Descriptor returns a copy of the descriptor for a tag.
func (r *Registry) Descriptor(tag string) (models.SourceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[tag]
	if !ok {
		return models.SourceDescriptor{}, false
	}
	return *d, true
}

// Priority returns the ranking priority for a tag, zero for unknown tags.
func (r *Registry) Priority(tag string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.descriptors[tag]; ok {
		return d.Priority
	}
	return 0
}

// Priorities snapshots tag -> priority for the deduplicator.
func (r *Registry) Priorities() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.descriptors))
	for tag, d := range r.descriptors {
		out[tag] = d.Priority
	}
	return out
}

// SetEnabled flips a source on or off at runtime.
func (r *Registry) SetEnabled(tag string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[tag]
	if !ok {
		return fmt.Errorf("unknown source %q", tag)
	}
	d.Enabled = enabled
	return nil
}

// SetPriority overrides a source's priority (SOURCE_PRIORITY_<TAG>).
func (r *Registry) SetPriority(tag string, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[tag]
	if !ok {
		return fmt.Errorf("unknown source %q", tag)
	}
	d.Priority = priority
	return nil
}

// Enabled returns enabled adapters ordered by priority descending, tag
// ascending for determinism.
func (r *Registry) Enabled() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.adapters))
	for tag, d := range r.descriptors {
		if d.Enabled {
			tags = append(tags, tag)
		}
	}
	sort.Slice(tags, func(i, j int) bool {
		pi, pj := r.descriptors[tags[i]].Priority, r.descriptors[tags[j]].Priority
		if pi != pj {
			return pi > pj
		}
		return tags[i] < tags[j]
	})

	out := make([]Adapter, 0, len(tags))
	for _, tag := range tags {
		out = append(out, r.adapters[tag])
	}
	return out
}

// EnabledTags returns the enabled tags in priority order.
func (r *Registry) EnabledTags() []string {
	adapters := r.Enabled()
	tags := make([]string, 0, len(adapters))
	for _, a := range adapters {
		tags = append(tags, a.Tag())
	}
	return tags
}

// Descriptors snapshots all descriptors sorted by tag.
func (r *Registry) Descriptors() []models.SourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.SourceDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// CheckHealth probes every registered adapter and records the outcome on the
// descriptor. Probes run with the supplied per-probe timeout.
func (r *Registry) CheckHealth(ctx context.Context, timeout time.Duration) map[string]HealthStatus {
	r.mu.RLock()
	adapters := make(map[string]Adapter, len(r.adapters))
	for tag, a := range r.adapters {
		adapters[tag] = a
	}
	r.mu.RUnlock()

	out := make(map[string]HealthStatus, len(adapters))
	for tag, a := range adapters {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		status := a.Health(probeCtx)
		cancel()
		out[tag] = status

		r.mu.Lock()
		if d, ok := r.descriptors[tag]; ok {
			d.HealthState = status.State
			d.HealthMessage = status.Message
			d.LastHealthChecked = status.CheckedAt
		}
		r.mu.Unlock()
	}
	return out
}
