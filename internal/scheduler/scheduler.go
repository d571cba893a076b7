// Package scheduler runs the background maintenance loops: stale-listing
// refresh, popular-listing refresh, expired-data cleanup, and the periodic
// freshness report. Refresh work flows through a bounded queue drained by a
// fixed worker pool; every outbound fetch goes through the dispatch engine so
// background traffic honors the same breakers and rate limits as searches.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/thetangstr/findmycar/internal/dispatch"
	"github.com/thetangstr/findmycar/internal/freshness"
	"github.com/thetangstr/findmycar/internal/index"
	"github.com/thetangstr/findmycar/internal/metrics"
	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/sources"
)

// RefreshTask is one queued refresh of a single listing.
type RefreshTask struct {
	ListingID       string
	Source          string
	SourceListingID string
	Score           float64
	RetryCount      int
	EnqueuedAt      time.Time
}

// Config tunes the scheduler. Zero values take defaults.
type Config struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	MaxRetries     int           `yaml:"max_retries"`
	BatchSize      int           `yaml:"batch_size"`
	PopularCount   int           `yaml:"popular_count"`
	StaleCutoff    time.Duration `yaml:"stale_cutoff"`
	InactiveCutoff time.Duration `yaml:"inactive_cutoff"`

	StaleSchedule   string `yaml:"stale_schedule"`
	PopularSchedule string `yaml:"popular_schedule"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
	ReportSchedule  string `yaml:"report_schedule"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PopularCount <= 0 {
		c.PopularCount = 50
	}
	if c.StaleCutoff <= 0 {
		c.StaleCutoff = 24 * time.Hour
	}
	if c.InactiveCutoff <= 0 {
		c.InactiveCutoff = 30 * 24 * time.Hour
	}
	if c.StaleSchedule == "" {
		c.StaleSchedule = "*/30 * * * *"
	}
	if c.PopularSchedule == "" {
		c.PopularSchedule = "*/15 * * * *"
	}
	if c.CleanupSchedule == "" {
		c.CleanupSchedule = "0 3 * * *"
	}
	if c.ReportSchedule == "" {
		c.ReportSchedule = "0 */6 * * *"
	}
	return c
}

type Scheduler struct {
	cfg      Config
	cron     *cron.Cron
	idx      *index.Index
	registry *sources.Registry
	engine   *dispatch.Engine

	queue chan RefreshTask
	wg    sync.WaitGroup

	mu         sync.RWMutex
	lastReport *freshness.Report

	cancel context.CancelFunc
}

func New(cfg Config, idx *index.Index, registry *sources.Registry, engine *dispatch.Engine) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:      cfg,
		cron:     cron.New(),
		idx:      idx,
		registry: registry,
		engine:   engine,
		queue:    make(chan RefreshTask, cfg.QueueSize),
	}
}

// Start registers the cron jobs and launches the worker pool. It returns after
// startup; Stop shuts everything down.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	jobs := []struct {
		name string
		spec string
		fn   func(context.Context)
	}{
		{"update_stale_vehicles", s.cfg.StaleSchedule, s.updateStale},
		{"refresh_popular_vehicles", s.cfg.PopularSchedule, s.refreshPopular},
		{"cleanup_expired_data", s.cfg.CleanupSchedule, s.cleanupExpired},
		{"generate_freshness_report", s.cfg.ReportSchedule, s.generateReport},
	}
	for _, j := range jobs {
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() { j.fn(ctx) }); err != nil {
			return err
		}
		log.Info().Str("job", j.name).Str("schedule", j.spec).Msg("scheduled")
	}

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.cron.Start()
	log.Info().Int("workers", s.cfg.Workers).Int("queue_size", s.cfg.QueueSize).
		Msg("scheduler started")
	return nil
}

// Stop halts the cron loop, cancels in-flight work and waits for the workers
// to drain.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// QueueDepth reports how many tasks are waiting.
func (s *Scheduler) QueueDepth() int { return len(s.queue) }

// LastReport returns the most recent freshness report, nil before the first
// run.
func (s *Scheduler) LastReport() *freshness.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// Enqueue adds a task, dropping it when the queue is full. Dropped tasks come
// back on the next sweep, so backpressure here is loss-free over time.
func (s *Scheduler) Enqueue(t RefreshTask) bool {
	select {
	case s.queue <- t:
		metrics.RefreshQueueDepth.Set(float64(len(s.queue)))
		return true
	default:
		metrics.RefreshTasks.WithLabelValues("dropped").Inc()
		log.Warn().Str("listing_id", t.ListingID).Msg("refresh queue full, task dropped")
		return false
	}
}

// TriggerStaleSweep runs the stale sweep immediately, outside the cron
// cadence. The CLI refresh command uses it.
func (s *Scheduler) TriggerStaleSweep(ctx context.Context) { s.updateStale(ctx) }

// TriggerReport generates a freshness report immediately and returns it.
func (s *Scheduler) TriggerReport(ctx context.Context) *freshness.Report {
	s.generateReport(ctx)
	return s.LastReport()
}

func (s *Scheduler) updateStale(ctx context.Context) {
	now := time.Now().UTC()
	stale, err := s.idx.IterateStale(ctx, now.Add(-s.cfg.StaleCutoff), s.cfg.BatchSize*2)
	if err != nil {
		log.Error().Err(err).Msg("stale sweep query failed")
		return
	}
	s.enqueueBatch(stale, now)
}

func (s *Scheduler) refreshPopular(ctx context.Context) {
	now := time.Now().UTC()
	popular, err := s.idx.MostAccessed(ctx, s.cfg.PopularCount)
	if err != nil {
		log.Error().Err(err).Msg("popular sweep query failed")
		return
	}
	// Popular records carry high-volatility fields (price, availability), so
	// anything worse than fresh qualifies.
	eligible := popular[:0]
	for _, l := range popular {
		if freshness.NeedsRefresh(freshness.Classify(l.LastSeenAt, now), freshness.High) {
			eligible = append(eligible, l)
		}
	}
	s.enqueueBatch(eligible, now)
}

func (s *Scheduler) enqueueBatch(listings []models.Listing, now time.Time) {
	candidates := make([]freshness.Candidate, 0, len(listings))
	for _, l := range listings {
		candidates = append(candidates, freshness.Candidate{
			ListingID: l.ID,
			Source:    l.Source,
			Kind:      s.kindOf(l.Source),
			LastSeen:  l.LastSeenAt,
			Access:    l.AccessCount,
		})
	}
	batch := freshness.BuildBatch(candidates, s.cfg.BatchSize, now)

	byID := make(map[string]models.Listing, len(listings))
	for _, l := range listings {
		byID[l.ID] = l
	}
	queued := 0
	for _, c := range batch {
		l := byID[c.ListingID]
		if s.Enqueue(RefreshTask{
			ListingID:       c.ListingID,
			Source:          c.Source,
			SourceListingID: l.SourceListingID,
			Score:           c.Score,
			EnqueuedAt:      now,
		}) {
			queued++
		}
	}
	log.Info().Int("candidates", len(candidates)).Int("queued", queued).Msg("refresh batch enqueued")
}

func (s *Scheduler) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.InactiveCutoff)
	n, err := s.idx.MarkInactiveOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("cleanup failed")
		return
	}
	log.Info().Int64("deactivated", n).Time("cutoff", cutoff).Msg("expired listings deactivated")
}

func (s *Scheduler) generateReport(ctx context.Context) {
	now := time.Now().UTC()
	lastSeen, err := s.idx.AllLastSeen(ctx)
	if err != nil {
		log.Error().Err(err).Msg("freshness report query failed")
		return
	}
	report := freshness.BuildReport(lastSeen, now)

	s.mu.Lock()
	s.lastReport = &report
	s.mu.Unlock()

	log.Info().Int("total", report.Total).
		Float64("expired_percent", report.ExpiredPercent).
		Strs("recommendations", report.Recommendations).
		Msg("freshness report")
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.queue:
			metrics.RefreshQueueDepth.Set(float64(len(s.queue)))
			s.process(ctx, task)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, task RefreshTask) {
	adapter, ok := s.registry.Get(task.Source)
	if !ok {
		// Source compiled out since the record was ingested.
		metrics.RefreshTasks.WithLabelValues("skipped").Inc()
		return
	}

	fresh, err := s.engine.Details(ctx, adapter, task.SourceListingID)
	switch {
	case err == nil:
		if upErr := s.idx.Upsert(ctx, fresh); upErr != nil {
			metrics.RefreshTasks.WithLabelValues("failed").Inc()
			s.record(ctx, task, "failed", upErr.Error())
			return
		}
		metrics.RefreshTasks.WithLabelValues("ok").Inc()
		s.record(ctx, task, "ok", "")

	case sources.KindOf(err) == sources.KindNotFound:
		// Gone upstream: deactivate, never delete.
		if inErr := s.idx.MarkInactive(ctx, task.ListingID); inErr != nil {
			log.Error().Str("listing_id", task.ListingID).Err(inErr).Msg("deactivate failed")
		}
		metrics.RefreshTasks.WithLabelValues("gone").Inc()
		s.record(ctx, task, "gone", err.Error())

	case sources.Retryable(err) && task.RetryCount < s.cfg.MaxRetries:
		task.RetryCount++
		if !s.Enqueue(task) {
			s.record(ctx, task, "failed", err.Error())
		}
		metrics.RefreshTasks.WithLabelValues("requeued").Inc()

	default:
		metrics.RefreshTasks.WithLabelValues("failed").Inc()
		s.record(ctx, task, "failed", err.Error())
		log.Warn().Str("listing_id", task.ListingID).Str("source", task.Source).
			Err(err).Msg("refresh failed")
	}
}

func (s *Scheduler) record(ctx context.Context, task RefreshTask, status, detail string) {
	if err := s.idx.RecordRefresh(ctx, task.ListingID, task.Source, status, detail); err != nil {
		log.Debug().Err(err).Msg("refresh bookkeeping write failed")
	}
}

func (s *Scheduler) kindOf(tag string) models.SourceKind {
	if d, ok := s.registry.Descriptor(tag); ok {
		return d.Kind
	}
	return models.KindScrape
}
