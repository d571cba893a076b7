package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thetangstr/findmycar/internal/aggregator"
	"github.com/thetangstr/findmycar/internal/breaker"
	"github.com/thetangstr/findmycar/internal/cache"
	"github.com/thetangstr/findmycar/internal/config"
	"github.com/thetangstr/findmycar/internal/dispatch"
	"github.com/thetangstr/findmycar/internal/index"
	"github.com/thetangstr/findmycar/internal/ratelimit"
	"github.com/thetangstr/findmycar/internal/retry"
	"github.com/thetangstr/findmycar/internal/scheduler"
	"github.com/thetangstr/findmycar/internal/sources"
	"github.com/thetangstr/findmycar/internal/sources/autotrader"
	"github.com/thetangstr/findmycar/internal/sources/carfeed"
	"github.com/thetangstr/findmycar/internal/sources/ebay"
	"github.com/thetangstr/findmycar/internal/sources/local"
	"github.com/thetangstr/findmycar/internal/sources/marketcheck"
	"github.com/thetangstr/findmycar/internal/sources/sample"
	"github.com/thetangstr/findmycar/internal/tokens"
)

// app is the fully wired service.
type app struct {
	cfg      config.Config
	idx      *index.Index
	tiered   *cache.Tiered
	registry *sources.Registry
	breakers *breaker.Registry
	limiter  *ratelimit.Registry
	engine   *dispatch.Engine
	orch     *aggregator.Orchestrator
	sched    *scheduler.Scheduler
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	idx, err := index.Open(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := idx.EnsureSchema(ctx); err != nil {
		idx.Close()
		return nil, err
	}

	var store cache.Store
	if cfg.Redis.URL != "" {
		rs, err := cache.NewRedisStore(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unreachable, using in-process cache")
			store = cache.NewMemoryStore()
		} else {
			store = rs
		}
	} else {
		store = cache.NewMemoryStore()
	}
	tiered := cache.NewTiered(store, map[cache.Tier]time.Duration{
		cache.TierHot:  cfg.Cache.HotTTL(),
		cache.TierWarm: cfg.Cache.WarmTTL(),
		cache.TierCold: cfg.Cache.ColdTTL(),
	})
	tiered.SetPrewarmPatterns(cfg.Cache.PrewarmPatterns)

	breakers := breaker.NewRegistry()
	limiter := ratelimit.NewRegistry()
	for tag, sc := range cfg.Sources {
		if sc.FailureThreshold > 0 || sc.CooldownSecs > 0 {
			bc := breaker.DefaultConfig
			if sc.FailureThreshold > 0 {
				bc.FailureThreshold = sc.FailureThreshold
			}
			if sc.CooldownSecs > 0 {
				bc.Cooldown = time.Duration(sc.CooldownSecs) * time.Second
			}
			breakers.Configure(tag, bc)
		}
	}
	for key, rule := range cfg.RateLimit {
		source, op := key, ""
		if j := strings.IndexByte(key, '.'); j >= 0 {
			source, op = key[:j], key[j+1:]
		}
		profile := ratelimit.Profile{
			RPS:     rule.RPS,
			Burst:   rule.Burst,
			Quota:   int64(rule.Quota),
			MaxWait: time.Duration(rule.MaxWaitSecs) * time.Second,
		}
		switch rule.Algorithm {
		case "daily_quota":
			profile.Algorithm = ratelimit.DailyQuota
		default:
			profile.Algorithm = ratelimit.Leaky
		}
		if op != "" {
			limiter.Configure(source, op, profile)
		} else {
			limiter.Configure(source, "search", profile)
			limiter.Configure(source, "details", profile)
		}
	}

	registry := sources.NewRegistry()
	tokenStore := tokens.NewStore()
	client := &http.Client{Timeout: 60 * time.Second}

	if err := registerAdapters(registry, cfg, idx, tokenStore, client); err != nil {
		idx.Close()
		return nil, err
	}

	engine := dispatch.NewEngine(limiter, breakers, retry.Default, dispatch.DefaultTimeouts, cfg.Search.MaxOutbound)
	orch := aggregator.New(aggregator.Config{
		DefaultDeadline: time.Duration(cfg.Search.DefaultDeadlineSecs) * time.Second,
		LiveThreshold:   cfg.Search.LiveThreshold,
		LivePerSource:   cfg.Search.LivePerSource,
	}, registry, engine, tiered, idx)

	sched := scheduler.New(scheduler.Config{
		Workers:         cfg.Scheduler.Workers,
		QueueSize:       cfg.Scheduler.QueueSize,
		MaxRetries:      cfg.Scheduler.MaxRetries,
		BatchSize:       cfg.Scheduler.BatchSize,
		PopularCount:    cfg.Scheduler.PopularCount,
		StaleCutoff:     time.Duration(cfg.Scheduler.StaleCutoffHours) * time.Hour,
		InactiveCutoff:  time.Duration(cfg.Scheduler.InactiveDays) * 24 * time.Hour,
		StaleSchedule:   cfg.Scheduler.StaleSchedule,
		PopularSchedule: cfg.Scheduler.PopularSchedule,
		CleanupSchedule: cfg.Scheduler.CleanupSchedule,
		ReportSchedule:  cfg.Scheduler.ReportSchedule,
	}, idx, registry, engine)

	return &app{
		cfg:      cfg,
		idx:      idx,
		tiered:   tiered,
		registry: registry,
		breakers: breakers,
		limiter:  limiter,
		engine:   engine,
		orch:     orch,
		sched:    sched,
	}, nil
}

func registerAdapters(registry *sources.Registry, cfg config.Config, idx *index.Index,
	tokenStore *tokens.Store, client *http.Client) error {

	sc := cfg.Sources["ebay"]
	enabled := sc.Enabled && sc.ClientID != "" && sc.ClientSecret != ""
	if sc.Enabled && !enabled {
		log.Warn().Msg("ebay credentials missing, source disabled")
	}
	if err := registry.Register(ebay.New(client, tokenStore, sc.ClientID, sc.ClientSecret), enabled, sc.Priority); err != nil {
		return err
	}

	sc = cfg.Sources["marketcheck"]
	enabled = sc.Enabled && sc.APIKey != ""
	if sc.Enabled && !enabled {
		log.Warn().Msg("marketcheck api key missing, source disabled")
	}
	if err := registry.Register(marketcheck.New(client, sc.APIKey), enabled, sc.Priority); err != nil {
		return err
	}

	sc = cfg.Sources["autotrader"]
	if err := registry.Register(autotrader.New(client), sc.Enabled, sc.Priority); err != nil {
		return err
	}

	sc = cfg.Sources["carfeed"]
	enabled = sc.Enabled && sc.FeedURL != ""
	if sc.Enabled && !enabled {
		log.Warn().Msg("carfeed feed url missing, source disabled")
	}
	if err := registry.Register(carfeed.New(client, sc.FeedURL), enabled, sc.Priority); err != nil {
		return err
	}

	sc = cfg.Sources["local_db"]
	if err := registry.Register(local.New(idx), true, sc.Priority); err != nil {
		return err
	}

	if sc = cfg.Sources["sample"]; sc.Enabled {
		if err := registry.Register(sample.New(42, 200), true, sc.Priority); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) close() {
	if err := a.idx.Close(); err != nil {
		log.Debug().Err(err).Msg("index close failed")
	}
}
