// Package config loads the service configuration: YAML file for defaults,
// environment for secrets and deploy-time overrides. A missing config file is
// fine; every field has a workable default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration tree.
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Database  DatabaseConfig           `yaml:"database"`
	Redis     RedisConfig              `yaml:"redis"`
	Cache     CacheConfig              `yaml:"cache"`
	Search    SearchConfig             `yaml:"search"`
	Scheduler SchedulerConfig          `yaml:"scheduler"`
	Sources   map[string]SourceConfig  `yaml:"sources"`
	RateLimit map[string]RateLimitRule `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host string `yaml:"host"` // default 127.0.0.1; admin surface is local-only unless overridden
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL string `yaml:"url"` // empty means in-process memory cache
}

type CacheConfig struct {
	HotTTLSecs      int      `yaml:"hot_ttl_secs"`
	WarmTTLSecs     int      `yaml:"warm_ttl_secs"`
	ColdTTLSecs     int      `yaml:"cold_ttl_secs"`
	PrewarmPatterns []string `yaml:"prewarm_patterns"`
	PrewarmQueries  []string `yaml:"prewarm_queries"`
}

type SearchConfig struct {
	DefaultDeadlineSecs int `yaml:"default_deadline_secs"`
	LiveThreshold       int `yaml:"live_threshold"`
	LivePerSource       int `yaml:"live_per_source"`
	MaxOutbound         int `yaml:"max_outbound"`
}

type SchedulerConfig struct {
	Workers          int    `yaml:"workers"`
	QueueSize        int    `yaml:"queue_size"`
	MaxRetries       int    `yaml:"max_retries"`
	BatchSize        int    `yaml:"batch_size"`
	PopularCount     int    `yaml:"popular_count"`
	StaleCutoffHours int    `yaml:"stale_cutoff_hours"`
	InactiveDays     int    `yaml:"inactive_days"`
	StaleSchedule    string `yaml:"stale_schedule"`
	PopularSchedule  string `yaml:"popular_schedule"`
	CleanupSchedule  string `yaml:"cleanup_schedule"`
	ReportSchedule   string `yaml:"report_schedule"`
}

// SourceConfig is one adapter's wiring.
type SourceConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Priority         int    `yaml:"priority"`
	FailureThreshold int    `yaml:"failure_threshold"` // breaker; 0 takes default
	CooldownSecs     int    `yaml:"cooldown_secs"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	APIKey           string `yaml:"api_key"`
	FeedURL          string `yaml:"feed_url"`
}

// RateLimitRule keys are "<source>" or "<source>.<op>".
type RateLimitRule struct {
	Algorithm   string  `yaml:"algorithm"` // leaky_bucket | daily_quota
	RPS         float64 `yaml:"rps"`
	Burst       int     `yaml:"burst"`
	Quota       int     `yaml:"quota"`
	MaxWaitSecs int     `yaml:"max_wait_secs"`
}

// Default returns the baked-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8099},
		Cache: CacheConfig{
			HotTTLSecs:  300,
			WarmTTLSecs: 1800,
			ColdTTLSecs: 7200,
		},
		Search: SearchConfig{
			DefaultDeadlineSecs: 30,
			LiveThreshold:       10,
			LivePerSource:       50,
			MaxOutbound:         64,
		},
		Scheduler: SchedulerConfig{
			Workers:          8,
			QueueSize:        1000,
			MaxRetries:       2,
			BatchSize:        100,
			PopularCount:     50,
			StaleCutoffHours: 24,
			InactiveDays:     30,
		},
		Sources: map[string]SourceConfig{
			"ebay":        {Enabled: true, Priority: 10},
			"marketcheck": {Enabled: true, Priority: 8},
			"autotrader":  {Enabled: true, Priority: 5, FailureThreshold: 3},
			"carfeed":     {Enabled: true, Priority: 4},
			"local_db":    {Enabled: true, Priority: 1},
			"sample":      {Enabled: false, Priority: 0},
		},
		RateLimit: map[string]RateLimitRule{
			"ebay":        {Algorithm: "leaky_bucket", RPS: 5, Burst: 10, MaxWaitSecs: 2},
			"marketcheck": {Algorithm: "daily_quota", Quota: 1000},
			"autotrader":  {Algorithm: "leaky_bucket", RPS: 0.5, Burst: 1, MaxWaitSecs: 5},
			"carfeed":     {Algorithm: "leaky_bucket", RPS: 1, Burst: 2, MaxWaitSecs: 2},
		},
	}
}

// Load reads path (optional) over the defaults, then applies environment
// overrides. A .env file in the working directory is folded into the
// environment first.
func Load(path string) (Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("FINDMYCAR_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("FINDMYCAR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	c.setSource("ebay", func(s *SourceConfig) {
		if v := os.Getenv("EBAY_CLIENT_ID"); v != "" {
			s.ClientID = v
		}
		if v := os.Getenv("EBAY_CLIENT_SECRET"); v != "" {
			s.ClientSecret = v
		}
	})
	c.setSource("marketcheck", func(s *SourceConfig) {
		if v := os.Getenv("MARKETCHECK_API_KEY"); v != "" {
			s.APIKey = v
		}
	})
	c.setSource("carfeed", func(s *SourceConfig) {
		if v := os.Getenv("CARFEED_URL"); v != "" {
			s.FeedURL = v
		}
	})

	if parseBool(os.Getenv("ENABLE_ALL_SOURCES")) {
		for tag, s := range c.Sources {
			if tag == "sample" {
				continue
			}
			s.Enabled = true
			c.Sources[tag] = s
		}
	}
	if parseBool(os.Getenv("FINDMYCAR_ENABLE_SAMPLE")) {
		c.setSource("sample", func(s *SourceConfig) { s.Enabled = true })
	}

	// SOURCE_PRIORITY_<TAG>=<n>
	for tag, s := range c.Sources {
		if v := os.Getenv("SOURCE_PRIORITY_" + strings.ToUpper(tag)); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				s.Priority = p
				c.Sources[tag] = s
			}
		}
	}

	// RATE_LIMIT_<TAG>_<OP>=<n> tunes one bucket: the rate for leaky
	// buckets, the daily quota otherwise. The op suffix is the last
	// underscore-separated token.
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "RATE_LIMIT_") {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		name := strings.ToLower(kv[len("RATE_LIMIT_"):eq])
		sep := strings.LastIndexByte(name, '_')
		if sep <= 0 || sep == len(name)-1 {
			continue
		}
		source, op := name[:sep], name[sep+1:]
		n, err := strconv.ParseFloat(kv[eq+1:], 64)
		if err != nil || n <= 0 {
			continue
		}

		key := source + "." + op
		rule, ok := c.RateLimit[key]
		if !ok {
			rule = c.RateLimit[source]
		}
		switch rule.Algorithm {
		case "daily_quota":
			rule.Quota = int(n)
		default:
			if rule.Algorithm == "" {
				rule.Algorithm = "leaky_bucket"
			}
			rule.RPS = n
			if rule.Burst <= 0 {
				rule.Burst = 1
			}
		}
		c.RateLimit[key] = rule
	}

	if v := os.Getenv("CACHE_TTL_HOT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Cache.HotTTLSecs = secs
		}
	}
	if v := os.Getenv("CACHE_TTL_WARM"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Cache.WarmTTLSecs = secs
		}
	}
	if v := os.Getenv("CACHE_TTL_COLD"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Cache.ColdTTLSecs = secs
		}
	}
}

func (c *Config) setSource(tag string, fn func(*SourceConfig)) {
	s := c.Sources[tag]
	fn(&s)
	c.Sources[tag] = s
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Cache.HotTTLSecs <= 0 || c.Cache.WarmTTLSecs <= 0 || c.Cache.ColdTTLSecs <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	for key, r := range c.RateLimit {
		switch r.Algorithm {
		case "leaky_bucket":
			if r.RPS <= 0 {
				return fmt.Errorf("rate_limit %q: leaky_bucket needs rps > 0", key)
			}
		case "daily_quota":
			if r.Quota <= 0 {
				return fmt.Errorf("rate_limit %q: daily_quota needs quota > 0", key)
			}
		case "":
		default:
			return fmt.Errorf("rate_limit %q: unknown algorithm %q", key, r.Algorithm)
		}
	}
	return nil
}

// HotTTL and friends convert the stored seconds to durations.
func (c CacheConfig) HotTTL() time.Duration  { return time.Duration(c.HotTTLSecs) * time.Second }
func (c CacheConfig) WarmTTL() time.Duration { return time.Duration(c.WarmTTLSecs) * time.Second }
func (c CacheConfig) ColdTTL() time.Duration { return time.Duration(c.ColdTTLSecs) * time.Second }

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
