package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pario-ai/facegate/pkg/logging"
	"github.com/pario-ai/facegate/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all facegate configuration.
type Config struct {
	Listen     string           `yaml:"listen"`
	DBPath     string           `yaml:"db_path"`
	Log        logging.Config   `yaml:"log"`
	Gallery    GalleryConfig    `yaml:"gallery"`
	Cache      CacheConfig      `yaml:"cache"`
	Matcher    MatcherConfig    `yaml:"matcher"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Comparator ComparatorConfig `yaml:"comparator"`
	Attendance AttendanceConfig `yaml:"attendance"`
}

// GalleryConfig points at the reference gallery. Entries listed inline are
// appended after those loaded from Path.
type GalleryConfig struct {
	Path    string                `yaml:"path"`
	Entries []models.GalleryEntry `yaml:"entries"`
}

// CacheConfig controls the payload cache.
// Backend is "sqlite" (default), "badger", "redis" or "memory".
type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	MaxSize       int           `yaml:"max_size"`
	KeyPrefix     string        `yaml:"key_prefix"`
	BadgerDir     string        `yaml:"badger_dir"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

// MatcherConfig controls the batched match search.
type MatcherConfig struct {
	Threshold      float64       `yaml:"threshold"`
	MaxParallel    int           `yaml:"max_parallel"`
	Timeout        time.Duration `yaml:"timeout"`
	DetachedBudget time.Duration `yaml:"detached_budget"`
}

// MonitorConfig controls the performance monitor. HistoryDays bounds how long
// the durable run history is kept; 0 keeps it forever.
type MonitorConfig struct {
	MaxMetrics    int           `yaml:"max_metrics"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`
	Target        time.Duration `yaml:"target"`
	HistoryDays   int           `yaml:"history_days"`
}

// FetchConfig controls reference payload fetching.
type FetchConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxBytes        int64         `yaml:"max_bytes"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// ComparatorConfig defines the remote face comparison service.
type ComparatorConfig struct {
	URL             string        `yaml:"url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// AttendanceConfig controls attendance marking. An empty RemoteURL keeps
// records local only.
type AttendanceConfig struct {
	RemoteURL     string        `yaml:"remote_url"`
	Timeout       time.Duration `yaml:"timeout"`
	DBPath        string        `yaml:"db_path"`
	RetentionDays int           `yaml:"retention_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "facegate.db",
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Cache: CacheConfig{
			Backend:   "sqlite",
			TTL:       24 * time.Hour,
			MaxSize:   50,
			BadgerDir: "facegate-cache",
			RedisAddr: "localhost:6379",
		},
		Matcher: MatcherConfig{
			Threshold:      0.85,
			MaxParallel:    4,
			Timeout:        600 * time.Millisecond,
			DetachedBudget: 30 * time.Second,
		},
		Monitor: MonitorConfig{
			MaxMetrics:    100,
			SlowThreshold: 800 * time.Millisecond,
			Target:        500 * time.Millisecond,
			HistoryDays:   30,
		},
		Fetch: FetchConfig{
			Timeout:         10 * time.Second,
			MaxBytes:        10 << 20,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Comparator: ComparatorConfig{
			Timeout:         2 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 10 * time.Second,
		},
		Attendance: AttendanceConfig{
			Timeout:       5 * time.Second,
			RetentionDays: 90,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "sqlite", "badger", "redis", "memory":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("config: cache.max_size must be positive, got %d", c.Cache.MaxSize)
	}
	if c.Matcher.Threshold <= 0 || c.Matcher.Threshold > 1 {
		return fmt.Errorf("config: matcher.threshold must be in (0,1], got %v", c.Matcher.Threshold)
	}
	if c.Matcher.MaxParallel <= 0 {
		return fmt.Errorf("config: matcher.max_parallel must be positive, got %d", c.Matcher.MaxParallel)
	}
	if c.Matcher.Timeout <= 0 {
		return fmt.Errorf("config: matcher.timeout must be positive")
	}
	if c.Monitor.MaxMetrics <= 0 {
		return fmt.Errorf("config: monitor.max_metrics must be positive, got %d", c.Monitor.MaxMetrics)
	}
	return nil
}

// AttendanceDBPath returns the attendance database path, defaulting to DBPath.
func (c *Config) AttendanceDBPath() string {
	if c.Attendance.DBPath != "" {
		return c.Attendance.DBPath
	}
	return c.DBPath
}
