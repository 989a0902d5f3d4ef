package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pario-ai/facegate/pkg/attendance"
	"github.com/pario-ai/facegate/pkg/cache"
	badgerstore "github.com/pario-ai/facegate/pkg/cache/badger"
	redisstore "github.com/pario-ai/facegate/pkg/cache/redis"
	sqlitestore "github.com/pario-ai/facegate/pkg/cache/sqlite"
	"github.com/pario-ai/facegate/pkg/comparator"
	"github.com/pario-ai/facegate/pkg/config"
	"github.com/pario-ai/facegate/pkg/fetch"
	"github.com/pario-ai/facegate/pkg/gallery"
	"github.com/pario-ai/facegate/pkg/logging"
	"github.com/pario-ai/facegate/pkg/matcher"
	"github.com/pario-ai/facegate/pkg/metrics"
	"github.com/pario-ai/facegate/pkg/models"
	"github.com/pario-ai/facegate/pkg/monitor"
	"github.com/pario-ai/facegate/pkg/status"
	"github.com/pario-ai/facegate/pkg/tracker"
)

const defaultConfigPath = "facegate.yaml"

var errComparatorNotConfigured = errors.New("comparator.url is not configured")

// loadConfig reads the config file. A missing default file falls back to
// built-in defaults; a missing file named explicitly is an error.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flag("config").Changed {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// app holds the wired services shared by every command.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry

	payloads   *cache.PayloadCache
	history    *tracker.SQLiteTracker
	monitor    *monitor.Monitor
	matcher    *matcher.Matcher
	status     *status.Facade
	attendance *attendance.Service

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logging.New(cfg.Log),
		registry: prometheus.NewRegistry(),
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	entries, err := loadGallery(cfg.Gallery)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, store.Close)

	a.payloads, err = cache.New(ctx, store, fetch.New(cfg.Fetch, logging.Component(logger, "fetch")),
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithMaxSize(cfg.Cache.MaxSize),
		cache.WithLogger(logging.Component(logger, "cache")),
		cache.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("init payload cache: %w", err)
	}

	a.history, err = tracker.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init run history: %w", err)
	}
	a.closers = append(a.closers, a.history.Close)

	a.monitor = monitor.New(monitor.Options{
		MaxMetrics:    cfg.Monitor.MaxMetrics,
		SlowThreshold: cfg.Monitor.SlowThreshold,
		Target:        cfg.Monitor.Target,
		Logger:        logging.Component(logger, "monitor"),
		Metrics:       m,
		Sink:          a.history,
	})
	// Pending history writes must land before the tracker closes.
	a.closers = append(a.closers, func() error { a.monitor.Flush(); return nil })

	a.matcher = matcher.New(a.payloads, newComparator(cfg.Comparator, logger, m), a.monitor, matcher.Options{
		Threshold:      cfg.Matcher.Threshold,
		MaxParallel:    cfg.Matcher.MaxParallel,
		Timeout:        cfg.Matcher.Timeout,
		DetachedBudget: cfg.Matcher.DetachedBudget,
		Gallery:        entries,
		Logger:         logging.Component(logger, "matcher"),
	})
	a.status = status.New(a.payloads, a.matcher, a.monitor, logging.Component(logger, "status"))

	local, err := attendance.NewStore(cfg.AttendanceDBPath(), cfg.Attendance.RetentionDays)
	if err != nil {
		return fmt.Errorf("init attendance store: %w", err)
	}
	a.closers = append(a.closers, local.Close)

	var remote attendance.Remote
	if cfg.Attendance.RemoteURL != "" {
		remote = attendance.NewHTTPRemote(cfg.Attendance.RemoteURL, cfg.Attendance.Timeout)
	}
	a.attendance = attendance.NewService(local, remote, logging.Component(logger, "attendance"))

	logger.Debug().
		Str("cache_backend", cfg.Cache.Backend).
		Int("gallery", len(entries)).
		Msg("services wired")
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadGallery(cfg config.GalleryConfig) ([]models.GalleryEntry, error) {
	var base []models.GalleryEntry
	if cfg.Path != "" {
		loaded, err := gallery.Load(cfg.Path)
		if err != nil {
			return nil, err
		}
		base = loaded
	}
	return gallery.Merge(base, cfg.Entries)
}

func openStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "badger":
		opts := []badgerstore.Option{badgerstore.WithDir(cfg.Cache.BadgerDir)}
		if cfg.Cache.KeyPrefix != "" {
			opts = append(opts, badgerstore.WithKeyPrefix(cfg.Cache.KeyPrefix))
		}
		return badgerstore.New(badgerstore.DefaultConfig(), opts...)
	case "redis":
		rc := redisstore.DefaultConfig()
		rc.Address = cfg.Cache.RedisAddr
		rc.Password = cfg.Cache.RedisPassword
		rc.DB = cfg.Cache.RedisDB
		if cfg.Cache.KeyPrefix != "" {
			rc.KeyPrefix = cfg.Cache.KeyPrefix
		}
		return redisstore.New(ctx, rc)
	default:
		return sqlitestore.New(cfg.DBPath)
	}
}

func newComparator(cfg config.ComparatorConfig, logger zerolog.Logger, m *metrics.Metrics) *comparator.Gateway {
	cl := logging.Component(logger, "comparator")
	if cfg.URL == "" {
		return comparator.NewGateway(comparator.Func(func(context.Context, string, string) (float64, error) {
			return 0, errComparatorNotConfigured
		}), cl, m)
	}
	return comparator.NewGateway(comparator.NewClient(cfg, cl), cl, m)
}
