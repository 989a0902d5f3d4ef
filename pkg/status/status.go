// Package status aggregates cache, coverage and performance state into one
// read model and exposes the maintenance operations callers need.
package status

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/facegate/pkg/cache"
	"github.com/pario-ai/facegate/pkg/matcher"
	"github.com/pario-ai/facegate/pkg/models"
	"github.com/pario-ai/facegate/pkg/monitor"
)

// DefaultPreloadParallelism bounds concurrent fetches during Preload.
const DefaultPreloadParallelism = 4

// Facade is the status and maintenance surface.
type Facade struct {
	payloads *cache.PayloadCache
	matcher  *matcher.Matcher
	monitor  *monitor.Monitor
	logger   zerolog.Logger
	limit    int
}

// New creates a Facade.
func New(payloads *cache.PayloadCache, m *matcher.Matcher, mon *monitor.Monitor, logger zerolog.Logger) *Facade {
	return &Facade{payloads: payloads, matcher: m, monitor: mon, logger: logger, limit: DefaultPreloadParallelism}
}

// CacheInfo returns payload cache stats, gallery coverage and performance stats.
func (f *Facade) CacheInfo() models.CacheInfo {
	return models.CacheInfo{
		Cache:       f.payloads.Stats(),
		Coverage:    f.matcher.Coverage(),
		Performance: f.monitor.Stats(),
	}
}

// PerformanceStats returns the performance read model.
func (f *Facade) PerformanceStats() models.PerformanceStats {
	return f.monitor.Stats()
}

// ClearAll empties the payload cache and resets gallery coverage. The gallery
// preload restarts in the background.
func (f *Facade) ClearAll(ctx context.Context) error {
	if err := f.payloads.Clear(ctx); err != nil {
		return fmt.Errorf("clear payload cache: %w", err)
	}
	f.matcher.ClearCache(ctx)
	f.logger.Info().Msg("cache cleared, gallery preload restarted")
	return nil
}

// Preload fetches and caches every ref, counting successes and failures.
// Individual failures are logged, never returned.
func (f *Facade) Preload(ctx context.Context, refs []string) models.PreloadResult {
	var ok, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(f.limit)
	for _, ref := range refs {
		g.Go(func() error {
			if _, err := f.payloads.FetchAndCache(ctx, ref); err != nil {
				failed.Add(1)
				f.logger.Warn().Err(err).Str("source", ref).Msg("preload failed")
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := models.PreloadResult{Successful: int(ok.Load()), Failed: int(failed.Load())}
	f.logger.Info().Int("successful", result.Successful).Int("failed", result.Failed).Msg("preload finished")
	return result
}
