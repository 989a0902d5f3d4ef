// Package matcher runs the batched, deadline-bound search of a sample against
// the reference gallery.
//
// A run walks the gallery in consecutive batches of ceil(n/MaxParallel)
// entries, comparing each entry of a batch concurrently with at most
// MaxParallel comparisons in flight. The first candidate at or above the
// threshold, in gallery order within its batch, ends the run. The whole run
// races a wall-clock timeout; work still in flight when the run settles keeps
// going in the background under a detached budget and its result is dropped.
package matcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/facegate/pkg/models"
)

const (
	DefaultThreshold      = 0.85
	DefaultMaxParallel    = 4
	DefaultTimeout        = 600 * time.Millisecond
	DefaultDetachedBudget = 30 * time.Second
)

// PayloadSource resolves a source ref to its base64 payload, fetching on a miss.
type PayloadSource interface {
	FetchAndCache(ctx context.Context, sourceRef string) (string, error)
}

// Comparator scores a sample payload against a reference payload.
type Comparator interface {
	Compare(ctx context.Context, sample, reference string) (float64, error)
}

// Recorder receives every finished run.
type Recorder interface {
	RecordRun(run models.RunRecord)
}

// ProgressFunc is told how many gallery entries have been processed after each batch.
type ProgressFunc func(processed, total int)

// Options configures a Matcher. Zero values take the defaults.
type Options struct {
	Threshold      float64
	MaxParallel    int
	Timeout        time.Duration
	DetachedBudget time.Duration
	// Gallery is preloaded by Start and reported by Coverage.
	Gallery []models.GalleryEntry
	Logger  zerolog.Logger
}

type coverageEntry struct {
	sourceRef string
	payload   string
}

// Matcher searches samples against a gallery.
type Matcher struct {
	payloads PayloadSource
	cmp      Comparator
	recorder Recorder

	threshold      float64
	maxParallel    int
	timeout        time.Duration
	detachedBudget time.Duration
	gallery        []models.GalleryEntry
	logger         zerolog.Logger

	mu       sync.RWMutex
	coverage map[string]coverageEntry
	// ready is closed once the current preload generation finishes.
	ready chan struct{}
}

// New creates a Matcher. recorder may be nil.
func New(payloads PayloadSource, cmp Comparator, recorder Recorder, opts Options) *Matcher {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.DetachedBudget <= 0 {
		opts.DetachedBudget = DefaultDetachedBudget
	}
	ready := make(chan struct{})
	close(ready)
	return &Matcher{
		payloads:       payloads,
		cmp:            cmp,
		recorder:       recorder,
		threshold:      opts.Threshold,
		maxParallel:    opts.MaxParallel,
		timeout:        opts.Timeout,
		detachedBudget: opts.DetachedBudget,
		gallery:        append([]models.GalleryEntry(nil), opts.Gallery...),
		logger:         opts.Logger,
		coverage:       make(map[string]coverageEntry),
		ready:          ready,
	}
}

// Gallery returns a copy of the configured gallery.
func (m *Matcher) Gallery() []models.GalleryEntry {
	return append([]models.GalleryEntry(nil), m.gallery...)
}

// Start preloads the configured gallery in the background. Searches issued
// before the preload finishes wait for it.
func (m *Matcher) Start(ctx context.Context) <-chan struct{} {
	return m.startPreload(ctx)
}

// Ready returns a channel closed when the current preload has finished.
func (m *Matcher) Ready() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// ClearCache forgets gallery coverage and preloads the gallery again in the
// background.
func (m *Matcher) ClearCache(ctx context.Context) <-chan struct{} {
	m.mu.Lock()
	m.coverage = make(map[string]coverageEntry)
	m.mu.Unlock()
	return m.startPreload(context.WithoutCancel(ctx))
}

func (m *Matcher) startPreload(ctx context.Context) <-chan struct{} {
	ready := make(chan struct{})
	m.mu.Lock()
	m.ready = ready
	m.mu.Unlock()

	gallery := m.gallery
	go func() {
		defer close(ready)
		m.preload(ctx, gallery)
	}()
	return ready
}

func (m *Matcher) preload(ctx context.Context, gallery []models.GalleryEntry) {
	m.logger.Info().Int("entries", len(gallery)).Msg("preloading gallery payloads")

	var loaded atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(m.maxParallel)
	for _, entry := range gallery {
		g.Go(func() error {
			payload, err := m.payloads.FetchAndCache(ctx, entry.SourceRef)
			if err != nil {
				m.logger.Warn().Err(err).Str("gallery_id", entry.ID).Msg("preload failed")
				return nil
			}
			m.cover(entry, payload)
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info().Int64("loaded", loaded.Load()).Int("entries", len(gallery)).Msg("gallery preload finished")
}

func (m *Matcher) cover(entry models.GalleryEntry, payload string) {
	m.mu.Lock()
	m.coverage[entry.ID] = coverageEntry{sourceRef: entry.SourceRef, payload: payload}
	m.mu.Unlock()
}

func (m *Matcher) covered(entry models.GalleryEntry) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coverage[entry.ID]
	if !ok || c.sourceRef != entry.SourceRef {
		return "", false
	}
	return c.payload, true
}

// Coverage reports how much of the configured gallery has a resolved payload.
func (m *Matcher) Coverage() models.CoverageStats {
	cached := m.coveredCount(m.gallery)
	stats := models.CoverageStats{CachedEntries: cached, TotalEntries: len(m.gallery)}
	if stats.TotalEntries > 0 {
		stats.CacheHitRate = float64(cached) / float64(stats.TotalEntries)
	}
	return stats
}

func (m *Matcher) coveredCount(gallery []models.GalleryEntry) int {
	var n int
	for _, e := range gallery {
		if _, ok := m.covered(e); ok {
			n++
		}
	}
	return n
}

// Search compares sample against gallery and reports the outcome. It never
// fails: unresolvable entries and comparator errors are skipped, and a run
// that exceeds the timeout or whose ctx ends first reports TimedOut.
// onProgress may be nil; it is not called after Search returns.
func (m *Matcher) Search(ctx context.Context, sample string, gallery []models.GalleryEntry, onProgress ProgressFunc) models.MatchOutcome {
	start := time.Now()

	if len(gallery) == 0 {
		outcome := models.MatchOutcome{BestID: models.UnknownID, State: models.StateNoMatch}
		return m.finish(outcome, gallery, start)
	}

	var (
		progressMu sync.Mutex
		settled    bool
	)
	progress := func(processed, total int) {
		if onProgress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		if !settled {
			onProgress(processed, total)
		}
	}

	// The run owns its accumulator and hands back a copy, so nothing it
	// touches is shared with this goroutine once the race is decided.
	done := make(chan models.MatchOutcome, 1)
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.detachedBudget)
	go func() {
		defer cancel()
		done <- m.run(workCtx, sample, gallery, progress)
	}()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	var outcome models.MatchOutcome
	select {
	case outcome = <-done:
	case <-timer.C:
		outcome = timedOut()
	case <-ctx.Done():
		outcome = timedOut()
	}
	progressMu.Lock()
	settled = true
	progressMu.Unlock()

	return m.finish(outcome, gallery, start)
}

func timedOut() models.MatchOutcome {
	return models.MatchOutcome{BestID: models.UnknownID, TimedOut: true, State: models.StateTimedOut}
}

func (m *Matcher) finish(outcome models.MatchOutcome, gallery []models.GalleryEntry, start time.Time) models.MatchOutcome {
	outcome.ProcessingTime = time.Since(start)

	var hitRate float64
	if len(gallery) > 0 {
		hitRate = float64(m.coveredCount(gallery)) / float64(len(gallery))
	}

	m.logger.Info().
		Str("state", string(outcome.State)).
		Str("best_id", outcome.BestID).
		Float64("best_score", outcome.BestScore).
		Dur("processing_time", outcome.ProcessingTime).
		Int("gallery_size", len(gallery)).
		Msg("search finished")

	if m.recorder != nil {
		m.recorder.RecordRun(models.RunRecord{
			ID:        uuid.NewString(),
			State:     outcome.State,
			BestID:    outcome.BestID,
			BestScore: outcome.BestScore,
			PerformanceSample: models.PerformanceSample{
				ProcessingTime: outcome.ProcessingTime,
				CacheHitRate:   hitRate,
				GallerySize:    len(gallery),
				Matched:        outcome.Matched,
				Timestamp:      time.Now(),
			},
		})
	}
	return outcome
}

func (m *Matcher) run(ctx context.Context, sample string, gallery []models.GalleryEntry, progress ProgressFunc) models.MatchOutcome {
	ready := m.Ready()
	select {
	case <-ready:
	default:
		m.logger.Debug().Str("state", string(models.StatePreloading)).Msg("waiting for gallery preload")
		select {
		case <-ready:
		case <-ctx.Done():
			return timedOut()
		}
	}

	m.logger.Debug().Str("state", string(models.StateSearching)).Int("gallery_size", len(gallery)).Msg("search started")
	n := len(gallery)
	batchSize := (n + m.maxParallel - 1) / m.maxParallel
	best := models.MatchCandidate{GalleryID: models.UnknownID}

	for i := 0; i < n; i += batchSize {
		end := min(i+batchSize, n)
		winner, matched := m.runBatch(ctx, sample, gallery[i:end], &best)
		progress(end, n)
		if matched {
			return models.MatchOutcome{
				BestID:    winner.GalleryID,
				BestScore: winner.Score,
				Matched:   true,
				State:     models.StateMatched,
			}
		}
		if ctx.Err() != nil {
			return timedOut()
		}
	}

	return models.MatchOutcome{
		BestID:    best.GalleryID,
		BestScore: best.Score,
		Matched:   best.Score >= m.threshold,
		State:     models.StateNoMatch,
	}
}

type slot struct {
	idx  int
	cand models.MatchCandidate
	ok   bool
}

// runBatch evaluates batch concurrently and scans results in gallery order as
// they become available. best is updated only by strictly higher scores, so
// the earlier candidate wins ties. The first matched candidate in scan order
// ends the batch; siblings still running are abandoned.
func (m *Matcher) runBatch(ctx context.Context, sample string, batch []models.GalleryEntry, best *models.MatchCandidate) (models.MatchCandidate, bool) {
	results := make(chan slot, len(batch))

	g := new(errgroup.Group)
	g.SetLimit(min(len(batch), m.maxParallel))
	go func() {
		for idx, entry := range batch {
			g.Go(func() error {
				cand, ok := m.evaluate(ctx, sample, entry)
				results <- slot{idx: idx, cand: cand, ok: ok}
				return nil
			})
		}
		_ = g.Wait()
	}()

	completed := make([]*slot, len(batch))
	next := 0
	for received := 0; received < len(batch); received++ {
		var s slot
		select {
		case s = <-results:
		case <-ctx.Done():
			return models.MatchCandidate{}, false
		}
		completed[s.idx] = &s

		for next < len(batch) && completed[next] != nil {
			r := completed[next]
			next++
			if !r.ok {
				continue
			}
			if r.cand.Score > best.Score {
				*best = r.cand
			}
			if r.cand.Matched {
				return r.cand, true
			}
		}
	}
	return models.MatchCandidate{}, false
}

func (m *Matcher) evaluate(ctx context.Context, sample string, entry models.GalleryEntry) (models.MatchCandidate, bool) {
	payload, ok := m.covered(entry)
	if !ok {
		p, err := m.payloads.FetchAndCache(ctx, entry.SourceRef)
		if err != nil {
			m.logger.Debug().Err(err).Str("gallery_id", entry.ID).Msg("skipping unresolvable entry")
			return models.MatchCandidate{}, false
		}
		payload = p
		m.cover(entry, payload)
	}

	score, err := m.cmp.Compare(ctx, sample, payload)
	if err != nil {
		m.logger.Debug().Err(err).Str("gallery_id", entry.ID).Msg("skipping entry after compare failure")
		return models.MatchCandidate{}, false
	}
	return models.MatchCandidate{
		GalleryID: entry.ID,
		Score:     score,
		Matched:   score >= m.threshold,
	}, true
}
