// Package monitor keeps a bounded window of search run telemetry.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pario-ai/facegate/pkg/metrics"
	"github.com/pario-ai/facegate/pkg/models"
)

const (
	DefaultMaxMetrics    = 100
	DefaultSlowThreshold = 800 * time.Millisecond
	DefaultTarget        = 500 * time.Millisecond
	DefaultRecentWindow  = 5
)

// Sink durably stores finished runs.
type Sink interface {
	Record(ctx context.Context, run models.RunRecord) error
}

// Options configures a Monitor. Zero values take the defaults.
type Options struct {
	MaxMetrics    int
	SlowThreshold time.Duration
	Target        time.Duration
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	Sink          Sink
}

// Monitor is a fixed-capacity FIFO ring of performance samples.
type Monitor struct {
	maxMetrics    int
	slowThreshold time.Duration
	target        time.Duration
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	sink          Sink

	mu      sync.RWMutex
	samples []models.PerformanceSample
	next    int
	full    bool

	pending sync.WaitGroup
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	if opts.MaxMetrics <= 0 {
		opts.MaxMetrics = DefaultMaxMetrics
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = DefaultSlowThreshold
	}
	if opts.Target <= 0 {
		opts.Target = DefaultTarget
	}
	return &Monitor{
		maxMetrics:    opts.MaxMetrics,
		slowThreshold: opts.SlowThreshold,
		target:        opts.Target,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		sink:          opts.Sink,
		samples:       make([]models.PerformanceSample, opts.MaxMetrics),
	}
}

// Record appends sample, overwriting the oldest once the ring is full.
// Samples slower than the slow threshold raise a warning.
func (m *Monitor) Record(sample models.PerformanceSample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.samples[m.next] = sample
	m.next = (m.next + 1) % m.maxMetrics
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()

	m.logger.Debug().
		Dur("processing_time", sample.ProcessingTime).
		Dur("average", m.AverageProcessingTime()).
		Float64("success_rate", m.SuccessRate()).
		Msg("search performance")

	if sample.ProcessingTime > m.slowThreshold {
		m.metrics.IncSlowSearch()
		m.logger.Warn().
			Dur("processing_time", sample.ProcessingTime).
			Dur("threshold", m.slowThreshold).
			Msg("slow search detected")
	}
}

// RecordRun records the run's sample and hands the full run to the sink.
// The sink write happens in the background; Flush waits for it.
func (m *Monitor) RecordRun(run models.RunRecord) {
	m.Record(run.PerformanceSample)
	m.metrics.ObserveSearch(string(run.State), run.ProcessingTime)

	if m.sink == nil {
		return
	}
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		if err := m.sink.Record(context.Background(), run); err != nil {
			m.logger.Warn().Err(err).Str("run_id", run.ID).Msg("persist run history")
		}
	}()
}

// Flush blocks until pending sink writes finish.
func (m *Monitor) Flush() {
	m.pending.Wait()
}

// Samples returns the retained samples, oldest first.
func (m *Monitor) Samples() []models.PerformanceSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ordered()
}

func (m *Monitor) ordered() []models.PerformanceSample {
	if !m.full {
		return append([]models.PerformanceSample(nil), m.samples[:m.next]...)
	}
	out := make([]models.PerformanceSample, 0, m.maxMetrics)
	out = append(out, m.samples[m.next:]...)
	return append(out, m.samples[:m.next]...)
}

// Len returns the number of retained samples.
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return m.maxMetrics
	}
	return m.next
}

// AverageProcessingTime is the mean over all retained samples, 0 when empty.
func (m *Monitor) AverageProcessingTime() time.Duration {
	return meanDuration(m.Samples())
}

// SuccessRate is the fraction of retained samples that matched, 0 when empty.
func (m *Monitor) SuccessRate() float64 {
	samples := m.Samples()
	if len(samples) == 0 {
		return 0
	}
	var matched int
	for _, s := range samples {
		if s.Matched {
			matched++
		}
	}
	return float64(matched) / float64(len(samples))
}

// RecentAverage is the mean of the last n samples, or of all of them when fewer
// are retained. It is 0 for an empty monitor.
func (m *Monitor) RecentAverage(n int) time.Duration {
	if n <= 0 {
		n = DefaultRecentWindow
	}
	samples := m.Samples()
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	return meanDuration(samples)
}

// Stats returns the aggregated read model.
func (m *Monitor) Stats() models.PerformanceStats {
	avg := m.AverageProcessingTime()
	return models.PerformanceStats{
		AverageProcessingTime: avg,
		RecentAverageTime:     m.RecentAverage(DefaultRecentWindow),
		SuccessRate:           m.SuccessRate(),
		TotalRuns:             m.Len(),
		WithinTarget:          avg <= m.target,
	}
}

// Clear drops every retained sample.
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = make([]models.PerformanceSample, m.maxMetrics)
	m.next = 0
	m.full = false
}

func meanDuration(samples []models.PerformanceSample) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s.ProcessingTime
	}
	return sum / time.Duration(len(samples))
}
