package models

import "time"

// PerformanceSample is the telemetry recorded at the end of every search run.
type PerformanceSample struct {
	ProcessingTime time.Duration `json:"processing_time_ns"`
	CacheHitRate   float64       `json:"cache_hit_rate"`
	GallerySize    int           `json:"gallery_size"`
	Matched        bool          `json:"matched"`
	Timestamp      time.Time     `json:"timestamp"`
}

// PerformanceStats summarises the retained performance samples.
type PerformanceStats struct {
	AverageProcessingTime time.Duration `json:"average_processing_time_ns"`
	RecentAverageTime     time.Duration `json:"recent_average_time_ns"`
	SuccessRate           float64       `json:"success_rate"`
	TotalRuns             int           `json:"total_runs"`
	WithinTarget          bool          `json:"within_target"`
}

// RunRecord is a durable history row for one search run.
type RunRecord struct {
	ID        string      `json:"id"`
	State     SearchState `json:"state"`
	BestID    string      `json:"best_id"`
	BestScore float64     `json:"best_score"`
	PerformanceSample
}

// RunSummary aggregates history rows sharing a terminal state.
type RunSummary struct {
	State           SearchState `json:"state"`
	Runs            int         `json:"runs"`
	AvgProcessingMs float64     `json:"avg_processing_ms"`
	MaxProcessingMs int64       `json:"max_processing_ms"`
	AvgCacheHitRate float64     `json:"avg_cache_hit_rate"`
}
