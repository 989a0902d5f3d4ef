package models

import "time"

// CacheEntry is a reference payload held by the persistent cache tier.
// Payload is base64 text; Key is the entry's source ref.
type CacheEntry struct {
	Key      string    `json:"key"`
	Payload  string    `json:"payload"`
	CachedAt time.Time `json:"cached_at"`
}

// CacheStats reports payload cache tier sizes and lookup counters.
type CacheStats struct {
	VolatileCount   int   `json:"volatile_count"`
	PersistentCount int   `json:"persistent_count"`
	Hits            int64 `json:"hits"`
	Misses          int64 `json:"misses"`
}

// CoverageStats reports how much of the gallery has a resolved payload.
type CoverageStats struct {
	CachedEntries int     `json:"cached_entries"`
	TotalEntries  int     `json:"total_entries"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
}

// CacheInfo is the aggregated read model served by the status facade.
type CacheInfo struct {
	Cache       CacheStats       `json:"cache"`
	Coverage    CoverageStats    `json:"coverage"`
	Performance PerformanceStats `json:"performance"`
}

// PreloadResult counts the outcome of a best-effort preload.
type PreloadResult struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}
