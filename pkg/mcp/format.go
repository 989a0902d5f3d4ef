package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/facegate/pkg/models"
)

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// formatCacheInfo formats the aggregated cache read model as text.
func formatCacheInfo(info models.CacheInfo) string {
	c := info.Cache
	lookups := c.Hits + c.Misses
	hitRate := float64(0)
	if lookups > 0 {
		hitRate = float64(c.Hits) / float64(lookups) * 100
	}

	var b strings.Builder
	b.WriteString("Payload Cache\n")
	fmt.Fprintf(&b, "  Volatile:   %d\n", c.VolatileCount)
	fmt.Fprintf(&b, "  Persistent: %d\n", c.PersistentCount)
	fmt.Fprintf(&b, "  Hits:       %d\n", c.Hits)
	fmt.Fprintf(&b, "  Misses:     %d\n", c.Misses)
	fmt.Fprintf(&b, "  Hit Rate:   %.1f%%\n", hitRate)
	b.WriteString("Gallery Coverage\n")
	fmt.Fprintf(&b, "  Cached:     %d/%d (%.1f%%)\n",
		info.Coverage.CachedEntries, info.Coverage.TotalEntries, info.Coverage.CacheHitRate*100)
	b.WriteString(formatPerformance(info.Performance))
	return b.String()
}

// formatPerformance formats performance stats as text.
func formatPerformance(p models.PerformanceStats) string {
	target := "no"
	if p.WithinTarget {
		target = "yes"
	}
	return fmt.Sprintf("Performance\n"+
		"  Runs:          %d\n"+
		"  Average:       %.1fms\n"+
		"  Recent:        %.1fms\n"+
		"  Success Rate:  %.1f%%\n"+
		"  Within Target: %s\n",
		p.TotalRuns, ms(p.AverageProcessingTime), ms(p.RecentAverageTime), p.SuccessRate*100, target)
}

func formatPreload(r models.PreloadResult) string {
	return fmt.Sprintf("Preloaded %d payloads, %d failed.", r.Successful, r.Failed)
}

// formatOutcome formats a search outcome as text.
func formatOutcome(o models.MatchOutcome) string {
	switch {
	case o.TimedOut:
		return fmt.Sprintf("Search timed out after %.1fms.", ms(o.ProcessingTime))
	case o.Matched:
		return fmt.Sprintf("Matched %s (similarity %.3f) in %.1fms.", o.BestID, o.BestScore, ms(o.ProcessingTime))
	default:
		return fmt.Sprintf("No match. Best candidate %s (similarity %.3f) in %.1fms.", o.BestID, o.BestScore, ms(o.ProcessingTime))
	}
}

// formatRuns formats history rows as a text table.
func formatRuns(runs []models.RunRecord) string {
	if len(runs) == 0 {
		return "No search runs recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-10s %-20s %6s %10s %8s %8s\n",
		"Time", "State", "Best", "Score", "Time (ms)", "Gallery", "Cached%")
	b.WriteString(strings.Repeat("-", 88) + "\n")
	for _, r := range runs {
		best := r.BestID
		if len(best) > 20 {
			best = best[:17] + "..."
		}
		fmt.Fprintf(&b, "%-20s %-10s %-20s %6.3f %10.1f %8d %7.1f%%\n",
			r.Timestamp.Format("2006-01-02 15:04:05"),
			r.State, best, r.BestScore, ms(r.ProcessingTime), r.GallerySize, r.CacheHitRate*100)
	}
	return b.String()
}

// formatRunSummary formats per-state aggregates as a text table.
func formatRunSummary(rows []models.RunSummary) string {
	if len(rows) == 0 {
		return "No search runs recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %8s %10s %10s %8s\n", "State", "Runs", "Avg (ms)", "Max (ms)", "Cached%")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-10s %8d %10.1f %10d %7.1f%%\n",
			r.State, r.Runs, r.AvgProcessingMs, r.MaxProcessingMs, r.AvgCacheHitRate*100)
	}
	return b.String()
}
