package mcp

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nexus-agent/nexus/pkg/classifier"
	"github.com/nexus-agent/nexus/pkg/dispatch"
	"github.com/nexus-agent/nexus/pkg/models"
)

func formatRoute(res *dispatch.Result) string {
	var b strings.Builder
	b.WriteString(res.Response.Content)
	if !strings.HasSuffix(res.Response.Content, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("\n---\n")
	source := "backend"
	if res.CacheHit {
		source = "cache"
	}
	fmt.Fprintf(&b, "Category: %s (%s)\n", res.Category, res.Reason)
	fmt.Fprintf(&b, "Backend:  %s via %s, model %s\n", res.Backend, source, res.Response.Model)
	fmt.Fprintf(&b, "Attempts: %d, latency %s\n", res.Attempts, res.Latency.Round(time.Millisecond))
	return b.String()
}

func formatDecision(d classifier.Decision) string {
	if d.Keyword == "" {
		return fmt.Sprintf("Category: %s\nReason:   %s\n", d.Category, d.Reason)
	}
	return fmt.Sprintf("Category: %s\nReason:   %s\nKeyword:  %q\n", d.Category, d.Reason, d.Keyword)
}

// formatMetrics renders backend summaries sorted by name.
func formatMetrics(summary map[string]models.BackendSummary) string {
	if len(summary) == 0 {
		return "No backends registered."
	}
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %8s %14s %9s\n", "Backend", "Calls", "Avg Latency", "Success")
	b.WriteString(strings.Repeat("-", 54) + "\n")
	for _, name := range names {
		s := summary[name]
		fmt.Fprintf(&b, "%-20s %8d %12.1fms %8.1f%%\n",
			name, s.CallCount, s.AvgLatencyMs, s.SuccessRate*100)
	}
	return b.String()
}

func formatCacheStats(stats models.CacheStats) string {
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:   %d / %d\n"+
		"  Hits:      %d\n"+
		"  Misses:    %d\n"+
		"  Evictions: %d\n"+
		"  Expired:   %d\n"+
		"  Hit Rate:  %.1f%%\n",
		stats.Entries, stats.Capacity, stats.Hits, stats.Misses,
		stats.Evictions, stats.Expired, stats.HitRate*100)
}

func formatHistory(recs []models.CallRecord) string {
	if len(recs) == 0 {
		return "No routes recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-10s %-16s %5s %8s %10s  %s\n",
		"Time", "Category", "Backend", "Cache", "Attempts", "Latency", "Status")
	b.WriteString(strings.Repeat("-", 90) + "\n")
	for _, r := range recs {
		cacheCol := "miss"
		if r.CacheHit {
			cacheCol = "hit"
		}
		status := "ok"
		if !r.Success {
			status = "failed: " + r.Error
		}
		backend := r.Backend
		if backend == "" {
			backend = "-"
		}
		fmt.Fprintf(&b, "%-20s %-10s %-16s %5s %8d %8dms  %s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Category, backend, cacheCol, r.Attempts, r.LatencyMs, status)
	}
	return b.String()
}
