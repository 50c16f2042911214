// Package metrics tracks per-backend call counts and latency.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/nexus-agent/nexus/pkg/models"
)

// Outcome is the result of a single backend attempt.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

type backendStats struct {
	mu      sync.Mutex
	calls   int64
	success int64
	failure int64
	latency time.Duration
}

// Collector accumulates MetricsRecords keyed by backend name. Counters
// are never reset. Each backend has its own lock.
type Collector struct {
	mu       sync.RWMutex
	backends map[string]*backendStats
}

// NewCollector creates a Collector. Names listed up front appear in
// Summary with zero counts before their first call.
func NewCollector(names ...string) *Collector {
	c := &Collector{backends: make(map[string]*backendStats, len(names))}
	for _, n := range names {
		c.backends[n] = &backendStats{}
	}
	return c
}

func (c *Collector) stats(name string) *backendStats {
	c.mu.RLock()
	s, ok := c.backends[name]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.backends[name]; !ok {
		s = &backendStats{}
		c.backends[name] = s
	}
	return s
}

// Record counts one attempt against name.
func (c *Collector) Record(name string, outcome Outcome, latency time.Duration) {
	s := c.stats(name)
	s.mu.Lock()
	s.calls++
	if outcome == Success {
		s.success++
	} else {
		s.failure++
	}
	s.latency += latency
	s.mu.Unlock()
}

// Names returns the known backend names, sorted.
func (c *Collector) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.backends))
	for n := range c.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Records returns a copy of every backend's raw counters.
func (c *Collector) Records() map[string]models.MetricsRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]models.MetricsRecord, len(c.backends))
	for name, s := range c.backends {
		s.mu.Lock()
		out[name] = models.MetricsRecord{
			CallCount:      s.calls,
			SuccessCount:   s.success,
			FailureCount:   s.failure,
			TotalLatencyMs: s.latency.Milliseconds(),
		}
		s.mu.Unlock()
	}
	return out
}

// Summary derives average latency and success rate per backend. A backend
// with no calls reports zero for both.
func (c *Collector) Summary() map[string]models.BackendSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]models.BackendSummary, len(c.backends))
	for name, s := range c.backends {
		s.mu.Lock()
		sum := models.BackendSummary{CallCount: s.calls}
		if s.calls > 0 {
			sum.AvgLatencyMs = float64(s.latency) / float64(time.Millisecond) / float64(s.calls)
			sum.SuccessRate = float64(s.success) / float64(s.calls)
		}
		s.mu.Unlock()
		out[name] = sum
	}
	return out
}

// snapshot reads one backend's counters under its lock.
func (c *Collector) snapshot(name string) (calls, success, failure int64, latency time.Duration) {
	s := c.stats(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.success, s.failure, s.latency
}
