// Package observability provides pipeline counters for monitoring event
// classification, historization and quarantine delivery.
package observability

import (
	"sort"
	"sync"
	"time"
)

// Counter names a pipeline counter.
type Counter string

const (
	EventsReceived    Counter = "events_received"
	EventsValid       Counter = "events_valid"
	EventsInvalid     Counter = "events_invalid"
	SyncInserted      Counter = "sync_inserted"
	SyncHistorized    Counter = "sync_historized"
	SyncNoOp          Counter = "sync_noop"
	SyncConflicts     Counter = "sync_conflicts"
	SyncRetries       Counter = "sync_retries"
	SyncFailed        Counter = "sync_failed"
	FactsWritten      Counter = "facts_written"
	FactsFailed       Counter = "facts_failed"
	FactRetries       Counter = "fact_retries"
	Quarantined       Counter = "quarantined"
	QuarantineRetries Counter = "quarantine_retries"
	QuarantineDropped Counter = "quarantine_dropped"
)

// PipelineStats tracks counter totals broken down by label (usually a stream
// or dimension name). A nil *PipelineStats discards every record.
type PipelineStats struct {
	mu       sync.RWMutex
	counters map[Counter]*CounterStats
	started  time.Time
}

// CounterStats holds the totals of one counter.
type CounterStats struct {
	Name     Counter          `json:"name"`
	Total    int64            `json:"total"`
	LastSeen time.Time        `json:"last_seen"`
	Labels   map[string]int64 `json:"labels,omitempty"` // label → count (e.g., "orders" → 5)
}

// NewPipelineStats creates an empty tracker.
func NewPipelineStats() *PipelineStats {
	return &PipelineStats{
		counters: make(map[Counter]*CounterStats),
		started:  time.Now(),
	}
}

// Record increments counter c, attributing the increment to label when it is
// non-empty. This method is O(1) and thread-safe.
func (p *PipelineStats) Record(c Counter, label string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	stats, exists := p.counters[c]
	if !exists {
		stats = &CounterStats{
			Name:   c,
			Labels: make(map[string]int64),
		}
		p.counters[c] = stats
	}

	stats.Total++
	stats.LastSeen = time.Now()
	if label != "" {
		stats.Labels[label]++
	}
}

// Count returns the total of counter c.
func (p *PipelineStats) Count(c Counter) int64 {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if stats, ok := p.counters[c]; ok {
		return stats.Total
	}
	return 0
}

// CountLabel returns the part of counter c attributed to label.
func (p *PipelineStats) CountLabel(c Counter, label string) int64 {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if stats, ok := p.counters[c]; ok {
		return stats.Labels[label]
	}
	return 0
}

// Snapshot returns a copy of every counter, sorted by name.
func (p *PipelineStats) Snapshot() []CounterStats {
	if p == nil {
		return []CounterStats{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]CounterStats, 0, len(p.counters))
	for _, s := range p.counters {
		out = append(out, copyStats(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetTop returns the top n counters by total, descending.
func (p *PipelineStats) GetTop(n int) []CounterStats {
	stats := p.Snapshot()
	if n <= 0 {
		return []CounterStats{}
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Total > stats[j].Total
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Uptime returns the time since the tracker was created.
func (p *PipelineStats) Uptime() time.Duration {
	if p == nil {
		return 0
	}
	return time.Since(p.started)
}

func copyStats(s *CounterStats) CounterStats {
	c := CounterStats{
		Name:     s.Name,
		Total:    s.Total,
		LastSeen: s.LastSeen,
		Labels:   make(map[string]int64, len(s.Labels)),
	}
	for label, count := range s.Labels {
		c.Labels[label] = count
	}
	return c
}
