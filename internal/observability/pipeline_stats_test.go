package observability

import (
	"sync"
	"testing"
)

// TestRecordConcurrent tests concurrent Record calls for race conditions.
func TestRecordConcurrent(t *testing.T) {
	ps := NewPipelineStats()
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				ps.Record(EventsReceived, "orders")
				ps.Record(EventsValid, "orders")
				ps.Record(SyncInserted, "vendor")
			}
		}()
	}

	wg.Wait()

	expected := int64(numGoroutines * recordsPerGoroutine)
	for _, c := range []Counter{EventsReceived, EventsValid, SyncInserted} {
		if got := ps.Count(c); got != expected {
			t.Errorf("expected %d for %s, got %d", expected, c, got)
		}
	}
	if got := ps.CountLabel(EventsReceived, "orders"); got != expected {
		t.Errorf("expected %d for orders label, got %d", expected, got)
	}
}

// TestGetTopOrdering tests that GetTop returns counters sorted by total.
func TestGetTopOrdering(t *testing.T) {
	ps := NewPipelineStats()

	for i := 0; i < 10; i++ {
		ps.Record(EventsValid, "orders")
	}
	for i := 0; i < 5; i++ {
		ps.Record(Quarantined, "clickstream")
	}
	for i := 0; i < 20; i++ {
		ps.Record(EventsReceived, "orders")
	}

	top := ps.GetTop(3)
	if len(top) != 3 {
		t.Fatalf("expected 3 counters, got %d", len(top))
	}
	if top[0].Name != EventsReceived || top[0].Total != 20 {
		t.Errorf("expected events_received with 20, got %s with %d", top[0].Name, top[0].Total)
	}
	if top[1].Name != EventsValid || top[1].Total != 10 {
		t.Errorf("expected events_valid with 10, got %s with %d", top[1].Name, top[1].Total)
	}
	if top[2].Name != Quarantined || top[2].Total != 5 {
		t.Errorf("expected quarantined with 5, got %s with %d", top[2].Name, top[2].Total)
	}
}

// TestLabelDistribution tests that Record tracks the per-label breakdown.
func TestLabelDistribution(t *testing.T) {
	ps := NewPipelineStats()
	for i := 0; i < 3; i++ {
		ps.Record(EventsInvalid, "orders")
	}
	ps.Record(EventsInvalid, "clickstream")
	ps.Record(EventsInvalid, "")

	snap := ps.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 counter, got %d", len(snap))
	}
	if snap[0].Total != 5 {
		t.Errorf("expected total 5, got %d", snap[0].Total)
	}
	if snap[0].Labels["orders"] != 3 || snap[0].Labels["clickstream"] != 1 {
		t.Errorf("unexpected labels %v", snap[0].Labels)
	}
	if _, ok := snap[0].Labels[""]; ok {
		t.Errorf("empty label must not be tracked")
	}

	// snapshots are copies
	snap[0].Labels["orders"] = 100
	if ps.CountLabel(EventsInvalid, "orders") != 3 {
		t.Errorf("snapshot mutation leaked into tracker")
	}
}

// TestNilStats tests that a nil tracker is usable.
func TestNilStats(t *testing.T) {
	var ps *PipelineStats
	ps.Record(QuarantineDropped, "orders")
	if ps.Count(QuarantineDropped) != 0 {
		t.Errorf("nil tracker must report zero")
	}
	if len(ps.GetTop(5)) != 0 {
		t.Errorf("nil tracker must have no counters")
	}
}
