package metrics

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/pkg/types"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(config.MetricsConfig{Namespace: "streamvault"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return c
}

// TestHitsAndMisses tests per-area counters
func TestHitsAndMisses(t *testing.T) {
	c := newTestCollector(t)

	c.RecordHit(types.AreaStreams)
	c.RecordHit(types.AreaStreams)
	c.RecordMiss(types.AreaThumbnails)

	if got := testutil.ToFloat64(c.hits.WithLabelValues("streams")); got != 2 {
		t.Errorf("stream hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.misses.WithLabelValues("thumbnails")); got != 1 {
		t.Errorf("thumbnail misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.hits.WithLabelValues("thumbnails")); got != 0 {
		t.Errorf("thumbnail hits = %v, want 0", got)
	}
}

// TestOperations tests outcome labelling
func TestOperations(t *testing.T) {
	c := newTestCollector(t)

	c.RecordOperation("cache", 5*time.Millisecond, true)
	c.RecordOperation("cache", 5*time.Millisecond, false)
	c.RecordOperation("cache", 5*time.Millisecond, true)

	if got := testutil.ToFloat64(c.operations.WithLabelValues("cache", "ok")); got != 2 {
		t.Errorf("ok operations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.operations.WithLabelValues("cache", "error")); got != 1 {
		t.Errorf("error operations = %v, want 1", got)
	}
}

// TestEvictionsByReason tests the counted-add path
func TestEvictionsByReason(t *testing.T) {
	c := newTestCollector(t)

	c.RecordEviction("expired", 3)
	c.RecordEviction("priority", 5)
	c.RecordEviction("expired", 1)

	if got := testutil.ToFloat64(c.evictions.WithLabelValues("expired")); got != 4 {
		t.Errorf("expired evictions = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.evictions.WithLabelValues("priority")); got != 5 {
		t.Errorf("priority evictions = %v, want 5", got)
	}
}

// TestGauges tests size, utilization and entry counts
func TestGauges(t *testing.T) {
	c := newTestCollector(t)

	c.UpdateSize(1 << 20)
	c.UpdateUtilization(0.42)
	c.UpdateEntryCount(types.AreaStreams, 17)

	if got := testutil.ToFloat64(c.sizeBytes); got != float64(1<<20) {
		t.Errorf("size gauge = %v, want %v", got, 1<<20)
	}
	if got := testutil.ToFloat64(c.utilization); got != 0.42 {
		t.Errorf("utilization gauge = %v, want 0.42", got)
	}
	if got := testutil.ToFloat64(c.entryCount.WithLabelValues("streams")); got != 17 {
		t.Errorf("entry count = %v, want 17", got)
	}
}

// TestGather tests that instruments appear under the expected namespace
func TestGather(t *testing.T) {
	c := newTestCollector(t)
	c.RecordHit(types.AreaStreams)
	c.RecordCleanupPass(120 * time.Millisecond)

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"streamvault_cache_hits_total",
		"streamvault_cleanup_pass_duration_seconds",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
	for name := range names {
		if !strings.HasPrefix(name, "streamvault_") {
			t.Errorf("metric %s escaped the namespace", name)
		}
	}
}
