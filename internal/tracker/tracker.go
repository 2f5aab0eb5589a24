// Package tracker maintains per-stream access statistics: a rolling log of
// access timestamps bounded at types.MaxAccessSamples, a frequency counter,
// and first/last access times. The tracker holds no lock of its own; the
// cache core serializes every call.
package tracker

import (
	"time"

	"github.com/streamvault/streamvault/pkg/types"
)

// Tracker records access patterns keyed by stream id.
type Tracker struct {
	patterns map[string]*types.AccessPattern
	now      func() time.Time
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		patterns: make(map[string]*types.AccessPattern),
		now:      time.Now,
	}
}

// RecordAccess increments the frequency for id, appends a timestamp (trimming
// the oldest past the cap), and bumps LastAccessed. A first access creates
// the pattern with frequency 1.
func (t *Tracker) RecordAccess(id string) {
	now := t.now()

	p, ok := t.patterns[id]
	if !ok {
		t.patterns[id] = &types.AccessPattern{
			StreamID:        id,
			FirstAccessed:   now,
			LastAccessed:    now,
			AccessFrequency: 1,
			AccessTimes:     []time.Time{now},
		}
		return
	}

	p.AccessFrequency++
	p.LastAccessed = now
	p.AccessTimes = append(p.AccessTimes, now)
	if len(p.AccessTimes) > types.MaxAccessSamples {
		p.AccessTimes = p.AccessTimes[len(p.AccessTimes)-types.MaxAccessSamples:]
	}
}

// Get returns a snapshot copy of the pattern for id.
func (t *Tracker) Get(id string) (types.AccessPattern, bool) {
	p, ok := t.patterns[id]
	if !ok {
		return types.AccessPattern{}, false
	}
	snapshot := *p
	snapshot.AccessTimes = append([]time.Time(nil), p.AccessTimes...)
	return snapshot, true
}

// Put installs a pattern wholesale, replacing any existing entry for the id.
func (t *Tracker) Put(p types.AccessPattern) {
	copied := p
	copied.AccessTimes = append([]time.Time(nil), p.AccessTimes...)
	t.patterns[p.StreamID] = &copied
}

// Remove drops the pattern for id, if any.
func (t *Tracker) Remove(id string) {
	delete(t.patterns, id)
}

// PruneOrphans removes every pattern whose id is absent from live and returns
// how many were dropped.
func (t *Tracker) PruneOrphans(live map[string]struct{}) int {
	pruned := 0
	for id := range t.patterns {
		if _, ok := live[id]; !ok {
			delete(t.patterns, id)
			pruned++
		}
	}
	return pruned
}

// Len returns the number of tracked patterns.
func (t *Tracker) Len() int {
	return len(t.patterns)
}

// Clear drops all patterns.
func (t *Tracker) Clear() {
	t.patterns = make(map[string]*types.AccessPattern)
}
