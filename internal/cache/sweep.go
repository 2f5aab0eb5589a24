package cache

import (
	"sort"
	"strings"
	"time"

	"github.com/streamvault/streamvault/internal/priority"
	"github.com/streamvault/streamvault/pkg/types"
)

// The sweep methods implement the cleanup phases. Each takes the cache lock
// itself so the scheduler can call them in sequence without holding anything;
// interleaved reads between phases see a consistent cache.

// SweepExpired removes every entry whose CachedAt is older than maxAge.
// Thumbnails and metadata expire on their own clocks, so a refreshed stream
// record does not keep a stale thumbnail alive.
func (c *Cache) SweepExpired(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0

	for id, rec := range c.streams {
		if now.Sub(rec.CachedAt) > maxAge {
			c.removeLocked(id, "expired")
			removed++
		}
	}
	for id, thumb := range c.thumbnails {
		if now.Sub(thumb.CachedAt) > maxAge {
			c.totalSize -= thumb.SizeBytes
			delete(c.thumbnails, id)
			c.deleteStored(types.AreaThumbnails, id)
			removed++
		}
	}
	for id, meta := range c.metadata {
		if now.Sub(meta.CachedAt) > maxAge {
			c.totalSize -= meta.SizeBytes
			delete(c.metadata, id)
			c.deleteStored(types.AreaMetadata, id)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("expiration sweep finished", "removed", removed)
	}
	return removed
}

// EvictByPriority removes the lowest-scored fraction of stream entries along
// with their access patterns: a stream scored out of the cache starts cold if
// it comes back. At least one entry goes when the cache is non-empty, so
// repeated passes under pressure always make progress.
func (c *Cache) EvictByPriority(fraction float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.streams) == 0 || fraction <= 0 {
		return 0
	}

	now := time.Now()
	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(c.streams))
	for id, rec := range c.streams {
		var pattern *types.AccessPattern
		if p, ok := c.tracker.Get(id); ok {
			pattern = &p
		}
		ranked = append(ranked, scored{id: id, score: priority.Score(rec, pattern, now)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score < ranked[j].score })

	n := int(float64(len(ranked)) * fraction)
	if n == 0 {
		n = 1
	}

	for _, victim := range ranked[:n] {
		c.removeLocked(victim.id, "priority")
		c.tracker.Remove(victim.id)
	}

	c.logger.Info("priority eviction finished", "evicted", n, "fraction", fraction)
	return n
}

// EvictLRU removes the least recently accessed fraction of stream entries.
// Used instead of EvictByPriority when smart caching is off.
func (c *Cache) EvictLRU(fraction float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.streams) == 0 || fraction <= 0 {
		return 0
	}

	ids := c.streamsByRecencyLocked()
	n := int(float64(len(ids)) * fraction)
	if n == 0 {
		n = 1
	}

	for _, id := range ids[:n] {
		c.removeLocked(id, "lru")
		c.tracker.Remove(id)
	}

	c.logger.Info("lru eviction finished", "evicted", n, "fraction", fraction)
	return n
}

// SweepInactive removes streams that are both idle past the window and were
// never accessed often enough to matter. High-frequency streams survive long
// idle stretches.
func (c *Cache) SweepInactive(window time.Duration, minFrequency int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0

	for id, rec := range c.streams {
		if now.Sub(rec.LastAccessed) <= window {
			continue
		}
		var freq int64
		if p, ok := c.tracker.Get(id); ok {
			freq = p.AccessFrequency
		}
		if freq < minFrequency {
			c.removeLocked(id, "inactive")
			removed++
		}
	}

	if removed > 0 {
		c.logger.Info("inactive sweep finished", "removed", removed)
	}
	return removed
}

// CollapseDuplicates removes streams whose titles normalize to the same
// string, keeping the most recently accessed of each group. Platforms
// occasionally hand back the same broadcast under multiple ids.
func (c *Cache) CollapseDuplicates() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	groups := make(map[string][]string)
	for id, rec := range c.streams {
		title := strings.ToLower(strings.TrimSpace(rec.Stream.Title))
		if title == "" {
			continue
		}
		groups[title] = append(groups[title], id)
	}

	removed := 0
	for _, ids := range groups {
		if len(ids) < 2 {
			continue
		}

		keep := ids[0]
		for _, id := range ids[1:] {
			if c.streams[id].LastAccessed.After(c.streams[keep].LastAccessed) {
				keep = id
			}
		}
		for _, id := range ids {
			if id != keep {
				c.removeLocked(id, "duplicate")
				c.tracker.Remove(id)
				removed++
			}
		}
	}

	if removed > 0 {
		c.logger.Info("duplicate collapse finished", "removed", removed)
	}
	return removed
}

// EnforceCapacity evicts least-recently-accessed streams one at a time until
// the total size fits the ceiling. This is the backstop after the fractional
// sweeps. A lone entry that alone exceeds the ceiling is kept and logged; the
// cache then runs over capacity until the entry expires.
func (c *Cache) EnforceCapacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize <= 0 {
		return 0
	}

	evicted := 0
	for c.totalSize > c.maxSize {
		ids := c.streamsByRecencyLocked()
		if len(ids) == 0 {
			c.logger.Warn("cache over capacity with no stream entries left",
				"total_size", c.totalSize, "max_size", c.maxSize)
			break
		}

		victim := ids[0]
		if len(ids) == 1 && c.streams[victim].SizeBytes > c.maxSize {
			c.logger.Error("single cache entry exceeds the size ceiling",
				"id", victim,
				"size", c.streams[victim].SizeBytes,
				"max_size", c.maxSize)
			break
		}

		c.removeLocked(victim, "capacity")
		evicted++
	}

	if evicted > 0 {
		c.logger.Info("capacity enforcement finished", "evicted", evicted,
			"total_size", c.totalSize, "max_size", c.maxSize)
	}
	return evicted
}

// PruneOrphanPatterns drops access patterns whose stream is no longer cached.
// Remove and the expiration and inactive sweeps keep patterns around so a
// re-cached stream regains its history; this final phase bounds how long such
// an orphan lives to at most one cleanup interval.
func (c *Cache) PruneOrphanPatterns() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := make(map[string]struct{}, len(c.streams))
	for id := range c.streams {
		live[id] = struct{}{}
	}

	pruned := c.tracker.PruneOrphans(live)
	if pruned > 0 {
		c.logger.Debug("pruned orphan access patterns", "pruned", pruned)
	}
	return pruned
}

// streamsByRecencyLocked returns stream ids ordered oldest access first.
func (c *Cache) streamsByRecencyLocked() []string {
	ids := make([]string, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return c.streams[ids[i]].LastAccessed.Before(c.streams[ids[j]].LastAccessed)
	})
	return ids
}
