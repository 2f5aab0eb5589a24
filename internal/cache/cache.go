// Package cache implements the tiered stream cache: an in-memory index over
// three persisted areas (stream records, thumbnails, metadata), access
// tracking, priority-aware eviction sweeps, and change notification.
//
// All index state is guarded by a single mutex. Every exported operation
// acquires it; the tracker and the sweep methods rely on that and carry no
// locking of their own. The only asynchronous work is thumbnail fetching,
// which re-enters through storeThumbnail when the download completes.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/priority"
	"github.com/streamvault/streamvault/internal/tracker"
	cacheerrors "github.com/streamvault/streamvault/pkg/errors"
	"github.com/streamvault/streamvault/pkg/types"
)

// estimateBaseBytes is charged per stream record on top of the variable text
// cost, covering struct overhead and the JSON envelope on disk.
const estimateBaseBytes = 1024

// Cache is the engine core. Construct with New; the zero value is not usable.
type Cache struct {
	mu sync.RWMutex

	store   types.Storage
	fetcher types.ThumbnailFetcher
	metrics types.MetricsCollector
	logger  *slog.Logger
	tracker *tracker.Tracker

	streams    map[string]*types.CachedStreamRecord
	thumbnails map[string]*types.CachedThumbnail
	metadata   map[string]*types.CachedMetadataRecord

	totalSize int64
	maxSize   int64
	status    types.CacheStatus

	offlineMode  bool
	smartCaching bool

	flight  singleflight.Group
	fetches map[string]context.CancelFunc

	subscribers map[int]chan types.ChangeEvent
	nextSubID   int

	closed bool
}

// New builds a Cache over the given storage and rebuilds the in-memory index
// from it. Corrupt persisted entries are deleted during the rebuild and do not
// fail construction. fetcher and metrics may be nil; nil metrics disables
// collection and nil fetcher disables thumbnail downloads.
func New(cfg *config.Config, store types.Storage, fetcher types.ThumbnailFetcher, metrics types.MetricsCollector, logger *slog.Logger) (*Cache, error) {
	if cfg == nil {
		return nil, cacheerrors.New(cacheerrors.ErrCodeNotInitialized, "config is required").
			WithComponent("cache")
	}
	if store == nil {
		return nil, cacheerrors.New(cacheerrors.ErrCodeNotInitialized, "storage backend is required").
			WithComponent("cache")
	}
	if metrics == nil {
		metrics = types.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		store:        store,
		fetcher:      fetcher,
		metrics:      metrics,
		logger:       logger,
		tracker:      tracker.New(),
		streams:      make(map[string]*types.CachedStreamRecord),
		thumbnails:   make(map[string]*types.CachedThumbnail),
		metadata:     make(map[string]*types.CachedMetadataRecord),
		maxSize:      cfg.MaxSizeBytes(),
		offlineMode:  cfg.Cache.OfflineMode,
		smartCaching: cfg.Cache.SmartCacheEnabled,
		fetches:      make(map[string]context.CancelFunc),
		subscribers:  make(map[int]chan types.ChangeEvent),
	}

	if err := c.rebuild(); err != nil {
		return nil, err
	}
	c.refreshStatusLocked()

	logger.Info("cache initialized",
		"streams", len(c.streams),
		"thumbnails", len(c.thumbnails),
		"metadata", len(c.metadata),
		"total_size", c.totalSize,
		"max_size", c.maxSize)

	return c, nil
}

// rebuild loads every persisted record into the index. Runs before the cache
// is visible to callers, so no locking.
func (c *Cache) rebuild() error {
	if err := c.rebuildArea(types.AreaStreams, func(data []byte) (int64, error) {
		var rec types.CachedStreamRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return 0, err
		}
		if rec.StreamID == "" {
			return 0, cacheerrors.New(cacheerrors.ErrCodeEntryCorrupt, "stream record has no id")
		}
		if rec.SizeBytes == 0 {
			rec.SizeBytes = estimateStreamSize(&rec.Stream)
		}
		c.streams[rec.StreamID] = &rec
		return rec.SizeBytes, nil
	}); err != nil {
		return err
	}

	if err := c.rebuildArea(types.AreaThumbnails, func(data []byte) (int64, error) {
		var thumb types.CachedThumbnail
		if err := json.Unmarshal(data, &thumb); err != nil {
			return 0, err
		}
		if thumb.StreamID == "" {
			return 0, cacheerrors.New(cacheerrors.ErrCodeEntryCorrupt, "thumbnail has no id")
		}
		if thumb.SizeBytes == 0 {
			thumb.SizeBytes = int64(len(thumb.Data))
		}
		c.thumbnails[thumb.StreamID] = &thumb
		return thumb.SizeBytes, nil
	}); err != nil {
		return err
	}

	return c.rebuildArea(types.AreaMetadata, func(data []byte) (int64, error) {
		var meta types.CachedMetadataRecord
		if err := json.Unmarshal(data, &meta); err != nil {
			return 0, err
		}
		if meta.StreamID == "" {
			return 0, cacheerrors.New(cacheerrors.ErrCodeEntryCorrupt, "metadata record has no id")
		}
		if meta.SizeBytes == 0 {
			meta.SizeBytes = estimateMetadataSize(&meta)
		}
		c.metadata[meta.StreamID] = &meta
		return meta.SizeBytes, nil
	})
}

func (c *Cache) rebuildArea(area types.Area, load func([]byte) (int64, error)) error {
	keys, err := c.store.ListKeys(area)
	if err != nil {
		return cacheerrors.Wrap(cacheerrors.ErrCodeStorageList, "failed to enumerate area", err).
			WithComponent("cache").WithDetail("area", string(area))
	}

	for _, key := range keys {
		data, err := c.store.Get(area, key)
		if err != nil {
			c.logger.Warn("skipping unreadable entry during rebuild",
				"area", area, "key", key, "error", err)
			continue
		}
		if data == nil {
			continue
		}

		size, err := load(data)
		if err != nil {
			// Corrupt on disk: delete so the next rebuild is clean.
			c.logger.Warn("deleting corrupt entry during rebuild",
				"area", area, "key", key, "error", err)
			if delErr := c.store.Delete(area, key); delErr != nil {
				c.logger.Warn("failed to delete corrupt entry",
					"area", area, "key", key, "error", delErr)
			}
			continue
		}
		c.totalSize += size
	}
	return nil
}

// Cache inserts or overwrites the record for stream, derives its metadata
// record, and kicks off an asynchronous thumbnail fetch when a URL is present
// and offline mode is off. Emits an added event for new entries, updated for
// overwrites. Storage write failures are logged, never returned.
func (c *Cache) Cache(ctx context.Context, stream *types.Stream) error {
	return c.put(ctx, stream, false)
}

// Update refreshes the cached snapshot of stream, bumping LastAccessed but
// keeping the original CachedAt so the expiration clock keeps running. An
// unknown stream is inserted as if by Cache.
func (c *Cache) Update(ctx context.Context, stream *types.Stream) error {
	return c.put(ctx, stream, true)
}

func (c *Cache) put(ctx context.Context, stream *types.Stream, preserveCachedAt bool) error {
	start := time.Now()

	if stream == nil || stream.ID == "" {
		return cacheerrors.New(cacheerrors.ErrCodeInternalError, "stream must have an id").
			WithComponent("cache").WithOperation("cache")
	}
	if err := ctx.Err(); err != nil {
		return cacheerrors.Wrap(cacheerrors.ErrCodeOperationCanceled, "cache operation canceled", err).
			WithComponent("cache")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return cacheerrors.New(cacheerrors.ErrCodeShutdownInProgress, "cache is closed").
			WithComponent("cache")
	}

	now := time.Now()
	prev, existed := c.streams[stream.ID]

	rec := &types.CachedStreamRecord{
		StreamID:     stream.ID,
		Stream:       *stream,
		CachedAt:     now,
		LastAccessed: now,
		SizeBytes:    estimateStreamSize(stream),
	}
	if existed && preserveCachedAt {
		rec.CachedAt = prev.CachedAt
	}

	meta := deriveMetadata(stream, rec.CachedAt, rec.LastAccessed)

	// Storage write failures never reach the caller. The entry still lands in
	// memory and is rewritten on the next access bump.
	if err := c.persistStream(rec); err != nil {
		c.logger.Warn("failed to persist stream record", "id", stream.ID, "error", err)
	}
	if err := c.persistMetadata(meta); err != nil {
		c.logger.Warn("failed to persist metadata record", "id", stream.ID, "error", err)
	}

	if existed {
		c.totalSize -= prev.SizeBytes
	}
	if prevMeta, ok := c.metadata[stream.ID]; ok {
		c.totalSize -= prevMeta.SizeBytes
	}
	c.streams[stream.ID] = rec
	c.metadata[stream.ID] = meta
	c.totalSize += rec.SizeBytes + meta.SizeBytes

	c.maybeFetchThumbnail(stream.ID, stream.ThumbnailURL)

	kind := types.EventAdded
	if existed {
		kind = types.EventUpdated
	}
	c.publishLocked(types.ChangeEvent{Kind: kind, StreamID: stream.ID, Timestamp: now})

	c.metrics.RecordOperation("cache", time.Since(start), true)
	c.metrics.UpdateSize(c.totalSize)
	return nil
}

// Get returns a copy of the cached stream and records the access: the record's
// LastAccessed is bumped and the tracker logs a sample. The bump is persisted
// best-effort; a storage write failure only logs.
func (c *Cache) Get(id string) (*types.Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.streams[id]
	if !ok {
		c.metrics.RecordMiss(types.AreaStreams)
		return nil, false
	}

	rec.LastAccessed = time.Now()
	c.tracker.RecordAccess(id)
	if err := c.persistStream(rec); err != nil {
		c.logger.Warn("failed to persist access bump", "id", id, "error", err)
	}

	c.metrics.RecordHit(types.AreaStreams)
	stream := rec.Stream
	return &stream, true
}

// GetThumbnail returns the raw thumbnail bytes for a stream, bumping the
// thumbnail's own LastAccessed.
func (c *Cache) GetThumbnail(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	thumb, ok := c.thumbnails[id]
	if !ok {
		c.metrics.RecordMiss(types.AreaThumbnails)
		return nil, false
	}

	thumb.LastAccessed = time.Now()
	c.metrics.RecordHit(types.AreaThumbnails)

	data := make([]byte, len(thumb.Data))
	copy(data, thumb.Data)
	return data, true
}

// GetMetadata returns a copy of the metadata record for a stream.
func (c *Cache) GetMetadata(id string) (*types.CachedMetadataRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, ok := c.metadata[id]
	if !ok {
		c.metrics.RecordMiss(types.AreaMetadata)
		return nil, false
	}

	meta.LastAccessed = time.Now()
	c.metrics.RecordHit(types.AreaMetadata)

	out := *meta
	out.Tags = append([]string(nil), meta.Tags...)
	return &out, true
}

// Remove evicts a stream and its dependent thumbnail and metadata entries.
// Removing an absent id is a no-op. The access pattern is deliberately kept;
// orphaned patterns are pruned by the cleanup pass so that a re-cached stream
// regains its history-based priority.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(id, "manual")
}

// removeLocked drops id from all three areas and cancels any in-flight
// thumbnail fetch. Returns whether a stream record existed. Storage delete
// failures are logged, never propagated.
func (c *Cache) removeLocked(id, reason string) bool {
	rec, existed := c.streams[id]

	if cancel, ok := c.fetches[id]; ok {
		cancel()
		delete(c.fetches, id)
	}

	if existed {
		c.totalSize -= rec.SizeBytes
		delete(c.streams, id)
		c.deleteStored(types.AreaStreams, id)
	}
	if thumb, ok := c.thumbnails[id]; ok {
		c.totalSize -= thumb.SizeBytes
		delete(c.thumbnails, id)
		c.deleteStored(types.AreaThumbnails, id)
	}
	if meta, ok := c.metadata[id]; ok {
		c.totalSize -= meta.SizeBytes
		delete(c.metadata, id)
		c.deleteStored(types.AreaMetadata, id)
	}

	if existed {
		c.publishLocked(types.ChangeEvent{Kind: types.EventRemoved, StreamID: id, Timestamp: time.Now()})
		c.metrics.RecordEviction(reason, 1)
		c.metrics.UpdateSize(c.totalSize)
	}
	return existed
}

func (c *Cache) deleteStored(area types.Area, id string) {
	if err := c.store.Delete(area, id); err != nil {
		c.logger.Warn("failed to delete stored entry", "area", area, "id", id, "error", err)
	}
}

// ListCachedStreams returns the cached stream snapshots in no particular
// order. Listing is not an access; recency is untouched.
func (c *Cache) ListCachedStreams() []types.Stream {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.Stream, 0, len(c.streams))
	for _, rec := range c.streams {
		out = append(out, rec.Stream)
	}
	return out
}

// Info returns a point-in-time summary of the cache.
func (c *Cache) Info() types.CacheInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.infoLocked()
}

func (c *Cache) infoLocked() types.CacheInfo {
	util := 0.0
	if c.maxSize > 0 {
		util = float64(c.totalSize) / float64(c.maxSize)
	}
	return types.CacheInfo{
		TotalSize:      c.totalSize,
		MaxSize:        c.maxSize,
		StreamCount:    len(c.streams),
		ThumbnailCount: len(c.thumbnails),
		MetadataCount:  len(c.metadata),
		Status:         c.status,
		Utilization:    util,
		OfflineMode:    c.offlineMode,
		SmartCaching:   c.smartCaching,
	}
}

// PredictNeed classifies a not-yet-cached stream into an admission tier using
// its static attributes plus any access history left over from an earlier
// cached life.
func (c *Cache) PredictNeed(stream *types.Stream) types.PriorityTier {
	if stream == nil {
		return types.TierLow
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var pattern *types.AccessPattern
	if p, ok := c.tracker.Get(stream.ID); ok {
		pattern = &p
	}
	return priority.Predict(stream, pattern, time.Now())
}

// Clear evicts every entry and drops all access patterns.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	for _, id := range ids {
		c.removeLocked(id, "clear")
	}
	// Thumbnails or metadata without a stream record.
	for id := range c.thumbnails {
		c.removeLocked(id, "clear")
	}
	for id := range c.metadata {
		c.removeLocked(id, "clear")
	}

	c.tracker.Clear()
	c.totalSize = 0
	c.refreshStatusLocked()
	c.logger.Info("cache cleared")
}

// SetOfflineMode toggles offline mode. While offline, no thumbnail fetches
// are started; cached content keeps serving.
func (c *Cache) SetOfflineMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offlineMode = on
}

// SetSmartCaching selects priority-based eviction (true) or plain LRU (false)
// for the intelligent sweep.
func (c *Cache) SetSmartCaching(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.smartCaching = on
}

// RefreshStatus recomputes the derived health status and pushes gauge values
// to the metrics collector. Called from the scheduler's health tick.
func (c *Cache) RefreshStatus() types.CacheStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refreshStatusLocked()

	c.metrics.UpdateSize(c.totalSize)
	if c.maxSize > 0 {
		c.metrics.UpdateUtilization(float64(c.totalSize) / float64(c.maxSize))
	}
	c.metrics.UpdateEntryCount(types.AreaStreams, len(c.streams))
	c.metrics.UpdateEntryCount(types.AreaThumbnails, len(c.thumbnails))
	c.metrics.UpdateEntryCount(types.AreaMetadata, len(c.metadata))

	return c.status
}

func (c *Cache) refreshStatusLocked() {
	items := len(c.streams) + len(c.thumbnails) + len(c.metadata)
	if items == 0 {
		c.status = types.StatusEmpty
		return
	}

	util := 0.0
	if c.maxSize > 0 {
		util = float64(c.totalSize) / float64(c.maxSize)
	}
	switch {
	case util > 0.90:
		c.status = types.StatusFull
	case util > 0.70:
		c.status = types.StatusWarning
	default:
		c.status = types.StatusHealthy
	}
}

// Close cancels outstanding thumbnail fetches and closes all subscriber
// channels. The cache rejects mutations afterwards; persisted state stays on
// disk for the next start.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for id, cancel := range c.fetches {
		cancel()
		delete(c.fetches, id)
	}
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}

	c.logger.Info("cache closed", "total_size", c.totalSize)
}

func (c *Cache) persistStream(rec *types.CachedStreamRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return cacheerrors.Wrap(cacheerrors.ErrCodeInternalError, "failed to encode stream record", err).
			WithComponent("cache")
	}
	return c.store.Put(types.AreaStreams, rec.StreamID, data)
}

func (c *Cache) persistThumbnail(thumb *types.CachedThumbnail) error {
	data, err := json.Marshal(thumb)
	if err != nil {
		return cacheerrors.Wrap(cacheerrors.ErrCodeInternalError, "failed to encode thumbnail", err).
			WithComponent("cache")
	}
	return c.store.Put(types.AreaThumbnails, thumb.StreamID, data)
}

func (c *Cache) persistMetadata(meta *types.CachedMetadataRecord) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return cacheerrors.Wrap(cacheerrors.ErrCodeInternalError, "failed to encode metadata record", err).
			WithComponent("cache")
	}
	return c.store.Put(types.AreaMetadata, meta.StreamID, data)
}

func deriveMetadata(s *types.Stream, cachedAt, lastAccessed time.Time) *types.CachedMetadataRecord {
	meta := &types.CachedMetadataRecord{
		StreamID:     s.ID,
		Title:        s.Title,
		Description:  s.Description,
		Category:     s.Category,
		Tags:         append([]string(nil), s.Tags...),
		ViewerCount:  s.ViewerCount,
		IsLive:       s.IsLive,
		CachedAt:     cachedAt,
		LastAccessed: lastAccessed,
	}
	meta.SizeBytes = estimateMetadataSize(meta)
	return meta
}

// estimateStreamSize charges a fixed base plus two bytes per character of the
// variable text fields: title, description, and metadata values.
func estimateStreamSize(s *types.Stream) int64 {
	chars := len(s.Title) + len(s.Description)
	for _, v := range s.Metadata {
		chars += len(v)
	}
	return estimateBaseBytes + 2*int64(chars)
}

func estimateMetadataSize(m *types.CachedMetadataRecord) int64 {
	chars := len(m.Title) + len(m.Description) + len(m.Category)
	for _, tag := range m.Tags {
		chars += len(tag)
	}
	return 256 + 2*int64(chars)
}
