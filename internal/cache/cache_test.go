package cache

import (
	"context"
	stderr "errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/storage/fs"
	cacheerrors "github.com/streamvault/streamvault/pkg/errors"
	"github.com/streamvault/streamvault/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Storage.Directory = t.TempDir()
	return cfg
}

func newTestCache(t *testing.T, cfg *config.Config, fetcher types.ThumbnailFetcher) *Cache {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	store, err := fs.New(cfg.Storage.Directory, discardLogger())
	require.NoError(t, err)

	c, err := New(cfg, store, fetcher, nil, discardLogger())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func testStream(id, title string) *types.Stream {
	return &types.Stream{
		ID:          id,
		Title:       title,
		Description: "a live stream",
		Platform:    types.PlatformTwitch,
		ChannelName: "channel-" + id,
		IsLive:      true,
		ViewerCount: 1200,
	}
}

// failingStore wraps a Storage and fails every write.
type failingStore struct {
	types.Storage
}

func (failingStore) Put(types.Area, string, []byte) error {
	return cacheerrors.New(cacheerrors.ErrCodeStorageWrite, "disk full")
}

// TestCacheSurvivesWriteFailure tests that a broken write path stays internal:
// the caller sees no error and the entry is served from memory
func TestCacheSurvivesWriteFailure(t *testing.T) {
	cfg := testConfig(t)
	store, err := fs.New(cfg.Storage.Directory, discardLogger())
	require.NoError(t, err)

	c, err := New(cfg, failingStore{store}, nil, nil, discardLogger())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Cache(context.Background(), testStream("s1", "First")))

	got, ok := c.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "First", got.Title)
	_, ok = c.GetMetadata("s1")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Info().StreamCount)
}

// TestColdStart tests that an empty store yields an empty cache
func TestColdStart(t *testing.T) {
	c := newTestCache(t, nil, nil)

	info := c.Info()
	assert.Equal(t, types.StatusEmpty, info.Status)
	assert.Zero(t, info.TotalSize)
	assert.Zero(t, info.StreamCount)
	assert.Empty(t, c.ListCachedStreams())
}

// TestCacheAndGet tests the basic put/get round trip
func TestCacheAndGet(t *testing.T) {
	c := newTestCache(t, nil, nil)

	require.NoError(t, c.Cache(context.Background(), testStream("s1", "First")))

	got, ok := c.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "First", got.Title)

	// The returned stream is a copy
	got.Title = "mutated"
	again, _ := c.Get("s1")
	assert.Equal(t, "First", again.Title)

	_, ok = c.Get("absent")
	assert.False(t, ok)
}

// TestCacheRejectsEmptyID tests input validation
func TestCacheRejectsEmptyID(t *testing.T) {
	c := newTestCache(t, nil, nil)

	err := c.Cache(context.Background(), &types.Stream{Title: "no id"})
	require.Error(t, err)
	err = c.Cache(context.Background(), nil)
	require.Error(t, err)
}

// TestCacheCanceledContext tests early ctx abort
func TestCacheCanceledContext(t *testing.T) {
	c := newTestCache(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Cache(ctx, testStream("s1", "First"))
	require.Error(t, err)

	var cacheErr *cacheerrors.CacheError
	require.True(t, stderr.As(err, &cacheErr))
	assert.Equal(t, cacheerrors.ErrCodeOperationCanceled, cacheErr.Code)
}

// TestGetBumpsAccess tests that reads update recency and frequency
func TestGetBumpsAccess(t *testing.T) {
	c := newTestCache(t, nil, nil)
	require.NoError(t, c.Cache(context.Background(), testStream("s1", "First")))

	c.mu.Lock()
	c.streams["s1"].LastAccessed = time.Now().Add(-2 * time.Hour)
	c.mu.Unlock()

	_, ok := c.Get("s1")
	require.True(t, ok)

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.WithinDuration(t, time.Now(), c.streams["s1"].LastAccessed, time.Second)

	p, ok := c.tracker.Get("s1")
	require.True(t, ok)
	assert.Equal(t, int64(1), p.AccessFrequency)
}

// TestUpdateKeepsExpirationClock tests that a data refresh bumps recency but
// never resets CachedAt
func TestUpdateKeepsExpirationClock(t *testing.T) {
	c := newTestCache(t, nil, nil)
	require.NoError(t, c.Cache(context.Background(), testStream("s1", "First")))

	c.mu.Lock()
	cachedAt := time.Now().Add(-3 * time.Hour)
	c.streams["s1"].CachedAt = cachedAt
	c.streams["s1"].LastAccessed = cachedAt
	c.mu.Unlock()

	updated := testStream("s1", "First (rerun)")
	updated.ViewerCount = 9000
	require.NoError(t, c.Update(context.Background(), updated))

	got, ok := c.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "First (rerun)", got.Title)
	assert.Equal(t, int64(9000), got.ViewerCount)

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.True(t, c.streams["s1"].CachedAt.Equal(cachedAt), "Update must not reset CachedAt")
	assert.WithinDuration(t, time.Now(), c.streams["s1"].LastAccessed, time.Second,
		"Update refreshes LastAccessed")
}

// TestUpdateInsertsUnknown tests Update falling back to insert
func TestUpdateInsertsUnknown(t *testing.T) {
	c := newTestCache(t, nil, nil)

	require.NoError(t, c.Update(context.Background(), testStream("s1", "First")))
	_, ok := c.Get("s1")
	assert.True(t, ok)
}

// TestMetadataDerived tests the metadata record produced by Cache
func TestMetadataDerived(t *testing.T) {
	c := newTestCache(t, nil, nil)

	s := testStream("s1", "First")
	s.Category = "Just Chatting"
	s.Tags = []string{"english", "music"}
	require.NoError(t, c.Cache(context.Background(), s))

	meta, ok := c.GetMetadata("s1")
	require.True(t, ok)
	assert.Equal(t, "First", meta.Title)
	assert.Equal(t, "Just Chatting", meta.Category)
	assert.Equal(t, []string{"english", "music"}, meta.Tags)
	assert.True(t, meta.IsLive)

	// Copy independence
	meta.Tags[0] = "mutated"
	fresh, _ := c.GetMetadata("s1")
	assert.Equal(t, "english", fresh.Tags[0])
}

// TestRemoveIdempotent tests removal and repeat removal
func TestRemoveIdempotent(t *testing.T) {
	c := newTestCache(t, nil, nil)
	require.NoError(t, c.Cache(context.Background(), testStream("s1", "First")))

	c.Remove("s1")
	_, ok := c.Get("s1")
	assert.False(t, ok)
	_, ok = c.GetMetadata("s1")
	assert.False(t, ok)

	c.Remove("s1") // no-op
	c.Remove("never-cached")

	info := c.Info()
	assert.Zero(t, info.TotalSize, "size accounting must return to zero")
}

// TestRemoveKeepsPattern tests that eviction does not forget access history
func TestRemoveKeepsPattern(t *testing.T) {
	c := newTestCache(t, nil, nil)
	require.NoError(t, c.Cache(context.Background(), testStream("s1", "First")))

	for i := 0; i < 8; i++ {
		c.Get("s1")
	}
	c.Remove("s1")

	c.mu.RLock()
	_, ok := c.tracker.Get("s1")
	c.mu.RUnlock()
	assert.True(t, ok, "pattern should survive removal until orphan pruning")
}

// TestSizeEstimation tests the per-record size formula
func TestSizeEstimation(t *testing.T) {
	s := &types.Stream{
		ID:          "s1",
		Title:       "abcd",       // 4
		Description: "0123456789", // 10
		Metadata:    map[string]string{"k": "vvvv"},
	}
	// 1024 base + 2*(4+10+4)
	assert.Equal(t, int64(1024+2*18), estimateStreamSize(s))
}

// TestInfoCounts tests the aggregate summary
func TestInfoCounts(t *testing.T) {
	c := newTestCache(t, nil, nil)
	require.NoError(t, c.Cache(context.Background(), testStream("s1", "First")))
	require.NoError(t, c.Cache(context.Background(), testStream("s2", "Second")))

	info := c.Info()
	assert.Equal(t, 2, info.StreamCount)
	assert.Equal(t, 2, info.MetadataCount)
	assert.Equal(t, 0, info.ThumbnailCount)
	assert.Positive(t, info.TotalSize)
	assert.Positive(t, info.Utilization)
	assert.Len(t, c.ListCachedStreams(), 2)
}

// TestRefreshStatus tests the health thresholds
func TestRefreshStatus(t *testing.T) {
	c := newTestCache(t, nil, nil)
	assert.Equal(t, types.StatusEmpty, c.RefreshStatus())

	require.NoError(t, c.Cache(context.Background(), testStream("s1", "First")))
	assert.Equal(t, types.StatusHealthy, c.RefreshStatus())

	c.mu.Lock()
	c.totalSize = int64(float64(c.maxSize) * 0.75)
	c.mu.Unlock()
	assert.Equal(t, types.StatusWarning, c.RefreshStatus())

	c.mu.Lock()
	c.totalSize = int64(float64(c.maxSize) * 0.95)
	c.mu.Unlock()
	assert.Equal(t, types.StatusFull, c.RefreshStatus())
}

// TestModeToggles tests offline and smart-caching flags
func TestModeToggles(t *testing.T) {
	c := newTestCache(t, nil, nil)

	c.SetOfflineMode(true)
	c.SetSmartCaching(false)

	info := c.Info()
	assert.True(t, info.OfflineMode)
	assert.False(t, info.SmartCaching)
}

// TestClear tests full reset
func TestClear(t *testing.T) {
	c := newTestCache(t, nil, nil)
	require.NoError(t, c.Cache(context.Background(), testStream("s1", "First")))
	require.NoError(t, c.Cache(context.Background(), testStream("s2", "Second")))
	c.Get("s1")

	c.Clear()

	info := c.Info()
	assert.Equal(t, types.StatusEmpty, info.Status)
	assert.Zero(t, info.TotalSize)
	assert.Zero(t, info.StreamCount)

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Zero(t, c.tracker.Len())
}

// TestCacheAfterClose tests the closed guard
func TestCacheAfterClose(t *testing.T) {
	c := newTestCache(t, nil, nil)
	c.Close()

	err := c.Cache(context.Background(), testStream("s1", "First"))
	require.Error(t, err)

	var cacheErr *cacheerrors.CacheError
	require.True(t, stderr.As(err, &cacheErr))
	assert.Equal(t, cacheerrors.ErrCodeShutdownInProgress, cacheErr.Code)

	c.Close() // idempotent
}

// TestStartupRebuild tests that a new cache instance sees persisted entries
func TestStartupRebuild(t *testing.T) {
	cfg := testConfig(t)

	first := newTestCache(t, cfg, nil)
	require.NoError(t, first.Cache(context.Background(), testStream("s1", "First")))
	require.NoError(t, first.Cache(context.Background(), testStream("s2", "Second")))
	wantSize := first.Info().TotalSize
	first.Close()

	second := newTestCache(t, cfg, nil)
	info := second.Info()
	assert.Equal(t, 2, info.StreamCount)
	assert.Equal(t, 2, info.MetadataCount)
	assert.Equal(t, wantSize, info.TotalSize)

	got, ok := second.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "First", got.Title)
}

// TestRebuildDeletesCorrupt tests corrupt-entry handling at startup
func TestRebuildDeletesCorrupt(t *testing.T) {
	cfg := testConfig(t)
	store, err := fs.New(cfg.Storage.Directory, discardLogger())
	require.NoError(t, err)

	require.NoError(t, store.Put(types.AreaStreams, "bad-json", []byte("{not json")))
	require.NoError(t, store.Put(types.AreaStreams, "no-id", []byte(`{"stream":{"title":"x"}}`)))

	c, err := New(cfg, store, nil, nil, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.Zero(t, c.Info().StreamCount)

	// Both corrupt entries were deleted from storage
	data, err := store.Get(types.AreaStreams, "bad-json")
	require.NoError(t, err)
	assert.Nil(t, data)
	data, err = store.Get(types.AreaStreams, "no-id")
	require.NoError(t, err)
	assert.Nil(t, data)
}

// TestPredictNeed tests admission tiers through the cache surface
func TestPredictNeed(t *testing.T) {
	c := newTestCache(t, nil, nil)

	hot := testStream("hot", "Hot")
	hot.IsFavorite = true
	assert.Equal(t, types.TierHigh, c.PredictNeed(hot))

	cold := &types.Stream{ID: "cold", Platform: types.PlatformOther}
	assert.Equal(t, types.TierLow, c.PredictNeed(cold))
	assert.Equal(t, types.TierLow, c.PredictNeed(nil))

	// History left over from a cached life raises the tier
	require.NoError(t, c.Cache(context.Background(), hot))
	for i := 0; i < 12; i++ {
		c.Get("hot")
	}
	c.Remove("hot")
	assert.Equal(t, types.TierCritical, c.PredictNeed(hot))
}

// TestSubscribeEvents tests change notification delivery
func TestSubscribeEvents(t *testing.T) {
	c := newTestCache(t, nil, nil)

	id, ch := c.Subscribe()
	defer c.Unsubscribe(id)

	require.NoError(t, c.Cache(context.Background(), testStream("s1", "First")))
	require.NoError(t, c.Cache(context.Background(), testStream("s1", "First again")))
	c.Remove("s1")

	want := []types.EventKind{types.EventAdded, types.EventUpdated, types.EventRemoved}
	for _, kind := range want {
		select {
		case ev := <-ch:
			assert.Equal(t, kind, ev.Kind)
			assert.Equal(t, "s1", ev.StreamID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

// TestUnsubscribeClosesChannel tests listener teardown
func TestUnsubscribeClosesChannel(t *testing.T) {
	c := newTestCache(t, nil, nil)

	id, ch := c.Subscribe()
	c.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	c.Unsubscribe(id) // unknown id is ignored
}

// TestSlowSubscriberDoesNotBlock tests best-effort delivery
func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	c := newTestCache(t, nil, nil)

	id, _ := c.Subscribe()
	defer c.Unsubscribe(id)

	// Never read from the channel; mutations must still go through.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			_ = c.Cache(context.Background(), testStream("s1", "First"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}
