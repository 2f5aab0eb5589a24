package types

import (
	"time"
)

// Platform identifies the streaming service a stream originates from.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
	PlatformKick    Platform = "kick"
	PlatformOther   Platform = "other"
)

// Stream is the upstream-supplied value object describing a live stream.
// Discovery and platform resolution happen outside the cache; by the time a
// Stream reaches the cache it is fully populated.
type Stream struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Platform     Platform          `json:"platform"`
	ChannelName  string            `json:"channel_name"`
	Category     string            `json:"category"`
	Tags         []string          `json:"tags"`
	IsLive       bool              `json:"is_live"`
	ViewerCount  int64             `json:"viewer_count"`
	IsFavorite   bool              `json:"is_favorite"`
	StartedAt    time.Time         `json:"started_at"`
	ThumbnailURL string            `json:"thumbnail_url"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CachedStreamRecord is the cache's snapshot of a stream plus bookkeeping.
type CachedStreamRecord struct {
	StreamID     string    `json:"stream_id"`
	Stream       Stream    `json:"stream"`
	CachedAt     time.Time `json:"cached_at"`
	LastAccessed time.Time `json:"last_accessed"`
	SizeBytes    int64     `json:"size_bytes"`
}

// CachedThumbnail holds raw thumbnail bytes for a stream. One per stream id;
// re-caching overwrites.
type CachedThumbnail struct {
	StreamID     string    `json:"stream_id"`
	SourceURL    string    `json:"source_url"`
	Data         []byte    `json:"data"`
	CachedAt     time.Time `json:"cached_at"`
	LastAccessed time.Time `json:"last_accessed"`
	SizeBytes    int64     `json:"size_bytes"`
}

// CachedMetadataRecord carries descriptive fields derived from a stream,
// decoupled from the stream record so it can be refreshed independently.
type CachedMetadataRecord struct {
	StreamID     string    `json:"stream_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	Tags         []string  `json:"tags"`
	ViewerCount  int64     `json:"viewer_count"`
	IsLive       bool      `json:"is_live"`
	CachedAt     time.Time `json:"cached_at"`
	LastAccessed time.Time `json:"last_accessed"`
	SizeBytes    int64     `json:"size_bytes"`
}

// MaxAccessSamples caps the rolling access log per stream; the oldest
// timestamps are dropped first.
const MaxAccessSamples = 100

// AccessPattern tracks how often and how recently a stream has been read.
type AccessPattern struct {
	StreamID        string      `json:"stream_id"`
	FirstAccessed   time.Time   `json:"first_accessed"`
	LastAccessed    time.Time   `json:"last_accessed"`
	AccessFrequency int64       `json:"access_frequency"`
	AccessTimes     []time.Time `json:"access_times"`
}

// AverageInterval returns the mean gap between recorded accesses, or 0 when
// fewer than two samples exist.
func (p *AccessPattern) AverageInterval() time.Duration {
	if len(p.AccessTimes) < 2 {
		return 0
	}
	total := time.Duration(0)
	for i := 1; i < len(p.AccessTimes); i++ {
		total += p.AccessTimes[i].Sub(p.AccessTimes[i-1])
	}
	return total / time.Duration(len(p.AccessTimes)-1)
}

// IsFrequentlyAccessed reports whether the stream is read often and at short
// intervals: more than 10 accesses with an average gap under an hour.
func (p *AccessPattern) IsFrequentlyAccessed() bool {
	return p.AccessFrequency > 10 && p.AverageInterval() < time.Hour && p.AverageInterval() > 0
}

// Recency returns how long ago the stream was last accessed.
func (p *AccessPattern) Recency(now time.Time) time.Duration {
	return now.Sub(p.LastAccessed)
}

// PriorityTier is the coarse admission classification for a not-yet-cached
// stream.
type PriorityTier string

const (
	TierLow      PriorityTier = "low"
	TierMedium   PriorityTier = "medium"
	TierHigh     PriorityTier = "high"
	TierCritical PriorityTier = "critical"
)

// CacheStatus is the derived health of the cache, recomputed on the
// health-check tick rather than on every mutation.
type CacheStatus string

const (
	StatusEmpty   CacheStatus = "empty"
	StatusHealthy CacheStatus = "healthy"
	StatusWarning CacheStatus = "warning"
	StatusFull    CacheStatus = "full"
)

// CacheInfo is a point-in-time summary of the cache for UI and observability
// consumers.
type CacheInfo struct {
	TotalSize      int64       `json:"total_size"`
	MaxSize        int64       `json:"max_size"`
	StreamCount    int         `json:"stream_count"`
	ThumbnailCount int         `json:"thumbnail_count"`
	MetadataCount  int         `json:"metadata_count"`
	Status         CacheStatus `json:"status"`
	Utilization    float64     `json:"utilization"`
	OfflineMode    bool        `json:"offline_mode"`
	SmartCaching   bool        `json:"smart_caching"`
}

// EventKind discriminates cache change events.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
)

// ChangeEvent is emitted on every cache mutation. Delivery is best-effort and
// in-process only.
type ChangeEvent struct {
	Kind      EventKind `json:"kind"`
	StreamID  string    `json:"stream_id"`
	Timestamp time.Time `json:"timestamp"`
}
