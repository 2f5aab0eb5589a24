package types

import (
	"context"
	"time"
)

// Area names a logical storage area. Each area is an independent key space
// backed by its own subdirectory (filesystem) or key prefix (S3).
type Area string

const (
	AreaStreams    Area = "streams"
	AreaThumbnails Area = "thumbnails"
	AreaMetadata   Area = "metadata"
)

// Areas lists every storage area in a stable order.
func Areas() []Area {
	return []Area{AreaStreams, AreaThumbnails, AreaMetadata}
}

// Storage is the key-value byte interface the cache persists through. It
// carries no policy: serialization, corruption handling, and eviction all
// belong to the caller.
type Storage interface {
	// Put writes data under key in the given area, overwriting any
	// previous value.
	Put(area Area, key string, data []byte) error

	// Get returns the bytes stored under key, or (nil, nil) when the key
	// is absent.
	Get(area Area, key string) ([]byte, error)

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(area Area, key string) error

	// ListKeys enumerates every key in the area. Used only for the
	// startup index rebuild.
	ListKeys(area Area) ([]string, error)
}

// ThumbnailFetcher resolves a thumbnail URL into raw bytes. Fetching is the
// one slow, cancellable operation in the system; implementations must honor
// ctx cancellation.
type ThumbnailFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// MetricsCollector receives cache activity for observability backends.
type MetricsCollector interface {
	RecordHit(area Area)
	RecordMiss(area Area)
	RecordOperation(operation string, duration time.Duration, success bool)
	RecordEviction(reason string, count int)
	RecordCleanupPass(duration time.Duration)
	UpdateSize(bytes int64)
	UpdateUtilization(fraction float64)
	UpdateEntryCount(area Area, count int)
}

// NopMetrics discards all measurements. Used when no collector is wired in.
type NopMetrics struct{}

func (NopMetrics) RecordHit(Area)                                {}
func (NopMetrics) RecordMiss(Area)                               {}
func (NopMetrics) RecordOperation(string, time.Duration, bool)   {}
func (NopMetrics) RecordEviction(string, int)                    {}
func (NopMetrics) RecordCleanupPass(time.Duration)               {}
func (NopMetrics) UpdateSize(int64)                              {}
func (NopMetrics) UpdateUtilization(float64)                     {}
func (NopMetrics) UpdateEntryCount(Area, int)                    {}
