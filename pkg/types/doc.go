/*
Package types provides the core interfaces and data structures for StreamVault.

This package is the contract layer between the cache engine and its
collaborators. The upstream discovery layer supplies fully-populated Stream
values; the cache owns the three cached record kinds (stream records,
thumbnails, metadata records) and their bookkeeping fields; storage backends
implement the Storage interface over three independent areas.

# Core Interfaces

Storage:
A pure key-to-bytes interface over the streams, thumbnails, and metadata
areas. Implementations exist for a local directory tree and for an S3 bucket.

ThumbnailFetcher:
Resolves a thumbnail URL into raw bytes. The cache treats fetching as
best-effort background work; a fetch failure never fails the surrounding
cache operation.

MetricsCollector:
Receives hits, misses, evictions, and size updates for export to a metrics
backend. NopMetrics satisfies it for wiring without observability.

# Data Structures

CachedStreamRecord, CachedThumbnail, and CachedMetadataRecord each carry a
CachedAt/LastAccessed pair and an estimated SizeBytes. The three key spaces
are independent: a stream id may have an entry in any subset of them.

AccessPattern keeps a rolling log of access timestamps, capped at
MaxAccessSamples, plus derived signals used by the priority scorer.
*/
package types
