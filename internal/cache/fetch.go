package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/streamvault/streamvault/internal/circuit"
	"github.com/streamvault/streamvault/internal/config"
	cacheerrors "github.com/streamvault/streamvault/pkg/errors"
	"github.com/streamvault/streamvault/pkg/retry"
	"github.com/streamvault/streamvault/pkg/types"
)

// maxThumbnailBytes bounds a single thumbnail download. Platform thumbnails
// are a few hundred KB; anything past this is a misbehaving server.
const maxThumbnailBytes = 8 * 1024 * 1024

// HTTPFetcher downloads thumbnails over HTTP with retry and backoff. A
// circuit breaker per thumbnail host fails fast when a CDN keeps erroring.
// It is the default ThumbnailFetcher implementation.
type HTTPFetcher struct {
	client   *http.Client
	retryer  *retry.Retryer
	breakers *circuit.PerHost
	logger   *slog.Logger
}

// NewHTTPFetcher builds a fetcher from the fetch configuration. The timeout
// applies per attempt.
func NewHTTPFetcher(cfg config.FetchConfig, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}

	retryCfg := retry.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}

	return &HTTPFetcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		retryer: retry.New(retryCfg),
		breakers: circuit.NewPerHost(circuit.Config{
			OnStateChange: func(host string, from, to circuit.State) {
				logger.Warn("thumbnail host circuit state changed",
					"host", host, "from", from.String(), "to", to.String())
			},
		}),
		logger: logger,
	}
}

// Fetch downloads the thumbnail at rawURL. Transport failures and 5xx
// responses are retried with backoff and count against the host's circuit;
// 4xx responses fail immediately without tripping it.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, cacheerrors.New(cacheerrors.ErrCodeFetchFailed, "invalid thumbnail url").
			WithComponent("fetch").WithDetail("url", rawURL).WithRetryable(false)
	}
	breaker := f.breakers.Get(parsed.Host)

	var data []byte
	err = f.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return cacheerrors.Wrap(cacheerrors.ErrCodeFetchFailed, "invalid thumbnail request", err).
				WithComponent("fetch").WithRetryable(false)
		}

		var resp *http.Response
		if err := breaker.Execute(func() error {
			var err error
			resp, err = f.client.Do(req)
			if err != nil {
				return cacheerrors.Wrap(cacheerrors.ErrCodeNetworkError, "thumbnail request failed", err).
					WithComponent("fetch").WithDetail("url", rawURL)
			}
			if resp.StatusCode >= 500 {
				resp.Body.Close()
				return cacheerrors.New(cacheerrors.ErrCodeFetchFailed,
					fmt.Sprintf("thumbnail server error: %s", resp.Status)).
					WithComponent("fetch").WithDetail("url", rawURL)
			}
			return nil
		}); err != nil {
			return err
		}
		defer resp.Body.Close()

		// The host is responsive; a 4xx is not its fault and never retried.
		if resp.StatusCode != http.StatusOK {
			return cacheerrors.New(cacheerrors.ErrCodeFetchFailed,
				fmt.Sprintf("thumbnail rejected: %s", resp.Status)).
				WithComponent("fetch").WithDetail("url", rawURL).WithRetryable(false)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxThumbnailBytes+1))
		if err != nil {
			return cacheerrors.Wrap(cacheerrors.ErrCodeNetworkError, "failed to read thumbnail body", err).
				WithComponent("fetch").WithDetail("url", rawURL)
		}
		if len(body) > maxThumbnailBytes {
			return cacheerrors.New(cacheerrors.ErrCodeFetchFailed, "thumbnail exceeds size limit").
				WithComponent("fetch").WithDetail("url", rawURL).WithRetryable(false)
		}

		data = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// maybeFetchThumbnail starts a background download for a stream's thumbnail.
// Caller holds c.mu. No-ops when there is no URL, no fetcher, the cache is
// offline, or the current thumbnail already came from the same URL.
func (c *Cache) maybeFetchThumbnail(id, url string) {
	if url == "" || c.fetcher == nil || c.offlineMode || c.closed {
		return
	}
	if thumb, ok := c.thumbnails[id]; ok && thumb.SourceURL == url {
		return
	}

	// A newer URL supersedes any fetch still in flight for this stream.
	if cancel, ok := c.fetches[id]; ok {
		cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.fetches[id] = cancel

	go c.fetchThumbnail(ctx, id, url)
}

// fetchThumbnail runs outside the lock. Concurrent requests for the same
// stream+URL pair collapse into one download via singleflight.
func (c *Cache) fetchThumbnail(ctx context.Context, id, url string) {
	result, err, _ := c.flight.Do(id+"\x00"+url, func() (interface{}, error) {
		return c.fetcher.Fetch(ctx, url)
	})
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("thumbnail fetch canceled", "id", id, "url", url)
		} else {
			c.logger.Warn("thumbnail fetch failed",
				"id", id, "url", url,
				"code", cacheerrors.CodeOf(err),
				"error", err)
		}
		c.clearFetch(ctx, id)
		return
	}

	c.storeThumbnail(ctx, id, url, result.([]byte))
}

// storeThumbnail installs a completed download, unless the owning stream was
// removed or the fetch was superseded while the download ran.
func (c *Cache) storeThumbnail(ctx context.Context, id, url string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.fetches, id)

	if c.closed || ctx.Err() != nil {
		return
	}
	if _, ok := c.streams[id]; !ok {
		return
	}

	now := time.Now()
	thumb := &types.CachedThumbnail{
		StreamID:     id,
		SourceURL:    url,
		Data:         data,
		CachedAt:     now,
		LastAccessed: now,
		SizeBytes:    int64(len(data)),
	}

	if err := c.persistThumbnail(thumb); err != nil {
		c.logger.Warn("failed to persist thumbnail", "id", id, "error", err)
	}

	if prev, ok := c.thumbnails[id]; ok {
		c.totalSize -= prev.SizeBytes
	}
	c.thumbnails[id] = thumb
	c.totalSize += thumb.SizeBytes

	c.publishLocked(types.ChangeEvent{Kind: types.EventUpdated, StreamID: id, Timestamp: now})
	c.metrics.UpdateSize(c.totalSize)
}

// clearFetch drops the cancel registration for a finished fetch, but only if
// it still belongs to this attempt.
func (c *Cache) clearFetch(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() == nil {
		delete(c.fetches, id)
	}
}
