// internal/adapters/cdn/client.go
package cdn

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"navigatum_sync/internal/adapters/observability"
	"navigatum_sync/internal/domain"
)

type Options struct {
	SnapshotPath string
	StatusPath   string
	Timeout      time.Duration
	RPS          int
	// Retries on 429/5xx. Zero leaves retrying to whoever schedules the sync.
	Retries     int
	RequireHash bool
}

type Client struct {
	base string
	opts Options
	hc   *http.Client
	rl   *rate.Limiter
}

func New(base string, opts Options) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("CDN base URL is required")
	}
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.SnapshotPath == "" {
		opts.SnapshotPath = "/api_data"
	}
	if opts.StatusPath == "" {
		opts.StatusPath = "/status_data"
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		opts: opts,
		hc:   &http.Client{Timeout: opts.Timeout},
		rl:   rate.NewLimiter(rate.Limit(opts.RPS), opts.RPS),
	}, nil
}

// FetchSnapshot downloads and decodes the full snapshot.
func (c *Client) FetchSnapshot(ctx context.Context) ([]domain.RawRecord, error) {
	body, err := c.get(ctx, "api_data", c.opts.SnapshotPath)
	if err != nil {
		return nil, err
	}
	return ParseSnapshot(body, c.opts.RequireHash)
}

// FetchStatus downloads the (id, hash) pairs only.
func (c *Client) FetchStatus(ctx context.Context) ([]domain.StatusEntry, error) {
	body, err := c.get(ctx, "status_data", c.opts.StatusPath)
	if err != nil {
		return nil, err
	}
	return ParseStatus(body)
}

// ---- Internals ----

// get performs a GET with client-side rate limiting and returns the body of a
// 2xx response. Every failure comes back as *domain.NetworkError.
func (c *Client) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	url := c.base + "/" + strings.TrimLeft(path, "/")
	if err := c.rl.Wait(ctx); err != nil {
		return nil, &domain.NetworkError{URL: url, Err: err}
	}

	attempts := c.opts.Retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		// build a fresh request each attempt
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, &domain.NetworkError{URL: url, Err: err}
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "navigatum-sync/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal("cdn", endpoint, 0, time.Since(start))
			lastErr = &domain.NetworkError{URL: url, Err: err}
			if ctx.Err() != nil {
				return nil, &domain.NetworkError{URL: url, Err: ctx.Err()}
			}
			if i < attempts-1 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			return nil, lastErr
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			observability.ObserveExternal("cdn", endpoint, resp.StatusCode, time.Since(start))
			if err != nil {
				return nil, &domain.NetworkError{URL: url, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
			}
			return body, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			// Prefer server-provided Retry-After; otherwise exponential backoff.
			wait := retryAfter(resp)
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			observability.ObserveExternal("cdn", endpoint, resp.StatusCode, time.Since(start))
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = &domain.NetworkError{URL: url, Status: resp.StatusCode, Err: fmt.Errorf("remote %d", resp.StatusCode)}
			if i < attempts-1 && sleepCtx(ctx, wait) {
				continue
			}
			return nil, lastErr

		default:
			// read a small error body for diagnostics
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			observability.ObserveExternal("cdn", endpoint, resp.StatusCode, time.Since(start))
			return nil, &domain.NetworkError{
				URL:    url,
				Status: resp.StatusCode,
				Err:    fmt.Errorf("bad status: %s", strings.TrimSpace(string(b))),
			}
		}
	}
	return nil, lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns 200ms, 400ms, 800ms... plus up to 50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
