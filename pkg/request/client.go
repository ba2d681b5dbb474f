package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"docuscene/pkg/cache"
	"docuscene/pkg/tracker"
	"docuscene/pkg/version"
)

type ctxKey string

// CtxProviderLabel overrides the host-derived provider name used for
// statistics when set on a request context.
const CtxProviderLabel ctxKey = "provider_label"

var defaultUserAgent = fmt.Sprintf("docuscene/%s (+https://github.com/docuscene/docuscene)", version.Version)

// ClientConfig tunes retries and pacing. Zero values take defaults.
type ClientConfig struct {
	Retries   int
	Timeout   time.Duration
	BaseDelay time.Duration
	MaxDelay  time.Duration
	SafetyGap time.Duration // Pause between two requests to the same provider
	UserAgent string
	Logger    *slog.Logger // Request trace log; nil disables tracing
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.SafetyGap < 0 {
		c.SafetyGap = 0
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}

// Client handles HTTP requests with per-provider queuing, caching, and tracking.
type Client struct {
	httpClient *http.Client
	cache      cache.Cacher
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	cfg        ClientConfig

	// Queues per provider (domain)
	queues map[string]chan job
	mu     sync.Mutex
}

// job represents a queued request. sink consumes the successful response body.
type job struct {
	req      *http.Request
	headers  map[string]string
	provider string
	sink     func(io.Reader) error
	done     chan error
}

// New creates a new Client. c may be nil to disable caching.
func New(c cache.Cacher, t *tracker.Tracker, cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      c,
		tracker:    t,
		backoff:    NewProviderBackoff(cfg.BaseDelay, cfg.MaxDelay),
		cfg:        cfg,
		queues:     make(map[string]chan job),
	}
}

// Get performs a GET request with queuing and caching if key is provided.
func (c *Client) Get(ctx context.Context, u, cacheKey string) ([]byte, error) {
	return c.GetWithHeaders(ctx, u, nil, cacheKey)
}

// GetWithHeaders performs a GET request with custom headers and optional caching.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string, cacheKey string) ([]byte, error) {
	provider, err := providerFor(ctx, u)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" && c.cache != nil {
		if val, hit := c.cache.GetCache(ctx, cacheKey); hit {
			c.tracker.TrackCacheHit(provider)
			slog.Debug("Cache Hit", "provider", provider, "key", cacheKey)
			return val, nil
		}
		c.tracker.TrackCacheMiss(provider)
		slog.Debug("Cache Miss", "provider", provider, "key", cacheKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.readAll(ctx, provider, req, headers)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" && c.cache != nil {
		if err := c.cache.SetCache(ctx, cacheKey, body); err != nil {
			slog.Error("Failed to cache response", "url", u, "error", err)
		}
	}
	return body, nil
}

// PostWithHeaders performs a POST request with custom headers and queuing.
func (c *Client) PostWithHeaders(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	provider, err := providerFor(ctx, u)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.readAll(ctx, provider, req, headers)
}

// Download streams the resource at u into dst. The file only appears at dst
// once the transfer completed; partial downloads are removed.
func (c *Client) Download(ctx context.Context, u, dst string) (int64, error) {
	provider, err := providerFor(ctx, u)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create download dir: %w", err)
	}

	var written int64
	tmp := dst + ".part"
	err = c.enqueue(ctx, provider, req, nil, func(r io.Reader) error {
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		n, copyErr := io.Copy(f, r)
		closeErr := f.Close()
		if copyErr != nil {
			return copyErr
		}
		if closeErr != nil {
			return closeErr
		}
		written = n
		return nil
	})
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to finalize download: %w", err)
	}
	return written, nil
}

func (c *Client) readAll(ctx context.Context, provider string, req *http.Request, headers map[string]string) ([]byte, error) {
	var body []byte
	err := c.enqueue(ctx, provider, req, headers, func(r io.Reader) error {
		b, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}
		body = b
		return nil
	})
	return body, err
}

// enqueue hands the request to the provider's worker and waits for the outcome.
func (c *Client) enqueue(ctx context.Context, provider string, req *http.Request, headers map[string]string, sink func(io.Reader) error) error {
	j := job{req: req, headers: headers, provider: provider, sink: sink, done: make(chan error, 1)}
	c.dispatch(provider, j)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-j.done:
		return err
	}
}

func providerFor(ctx context.Context, u string) (string, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if label, ok := ctx.Value(CtxProviderLabel).(string); ok && label != "" {
		return label, nil
	}
	return normalizeProvider(parsed.Host), nil
}

func normalizeProvider(host string) string {
	host = strings.ToLower(host)
	switch {
	case host == "pexels.com" || strings.HasSuffix(host, ".pexels.com"):
		return "pexels"
	case host == "pixabay.com" || strings.HasSuffix(host, ".pixabay.com"):
		return "pixabay"
	case strings.HasSuffix(host, "googleapis.com"):
		return "gemini"
	case strings.HasSuffix(host, "openai.com"):
		return "openai"
	}
	return host
}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[provider] = q
		go c.worker(provider, q)
	}
	c.mu.Unlock()

	// Blocks when the queue is full, throttling the caller.
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.done <- j.req.Context().Err()
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	for j := range q {
		ctx := j.req.Context()
		if ctx.Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", ctx.Err())
			j.done <- ctx.Err()
			continue
		}

		uaSet := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaSet = true
			}
		}
		if !uaSet {
			j.req.Header.Set("User-Agent", c.cfg.UserAgent)
		}

		start := time.Now()
		err := c.executeWithBackoff(provider, j.req, j.sink)
		c.trace(provider, j.req, time.Since(start), err)

		if err == nil {
			c.tracker.TrackAPISuccess(provider)
		} else {
			c.tracker.TrackAPIFailure(provider)
		}
		j.done <- err

		if c.cfg.SafetyGap > 0 {
			time.Sleep(c.cfg.SafetyGap)
		}
	}
}

// executeWithBackoff attempts the request with exponential backoff on
// network errors, 429 and 5xx responses.
func (c *Client) executeWithBackoff(provider string, req *http.Request, sink func(io.Reader) error) error {
	ctx := req.Context()

	for attempt := 0; attempt < c.cfg.Retries; attempt++ {
		if err := c.backoff.Wait(ctx, provider); err != nil {
			return err
		}
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return fmt.Errorf("failed to rewind request body: %w", err)
			}
			req.Body = body
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("Request failed, retrying", "provider", provider, "attempt", attempt+1, "error", err)
			if err := c.sleep(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
			resp.Body.Close()
			slog.Warn("API Backoff", "provider", provider, "status", resp.StatusCode, "attempt", attempt+1)
			if resp.StatusCode == http.StatusTooManyRequests {
				c.backoff.RecordFailure(provider)
				c.backoff.Defer(provider, retryAfter(resp.Header.Get("Retry-After")))
			}
			if err := c.sleep(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		}

		c.backoff.RecordSuccess(provider)
		err = sink(resp.Body)
		resp.Body.Close()
		return err
	}

	return fmt.Errorf("max retries exceeded for %s", provider)
}

// retryAfter parses a Retry-After header given in seconds. HTTP dates and
// junk yield 0.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	d := time.Duration(math.Pow(2, float64(attempt))) * c.cfg.BaseDelay
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) trace(provider string, req *http.Request, took time.Duration, err error) {
	if c.cfg.Logger == nil {
		return
	}
	attrs := []any{"provider", provider, "method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "took", took.Round(time.Millisecond)}
	if err != nil {
		c.cfg.Logger.Warn("request failed", append(attrs, "error", err)...)
		return
	}
	c.cfg.Logger.Info("request", attrs...)
}

// StatusError is returned for non-retryable HTTP error responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}
