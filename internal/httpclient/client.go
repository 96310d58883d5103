// Package httpclient provides the shared connection-pooled fetcher used by
// every source adapter: rate limiting, proxy binding, retries with
// exponential back-off, and request metrics.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"skinarb/internal/cache"
	"skinarb/internal/errs"
	"skinarb/internal/metrics"
	"skinarb/internal/proxy"
	"skinarb/internal/ratelimit"
)

const (
	defaultTimeout    = 30 * time.Second
	connectTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultRetryBase  = time.Second
	responseWindow    = 100
	maxErrorBody      = 512
)

var defaultHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Accept":     "application/json, text/plain, */*",
}

type proxyKey struct{}

// Request describes one upstream call. When Cache is set, GET responses are
// served from and written through to it, keyed on the full URL including
// query parameters, with CacheTTL (the cache default when zero).
type Request struct {
	Source     string
	Method     string
	URL        string
	Params     url.Values
	Headers    map[string]string
	Body       []byte
	Timeout    time.Duration
	MaxRetries int
	Cache      *cache.Cache
	CacheTTL   time.Duration
}

// RequestStats is a point-in-time copy of one source's request counters.
type RequestStats struct {
	Made        int64
	Failed      int64
	RateLimited int64
}

// Client is the shared fetcher. One instance serves all adapters.
type Client struct {
	http      *http.Client
	limiter   *ratelimit.Limiter
	pool      *proxy.Pool // nil when proxies are disabled
	metrics   *metrics.Metrics
	retryBase time.Duration

	mu            sync.Mutex
	responseTimes []float64 // seconds, last responseWindow
	stats         map[string]*RequestStats
}

// New creates the shared client. pool and m may be nil.
func New(limiter *ratelimit.Limiter, pool *proxy.Pool, m *metrics.Metrics) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 30,
		MaxConnsPerHost:     30,
		IdleConnTimeout:     90 * time.Second,
		// Per-request proxy binding: the pool's pick travels in the
		// request context.
		Proxy: func(r *http.Request) (*url.URL, error) {
			if raw, ok := r.Context().Value(proxyKey{}).(string); ok && raw != "" {
				return url.Parse(raw)
			}
			return nil, nil
		},
	}
	return &Client{
		http:      &http.Client{Transport: transport},
		limiter:   limiter,
		pool:      pool,
		metrics:   m,
		retryBase: defaultRetryBase,
		stats:     make(map[string]*RequestStats),
	}
}

// SetRetryBase overrides the back-off base delay. Tests use this to keep
// retry loops fast.
func (c *Client) SetRetryBase(d time.Duration) { c.retryBase = d }

// Fetch performs the request and returns the response body. Retryable
// failures (HTTP 429, network errors, timeouts) are retried with
// exponential back-off, rotating the proxy between attempts; other HTTP
// errors return an APIError immediately.
func (c *Client) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Timeout <= 0 {
		req.Timeout = defaultTimeout
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	fullURL := req.URL
	if len(req.Params) > 0 {
		sep := "?"
		if u, err := url.Parse(req.URL); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		fullURL = req.URL + sep + req.Params.Encode()
	}

	// The cache is consulted before the limiter: a hit costs no token and
	// never touches the upstream.
	cacheable := req.Cache != nil && req.Method == http.MethodGet && len(req.Body) == 0
	if cacheable {
		if body, ok := req.Cache.Get(fullURL); ok {
			return body, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Acquire(ctx, req.Source); err != nil {
			return nil, err
		}

		body, err := c.doOnce(ctx, req, fullURL)
		if err == nil {
			if cacheable {
				req.Cache.Set(fullURL, body, req.CacheTTL)
			}
			return body, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		if c.pool != nil && c.metrics != nil {
			c.metrics.RecordProxyRotation()
		}
		log.Warn().
			Err(err).
			Str("source", req.Source).
			Int("attempt", attempt+1).
			Int("max", maxRetries+1).
			Msg("Request failed, retrying")
	}

	return nil, &errs.APIError{Source: req.Source, URL: fullURL, Err: lastErr}
}

// doOnce performs a single attempt.
func (c *Client) doOnce(ctx context.Context, req Request, fullURL string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var lease *proxy.Lease
	if c.pool != nil {
		if lease = c.pool.Get(); lease != nil {
			attemptCtx = context.WithValue(attemptCtx, proxyKey{}, lease.URL)
		}
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range defaultHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		lease.Report(false, elapsed)
		c.record(req.Source, "failed", elapsed)
		return nil, &netError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		lease.Report(false, elapsed)
		c.record(req.Source, "rate_limited", elapsed)
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit(req.Source)
		}
		return nil, &errs.RateLimitError{
			Source:     req.Source,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if resp.StatusCode >= 400 {
		lease.Report(true, elapsed)
		c.record(req.Source, "failed", elapsed)
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &errs.APIError{
			Source: req.Source,
			Status: resp.StatusCode,
			URL:    fullURL,
			Body:   string(data),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		lease.Report(false, elapsed)
		c.record(req.Source, "failed", elapsed)
		return nil, &netError{err}
	}

	lease.Report(true, elapsed)
	c.record(req.Source, "success", elapsed)
	return data, nil
}

// FetchJSON performs the request and decodes the JSON response into dst.
func (c *Client) FetchJSON(ctx context.Context, req Request, dst any) error {
	data, err := c.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &errs.ParseError{Source: req.Source, Msg: "decoding JSON response", Err: err}
	}
	return nil
}

// backoff computes the delay before the given attempt, honoring Retry-After
// from a rate-limit response when it is longer.
func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	delay := c.retryBase * time.Duration(1<<(attempt-1))
	var rl *errs.RateLimitError
	if errors.As(lastErr, &rl) && rl.RetryAfter > delay {
		delay = rl.RetryAfter
	}
	return delay
}

func (c *Client) record(source, outcome string, elapsed time.Duration) {
	c.mu.Lock()
	c.responseTimes = append(c.responseTimes, elapsed.Seconds())
	if len(c.responseTimes) > responseWindow {
		c.responseTimes = c.responseTimes[len(c.responseTimes)-responseWindow:]
	}
	st := c.stats[source]
	if st == nil {
		st = &RequestStats{}
		c.stats[source] = st
	}
	st.Made++
	switch outcome {
	case "failed":
		st.Failed++
	case "rate_limited":
		st.RateLimited++
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordRequest(source, outcome, elapsed)
	}
}

// SourceStats returns the cumulative request counters for one source.
func (c *Client) SourceStats(source string) RequestStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.stats[source]; ok {
		return *st
	}
	return RequestStats{}
}

// AvgResponseTime returns the mean of the rolling response-time window.
func (c *Client) AvgResponseTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.responseTimes) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range c.responseTimes {
		sum += t
	}
	return time.Duration(sum / float64(len(c.responseTimes)) * float64(time.Second))
}

// netError marks transport-level failures as retryable.
type netError struct{ err error }

func (e *netError) Error() string { return e.err.Error() }
func (e *netError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var ne *netError
	if errors.As(err, &ne) {
		return true
	}
	var rl *errs.RateLimitError
	return errors.As(err, &rl)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
