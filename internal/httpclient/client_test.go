package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skinarb/internal/cache"
	"skinarb/internal/errs"
	"skinarb/internal/ratelimit"
)

func openLimiter() *ratelimit.Limiter {
	return ratelimit.New(func(string) (float64, int) { return 1000, 1000 })
}

func newTestClient() *Client {
	c := New(openLimiter(), nil, nil)
	c.SetRetryBase(time.Millisecond)
	return c
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json, text/plain, */*", r.Header.Get("Accept"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := newTestClient().Fetch(context.Background(), Request{Source: "test", URL: srv.URL})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(body))
}

func TestFetchRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`"done"`))
	}))
	defer srv.Close()

	body, err := newTestClient().Fetch(context.Background(), Request{Source: "test", URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, `"done"`, string(body))
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient().Fetch(context.Background(), Request{
		Source: "test", URL: srv.URL, MaxRetries: 2,
	})
	var apiErr *errs.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "test", apiErr.Source)
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("denied"))
	}))
	defer srv.Close()

	_, err := newTestClient().Fetch(context.Background(), Request{Source: "test", URL: srv.URL})
	var apiErr *errs.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.Status)
	require.Equal(t, "denied", apiErr.Body)
	require.Equal(t, int32(1), calls.Load())
}

func TestFetchMergesHeadersAndParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
		require.Equal(t, "7", r.URL.Query().Get("page"))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := newTestClient().Fetch(context.Background(), Request{
		Source:  "test",
		URL:     srv.URL,
		Params:  map[string][]string{"page": {"7"}},
		Headers: map[string]string{"Authorization": "Bearer token123"},
	})
	require.NoError(t, err)
}

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"AK-47 | Redline","price":10.5}`))
	}))
	defer srv.Close()

	var out struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	require.NoError(t, newTestClient().FetchJSON(context.Background(), Request{Source: "test", URL: srv.URL}, &out))
	require.Equal(t, "AK-47 | Redline", out.Name)

	srvBad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srvBad.Close()

	err := newTestClient().FetchJSON(context.Background(), Request{Source: "test", URL: srvBad.URL}, &out)
	var parseErr *errs.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestFetchServesFromCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"call":%d}`, calls.Add(1))
	}))
	defer srv.Close()

	c := newTestClient()
	store := cache.New(cache.Options{Namespace: "test", DiskEnabled: false})
	req := Request{
		Source:   "test",
		URL:      srv.URL,
		Params:   url.Values{"page": {"1"}},
		Cache:    store,
		CacheTTL: time.Minute,
	}

	first, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), calls.Load())

	// A different query string is a different cache entry.
	req.Params = url.Values{"page": {"2"}}
	_, err = c.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())

	// Non-GET requests bypass the cache entirely.
	post := Request{Source: "test", Method: http.MethodPost, URL: srv.URL, Cache: store}
	for i := 0; i < 2; i++ {
		_, err = c.Fetch(context.Background(), post)
		require.NoError(t, err)
	}
	require.Equal(t, int32(4), calls.Load())
}

func TestSourceStats(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient()
	_, err := c.Fetch(context.Background(), Request{Source: "test", URL: srv.URL})
	require.NoError(t, err)

	st := c.SourceStats("test")
	require.Equal(t, int64(2), st.Made)
	require.Equal(t, int64(1), st.RateLimited)
	require.Equal(t, int64(0), st.Failed)

	// Unknown sources report zeroes rather than allocating.
	require.Zero(t, c.SourceStats("other"))
}

func TestBackoffHonorsRetryAfter(t *testing.T) {
	c := newTestClient()
	delay := c.backoff(1, &errs.RateLimitError{Source: "test", RetryAfter: 50 * time.Millisecond})
	require.Equal(t, 50*time.Millisecond, delay)

	// Without Retry-After the base doubles per attempt.
	c.SetRetryBase(10 * time.Millisecond)
	require.Equal(t, 10*time.Millisecond, c.backoff(1, nil))
	require.Equal(t, 20*time.Millisecond, c.backoff(2, nil))
	require.Equal(t, 40*time.Millisecond, c.backoff(3, nil))
}

func TestAvgResponseTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient()
	require.Zero(t, c.AvgResponseTime())
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), Request{Source: "test", URL: srv.URL})
		require.NoError(t, err)
	}
	require.Greater(t, c.AvgResponseTime(), time.Duration(0))
}

func TestParseRetryAfter(t *testing.T) {
	require.Equal(t, 30*time.Second, parseRetryAfter("30"))
	require.Zero(t, parseRetryAfter(""))
	require.Zero(t, parseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
}
