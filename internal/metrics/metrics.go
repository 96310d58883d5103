package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the aggregation engine.
type Metrics struct {
	// HTTP client metrics
	RequestsTotal  *prometheus.CounterVec
	RateLimitHits  *prometheus.CounterVec
	ProxyRotations prometheus.Counter
	ResponseTime   *prometheus.HistogramVec

	// Scraper metrics
	ItemsScraped   *prometheus.GaugeVec
	ScrapeDuration *prometheus.HistogramVec
	ScrapeFailures *prometheus.CounterVec

	// Cache metrics
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	// Proxy pool metrics
	ActivePools prometheus.Gauge

	// Arbitrage metrics
	OpportunitiesFound prometheus.Gauge
	EngineDuration     prometheus.Histogram

	server *http.Server
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arb_requests_total",
				Help: "Total HTTP requests by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arb_rate_limit_hits_total",
				Help: "Total HTTP 429 responses by source",
			},
			[]string{"source"},
		),
		ProxyRotations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arb_proxy_rotations_total",
				Help: "Total proxy rotations triggered by request failures",
			},
		),
		ResponseTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arb_response_time_seconds",
				Help:    "Upstream response time by source",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"source"},
		),
		ItemsScraped: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "arb_items_scraped",
				Help: "Items produced by the latest run of each source",
			},
			[]string{"source"},
		),
		ScrapeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arb_scrape_duration_seconds",
				Help:    "Duration of one adapter run",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
			},
			[]string{"source"},
		),
		ScrapeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arb_scrape_failures_total",
				Help: "Adapter runs that ended in error",
			},
			[]string{"source"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arb_cache_hits_total",
				Help: "Cache lookups served from memory or disk",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arb_cache_misses_total",
				Help: "Cache lookups that missed both tiers",
			},
		),
		CacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arb_cache_evictions_total",
				Help: "Entries evicted to satisfy cache bounds",
			},
		),
		ActivePools: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arb_proxy_active_pools",
				Help: "Region pools currently active",
			},
		),
		OpportunitiesFound: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arb_opportunities_found",
				Help: "Opportunities in the latest engine run",
			},
		),
		EngineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arb_engine_duration_seconds",
				Help:    "Duration of one arbitrage engine run",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
		),
	}

	prometheus.MustRegister(
		m.RequestsTotal,
		m.RateLimitHits,
		m.ProxyRotations,
		m.ResponseTime,
		m.ItemsScraped,
		m.ScrapeDuration,
		m.ScrapeFailures,
		m.CacheHits,
		m.CacheMisses,
		m.CacheEvictions,
		m.ActivePools,
		m.OpportunitiesFound,
		m.EngineDuration,
	)

	return m
}

// StartServer starts the HTTP server for Prometheus metrics.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	m.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Info().Int("port", port).Str("path", path).Msg("Starting metrics server")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

// RecordRequest records one HTTP request outcome and its response time.
func (m *Metrics) RecordRequest(source, outcome string, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(source, outcome).Inc()
	m.ResponseTime.WithLabelValues(source).Observe(elapsed.Seconds())
}

// RecordRateLimitHit records an HTTP 429 from a source.
func (m *Metrics) RecordRateLimitHit(source string) {
	m.RateLimitHits.WithLabelValues(source).Inc()
}

// RecordProxyRotation records a failure-triggered proxy rotation.
func (m *Metrics) RecordProxyRotation() {
	m.ProxyRotations.Inc()
}

// RecordScrape records the outcome of one adapter run.
func (m *Metrics) RecordScrape(source string, items int, d time.Duration) {
	m.ItemsScraped.WithLabelValues(source).Set(float64(items))
	m.ScrapeDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordScrapeFailure records an adapter run that ended in error.
func (m *Metrics) RecordScrapeFailure(source string) {
	m.ScrapeFailures.WithLabelValues(source).Inc()
}

// RecordCacheHit increments the cache hit counter.
func (m *Metrics) RecordCacheHit() { m.CacheHits.Inc() }

// RecordCacheMiss increments the cache miss counter.
func (m *Metrics) RecordCacheMiss() { m.CacheMisses.Inc() }

// RecordCacheEviction increments the cache eviction counter.
func (m *Metrics) RecordCacheEviction() { m.CacheEvictions.Inc() }

// SetActivePools sets the number of active proxy region pools.
func (m *Metrics) SetActivePools(n int) {
	m.ActivePools.Set(float64(n))
}

// RecordEngineRun records the result of one arbitrage engine run.
func (m *Metrics) RecordEngineRun(opportunities int, d time.Duration) {
	m.OpportunitiesFound.Set(float64(opportunities))
	m.EngineDuration.Observe(d.Seconds())
}
