// Package scraper runs the marketplace source adapters: shared dependencies,
// listing normalization, and the supervised runtime that schedules them.
package scraper

import (
	"context"
	"time"

	"skinarb/internal/cache"
	"skinarb/internal/catalog"
	"skinarb/internal/config"
	"skinarb/internal/httpclient"
	"skinarb/internal/metrics"
	"skinarb/internal/models"
)

// Adapter is one marketplace source. Scrape returns whatever it accumulated
// even on error; the runtime persists partial results.
type Adapter interface {
	Name() string
	Interval() time.Duration
	Scrape(ctx context.Context) ([]models.Listing, error)
}

// ExternalSnapshotter is implemented by adapters whose snapshot file is
// produced by an out-of-band collector. The runtime must not rewrite that
// file: doing so would reset the modification time the freshness check
// reads and clobber the collector's output.
type ExternalSnapshotter interface {
	ExternalSnapshot() bool
}

// Deps is everything an adapter may need. APIKey is empty for keyless
// sources.
type Deps struct {
	Client  *httpclient.Client
	Config  config.SourceConfig
	APIKey  string
	Cache   *cache.Cache
	Store   *catalog.Store
	Metrics *metrics.Metrics
}

// Factory builds one adapter from its dependencies.
type Factory func(Deps) (Adapter, error)
