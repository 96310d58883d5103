package scraper

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"skinarb/internal/catalog"
	"skinarb/internal/httpclient"
	"skinarb/internal/metrics"
	"skinarb/internal/models"
)

// StatsSource reports cumulative per-source request counters. The shared
// HTTP client implements it; the runtime diffs the counters around each run
// to fill the snapshot metrics.
type StatsSource interface {
	SourceStats(source string) httpclient.RequestStats
}

// referenceChain are the reference-marketplace adapters that must run in
// order when scheduled together: the listing scan discovers item names, the
// id resolver maps them, and the histogram scan consumes the ids.
var referenceChain = []string{"steamlisting", "steamid", "steammarket"}

// Runtime schedules adapters under a global concurrency cap and persists
// their snapshots.
type Runtime struct {
	store    *catalog.Store
	metrics  *metrics.Metrics
	sem      *semaphore.Weighted
	stats    StatsSource
	adapters []Adapter
}

// NewRuntime creates a runtime with the given global concurrency cap.
func NewRuntime(store *catalog.Store, m *metrics.Metrics, maxConcurrent int) *Runtime {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Runtime{
		store:   store,
		metrics: m,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Add registers an adapter with the runtime.
func (r *Runtime) Add(a Adapter) {
	r.adapters = append(r.adapters, a)
}

// SetStatsSource wires the request-counter source, usually the shared HTTP
// client.
func (r *Runtime) SetStatsSource(s StatsSource) {
	r.stats = s
}

// partition splits the registered adapters into the ordered reference chain
// and the independent rest.
func (r *Runtime) partition() (chain, rest []Adapter) {
	byName := make(map[string]Adapter, len(r.adapters))
	for _, a := range r.adapters {
		byName[a.Name()] = a
	}
	inChain := make(map[string]bool, len(referenceChain))
	for _, name := range referenceChain {
		if a, ok := byName[name]; ok {
			chain = append(chain, a)
			inChain[name] = true
		}
	}
	for _, a := range r.adapters {
		if !inChain[a.Name()] {
			rest = append(rest, a)
		}
	}
	return chain, rest
}

// RunOnce runs every registered adapter one time and returns the per-source
// results, sorted by source tag. A failing adapter never stops the others.
func (r *Runtime) RunOnce(ctx context.Context) []models.SourceResult {
	chain, rest := r.partition()

	results := make([]models.SourceResult, 0, len(r.adapters))
	resultCh := make(chan models.SourceResult, len(r.adapters))

	g, ctx := errgroup.WithContext(ctx)
	if len(chain) > 0 {
		g.Go(func() error {
			for _, a := range chain {
				resultCh <- r.runAdapter(ctx, a)
			}
			return nil
		})
	}
	for _, a := range rest {
		a := a
		g.Go(func() error {
			resultCh <- r.runAdapter(ctx, a)
			return nil
		})
	}
	g.Wait()
	close(resultCh)

	for res := range resultCh {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Source < results[j].Source })
	return results
}

// RunForever reruns each adapter on its own interval until ctx is cancelled.
// The reference chain cycles as one unit on the first chain member's
// interval.
func (r *Runtime) RunForever(ctx context.Context) error {
	chain, rest := r.partition()

	g, ctx := errgroup.WithContext(ctx)
	if len(chain) > 0 {
		g.Go(func() error {
			return r.loop(ctx, chain[0].Interval(), func(ctx context.Context) {
				for _, a := range chain {
					r.runAdapter(ctx, a)
				}
			})
		})
	}
	for _, a := range rest {
		a := a
		g.Go(func() error {
			return r.loop(ctx, a.Interval(), func(ctx context.Context) {
				r.runAdapter(ctx, a)
			})
		})
	}
	return g.Wait()
}

// loop runs fn immediately, then on every interval tick until cancellation.
func (r *Runtime) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// runAdapter executes one adapter under the global cap, normalizes its
// output and persists the snapshot. Partial output from a failed run is
// still persisted.
func (r *Runtime) runAdapter(ctx context.Context, a Adapter) models.SourceResult {
	name := a.Name()
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return models.SourceResult{Source: name, Status: models.RunError, Err: err.Error()}
	}
	defer r.sem.Release(1)

	var before httpclient.RequestStats
	if r.stats != nil {
		before = r.stats.SourceStats(name)
	}

	start := time.Now()
	raw, err := a.Scrape(ctx)
	items := Normalize(name, raw)
	elapsed := time.Since(start)

	res := models.SourceResult{
		Source:   name,
		Items:    len(items),
		Duration: elapsed,
	}
	switch {
	case err == nil:
		res.Status = models.RunSuccess
	case len(items) > 0:
		res.Status = models.RunPartial
		res.Err = err.Error()
	default:
		res.Status = models.RunError
		res.Err = err.Error()
	}

	if err != nil {
		log.Error().Err(err).Str("source", name).Int("items", len(items)).Msg("Scrape failed")
		if r.metrics != nil {
			r.metrics.RecordScrapeFailure(name)
		}
	}

	// Externally collected snapshot files belong to their collector;
	// rewriting one would reset the freshness clock the adapter checks.
	if es, ok := a.(ExternalSnapshotter); ok && es.ExternalSnapshot() {
		if r.metrics != nil {
			r.metrics.RecordScrape(name, len(items), elapsed)
		}
		return res
	}

	if res.Status != models.RunError {
		sm := &models.SnapshotMetrics{DurationSecs: elapsed.Seconds()}
		if r.stats != nil {
			after := r.stats.SourceStats(name)
			sm.RequestsMade = after.Made - before.Made
			sm.RequestsFailed = after.Failed - before.Failed
			sm.RateLimitHits = after.RateLimited - before.RateLimited
		}
		if werr := r.store.WriteSnapshot(name, items, sm); werr != nil {
			log.Error().Err(werr).Str("source", name).Msg("Snapshot write failed")
			res.Status = models.RunError
			res.Err = werr.Error()
			return res
		}
		log.Info().
			Str("source", name).
			Int("items", len(items)).
			Dur("elapsed", elapsed).
			Msg("Snapshot written")
	}

	if r.metrics != nil {
		r.metrics.RecordScrape(name, len(items), elapsed)
	}
	return res
}
