package sources

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"skinarb/internal/errs"
	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const steamListingAPI = "https://steamcommunity.com/market/search/render/?query=&start=%d&count=%d&search_descriptions=0&sort_column=name&sort_dir=asc&appid=730&norender=1"

const listingBatchSize = 100

// steamlisting walks the reference marketplace's search endpoint: a probe
// request reports total_count, then (start, count) ranges are fetched with
// bounded concurrency. Sell prices are in cents.
type steamlisting struct {
	deps    scraper.Deps
	baseURL string
}

func newSteamListing(d scraper.Deps) (scraper.Adapter, error) {
	return &steamlisting{deps: d, baseURL: steamListingAPI}, nil
}

func (s *steamlisting) Name() string            { return "steamlisting" }
func (s *steamlisting) Interval() time.Duration { return s.deps.Config.Interval() }

type listingPage struct {
	TotalCount int `json:"total_count"`
	Results    []struct {
		Name      string `json:"name"`
		SellPrice int    `json:"sell_price"`
		SellCount int    `json:"sell_listings"`
	} `json:"results"`
}

func (s *steamlisting) Scrape(ctx context.Context) ([]models.Listing, error) {
	probe, err := s.fetchRange(ctx, 0, 1)
	if err != nil {
		return nil, err
	}
	if probe.TotalCount <= 0 {
		return nil, &errs.ParseError{Source: s.Name(), Msg: "probe returned no total_count"}
	}

	concurrency := s.deps.Config.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 10
	}

	type batch struct {
		start int
		items []models.Listing
	}
	var mu sync.Mutex
	var batches []batch

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for start := 0; start < probe.TotalCount; start += listingBatchSize {
		start := start
		g.Go(func() error {
			page, err := s.fetchRange(gctx, start, listingBatchSize)
			if err != nil {
				// A hole in the range scan loses one batch, not the run.
				return nil
			}
			items := make([]models.Listing, 0, len(page.Results))
			for _, r := range page.Results {
				items = append(items, models.Listing{
					Name:     r.Name,
					Price:    float64(r.SellPrice) / 100.0,
					Quantity: r.SellCount,
					URL:      scraper.SteamURL(r.Name),
				})
			}
			mu.Lock()
			batches = append(batches, batch{start: start, items: items})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(batches, func(i, j int) bool { return batches[i].start < batches[j].start })
	var all []models.Listing
	for _, b := range batches {
		all = append(all, b.items...)
	}
	return all, nil
}

func (s *steamlisting) fetchRange(ctx context.Context, start, count int) (*listingPage, error) {
	var page listingPage
	err := s.deps.Client.FetchJSON(ctx, httpclient.Request{
		Source:     s.Name(),
		URL:        fmt.Sprintf(s.baseURL, start, count),
		Timeout:    s.deps.Config.Timeout(),
		MaxRetries: s.deps.Config.MaxRetries,
		Cache:      s.deps.Cache,
		CacheTTL:   s.deps.Config.CacheTTL(),
	}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}
