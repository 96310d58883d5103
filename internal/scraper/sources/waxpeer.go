package sources

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const waxpeerAPI = "https://api.waxpeer.com/v1/prices"

// waxpeer reports a total count on the first page, then the remaining pages
// are fetched with bounded concurrency. Prices are in cents.
type waxpeer struct {
	deps    scraper.Deps
	baseURL string
}

func newWaxpeer(d scraper.Deps) (scraper.Adapter, error) {
	return &waxpeer{deps: d, baseURL: waxpeerAPI}, nil
}

func (s *waxpeer) Name() string            { return "waxpeer" }
func (s *waxpeer) Interval() time.Duration { return s.deps.Config.Interval() }

type waxpeerPage struct {
	Count int `json:"count"`
	Items []struct {
		Name  string    `json:"name"`
		Price flexFloat `json:"price"`
	} `json:"items"`
}

func (s *waxpeer) Scrape(ctx context.Context) ([]models.Listing, error) {
	perPage := s.deps.Config.ItemsPerPage

	first, err := s.fetchPage(ctx, 0)
	if err != nil {
		return nil, err
	}

	totalPages := (first.Count + perPage - 1) / perPage
	if totalPages > s.deps.Config.MaxPages {
		totalPages = s.deps.Config.MaxPages
	}

	all := s.convert(first)
	if totalPages <= 1 {
		return all, nil
	}

	concurrency := s.deps.Config.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 5
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for page := 1; page < totalPages; page++ {
		page := page
		g.Go(func() error {
			p, err := s.fetchPage(gctx, page)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, s.convert(p)...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return all, err
	}
	return all, nil
}

func (s *waxpeer) fetchPage(ctx context.Context, page int) (*waxpeerPage, error) {
	var p waxpeerPage
	err := s.deps.Client.FetchJSON(ctx, httpclient.Request{
		Source: s.Name(),
		URL:    s.baseURL,
		Params: url.Values{
			"game":   {"csgo"},
			"offset": {strconv.Itoa(page * s.deps.Config.ItemsPerPage)},
			"limit":  {strconv.Itoa(s.deps.Config.ItemsPerPage)},
		},
		Headers:    bearerHeaders(s.deps.APIKey),
		Timeout:    s.deps.Config.Timeout(),
		MaxRetries: s.deps.Config.MaxRetries,
		Cache:      s.deps.Cache,
		CacheTTL:   s.deps.Config.CacheTTL(),
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *waxpeer) convert(p *waxpeerPage) []models.Listing {
	items := make([]models.Listing, 0, len(p.Items))
	for _, it := range p.Items {
		if !it.Price.Set {
			continue
		}
		items = append(items, models.Listing{
			Name:  it.Name,
			Price: it.Price.Value / 100.0,
		})
	}
	return items
}
