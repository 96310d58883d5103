package sources

import (
	"context"
	"fmt"
	"time"

	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const manncostoreAPI = "https://mannco.store/items/get?price=DESC&page=1&i=0&game=730&skip=%d"

// manncostore pages with a skip parameter and prices in integer cents.
type manncostore struct {
	deps    scraper.Deps
	baseURL string
}

func newManncoStore(d scraper.Deps) (scraper.Adapter, error) {
	return &manncostore{deps: d, baseURL: manncostoreAPI}, nil
}

func (s *manncostore) Name() string            { return "manncostore" }
func (s *manncostore) Interval() time.Duration { return s.deps.Config.Interval() }

func (s *manncostore) Scrape(ctx context.Context) ([]models.Listing, error) {
	var all []models.Listing
	skip := 0
	for page := 0; page < s.deps.Config.MaxPages; page++ {
		items, err := s.fetchPage(ctx, skip)
		if err != nil {
			return all, err
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
		skip += len(items)
	}
	return all, nil
}

func (s *manncostore) fetchPage(ctx context.Context, skip int) ([]models.Listing, error) {
	var raw []struct {
		Name  string    `json:"name"`
		Price flexFloat `json:"price"`
	}
	err := s.deps.Client.FetchJSON(ctx, httpclient.Request{
		Source:     s.Name(),
		URL:        fmt.Sprintf(s.baseURL, skip),
		Timeout:    s.deps.Config.Timeout(),
		MaxRetries: s.deps.Config.MaxRetries,
		Cache:      s.deps.Cache,
		CacheTTL:   s.deps.Config.CacheTTL(),
	}, &raw)
	if err != nil {
		return nil, err
	}

	items := make([]models.Listing, 0, len(raw))
	for _, it := range raw {
		if !it.Price.Set {
			continue
		}
		// Prices come back as integer cents.
		items = append(items, models.Listing{
			Name:  it.Name,
			Price: it.Price.Value / 100.0,
		})
	}
	return items, nil
}
