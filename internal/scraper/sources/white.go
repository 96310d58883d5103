package sources

import (
	"context"
	"time"

	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const whiteAPI = "https://api.white.market/export/v1/prices/730.json"

type white struct {
	deps    scraper.Deps
	baseURL string
}

func newWhite(d scraper.Deps) (scraper.Adapter, error) {
	return &white{deps: d, baseURL: whiteAPI}, nil
}

func (s *white) Name() string            { return "white" }
func (s *white) Interval() time.Duration { return s.deps.Config.Interval() }

func (s *white) Scrape(ctx context.Context) ([]models.Listing, error) {
	var raw []struct {
		MarketHashName    string    `json:"market_hash_name"`
		Price             flexFloat `json:"price"`
		MarketProductLink string    `json:"market_product_link"`
	}
	err := s.deps.Client.FetchJSON(ctx, httpclient.Request{
		Source:     s.Name(),
		URL:        s.baseURL,
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
		items = append(items, models.Listing{
			Name:  it.MarketHashName,
			Price: it.Price.Value,
			URL:   it.MarketProductLink,
		})
	}
	return items, nil
}
