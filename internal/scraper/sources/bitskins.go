package sources

import (
	"context"
	"time"

	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const bitskinsAPI = "https://api.bitskins.com/market/insell/730"

// bitskins prices in 1/1000 USD.
type bitskins struct {
	deps    scraper.Deps
	baseURL string
}

func newBitskins(d scraper.Deps) (scraper.Adapter, error) {
	return &bitskins{deps: d, baseURL: bitskinsAPI}, nil
}

func (s *bitskins) Name() string            { return "bitskins" }
func (s *bitskins) Interval() time.Duration { return s.deps.Config.Interval() }

func (s *bitskins) Scrape(ctx context.Context) ([]models.Listing, error) {
	var payload struct {
		List []struct {
			Name     string    `json:"name"`
			PriceMin flexFloat `json:"price_min"`
			Quantity int       `json:"quantity"`
		} `json:"list"`
	}
	err := s.deps.Client.FetchJSON(ctx, httpclient.Request{
		Source:     s.Name(),
		URL:        s.baseURL,
		Headers:    bearerHeaders(s.deps.APIKey),
		Timeout:    s.deps.Config.Timeout(),
		MaxRetries: s.deps.Config.MaxRetries,
		Cache:      s.deps.Cache,
		CacheTTL:   s.deps.Config.CacheTTL(),
	}, &payload)
	if err != nil {
		return nil, err
	}

	items := make([]models.Listing, 0, len(payload.List))
	for _, it := range payload.List {
		if !it.PriceMin.Set {
			continue
		}
		items = append(items, models.Listing{
			Name:     it.Name,
			Price:    it.PriceMin.Value / 1000.0,
			Quantity: it.Quantity,
		})
	}
	return items, nil
}
