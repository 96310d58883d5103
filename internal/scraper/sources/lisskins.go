package sources

import (
	"context"
	"time"

	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const lisskinsAPI = "https://lis-skins.com/market_export_json/api_csgo_full.json"

// lisskins serves a full-market export with one entry per individual listing;
// the shared normalization pass keeps the cheapest per name.
type lisskins struct {
	deps    scraper.Deps
	baseURL string
}

func newLisSkins(d scraper.Deps) (scraper.Adapter, error) {
	return &lisskins{deps: d, baseURL: lisskinsAPI}, nil
}

func (s *lisskins) Name() string            { return "lisskins" }
func (s *lisskins) Interval() time.Duration { return s.deps.Config.Interval() }

func (s *lisskins) Scrape(ctx context.Context) ([]models.Listing, error) {
	var payload struct {
		Items []struct {
			Name  string    `json:"name"`
			Price flexFloat `json:"price"`
		} `json:"items"`
	}
	err := s.deps.Client.FetchJSON(ctx, httpclient.Request{
		Source:     s.Name(),
		URL:        s.baseURL,
		Timeout:    s.deps.Config.Timeout(),
		MaxRetries: s.deps.Config.MaxRetries,
		Cache:      s.deps.Cache,
		CacheTTL:   s.deps.Config.CacheTTL(),
	}, &payload)
	if err != nil {
		return nil, err
	}

	items := make([]models.Listing, 0, len(payload.Items))
	for _, it := range payload.Items {
		if !it.Price.Set {
			continue
		}
		items = append(items, models.Listing{
			Name:  it.Name,
			Price: it.Price.Value,
		})
	}
	return items, nil
}
