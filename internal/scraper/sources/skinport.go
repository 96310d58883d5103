package sources

import (
	"context"
	"time"

	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const skinportAPI = "https://api.skinport.com/v1/items?app_id=730&currency=USD"

// skinport is a single-shot adapter: one GET returning the full catalog.
type skinport struct {
	deps    scraper.Deps
	baseURL string
}

func newSkinport(d scraper.Deps) (scraper.Adapter, error) {
	return &skinport{deps: d, baseURL: skinportAPI}, nil
}

func (s *skinport) Name() string            { return "skinport" }
func (s *skinport) Interval() time.Duration { return s.deps.Config.Interval() }

type skinportItem struct {
	MarketHashName string   `json:"market_hash_name"`
	MinPrice       *float64 `json:"min_price"`
	Quantity       int      `json:"quantity"`
	ItemPage       string   `json:"item_page"`
}

func (s *skinport) Scrape(ctx context.Context) ([]models.Listing, error) {
	var raw []skinportItem
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
		if it.MinPrice == nil || it.Quantity <= 0 {
			continue
		}
		items = append(items, models.Listing{
			Name:     it.MarketHashName,
			Price:    *it.MinPrice,
			URL:      it.ItemPage,
			Quantity: it.Quantity,
		})
	}
	return items, nil
}
