package sources

import (
	"context"
	"time"

	"skinarb/internal/errs"
	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const marketcsgoAPI = "https://market.csgo.com/api/v2/prices/USD.json"

type marketcsgo struct {
	deps    scraper.Deps
	baseURL string
}

func newMarketCSGO(d scraper.Deps) (scraper.Adapter, error) {
	return &marketcsgo{deps: d, baseURL: marketcsgoAPI}, nil
}

func (s *marketcsgo) Name() string            { return "marketcsgo" }
func (s *marketcsgo) Interval() time.Duration { return s.deps.Config.Interval() }

func (s *marketcsgo) Scrape(ctx context.Context) ([]models.Listing, error) {
	var payload struct {
		Success bool `json:"success"`
		Items   []struct {
			MarketHashName string    `json:"market_hash_name"`
			Price          flexFloat `json:"price"`
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
	if !payload.Success {
		return nil, &errs.ParseError{Source: s.Name(), Msg: "API reported success=false"}
	}

	items := make([]models.Listing, 0, len(payload.Items))
	for _, it := range payload.Items {
		if !it.Price.Set {
			continue
		}
		items = append(items, models.Listing{
			Name:  it.MarketHashName,
			Price: it.Price.Value,
		})
	}
	return items, nil
}
