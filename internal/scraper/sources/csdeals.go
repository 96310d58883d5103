package sources

import (
	"context"
	"time"

	"skinarb/internal/errs"
	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const csdealsAPI = "https://cs.deals/API/IPricing/GetLowestPrices/v1?appid=730"

type csdeals struct {
	deps    scraper.Deps
	baseURL string
}

func newCSDeals(d scraper.Deps) (scraper.Adapter, error) {
	return &csdeals{deps: d, baseURL: csdealsAPI}, nil
}

func (s *csdeals) Name() string            { return "csdeals" }
func (s *csdeals) Interval() time.Duration { return s.deps.Config.Interval() }

func (s *csdeals) Scrape(ctx context.Context) ([]models.Listing, error) {
	var payload struct {
		Success  bool `json:"success"`
		Response struct {
			Items []struct {
				MarketName  string   `json:"marketname"`
				LowestPrice *float64 `json:"lowest_price"`
				Quantity    int      `json:"quantity"`
			} `json:"items"`
		} `json:"response"`
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

	items := make([]models.Listing, 0, len(payload.Response.Items))
	for _, it := range payload.Response.Items {
		if it.LowestPrice == nil {
			continue
		}
		items = append(items, models.Listing{
			Name:     it.MarketName,
			Price:    *it.LowestPrice,
			Quantity: it.Quantity,
		})
	}
	return items, nil
}
