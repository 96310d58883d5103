package sources

import (
	"context"
	"time"

	"skinarb/internal/errs"
	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const shadowpayAPI = "https://api.shadowpay.com/api/v2/user/items/prices"

// shadowpay requires a bearer token.
type shadowpay struct {
	deps    scraper.Deps
	baseURL string
}

func newShadowPay(d scraper.Deps) (scraper.Adapter, error) {
	if d.APIKey == "" {
		return nil, &errs.ConfigError{Field: "shadowpay", Msg: "BOT_API_KEY_SHADOWPAY is required"}
	}
	return &shadowpay{deps: d, baseURL: shadowpayAPI}, nil
}

func (s *shadowpay) Name() string            { return "shadowpay" }
func (s *shadowpay) Interval() time.Duration { return s.deps.Config.Interval() }

func (s *shadowpay) Scrape(ctx context.Context) ([]models.Listing, error) {
	var payload struct {
		Data []struct {
			SteamMarketHashName string    `json:"steam_market_hash_name"`
			Price               flexFloat `json:"price"`
		} `json:"data"`
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

	items := make([]models.Listing, 0, len(payload.Data))
	for _, it := range payload.Data {
		if !it.Price.Set {
			continue
		}
		items = append(items, models.Listing{
			Name:  it.SteamMarketHashName,
			Price: it.Price.Value,
		})
	}
	return items, nil
}
