package sources

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"skinarb/internal/errs"
	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const skindeckAPI = "https://api.skindeck.com/client/market"

// skindeck pages through its market endpoint with a bearer token.
type skindeck struct {
	deps    scraper.Deps
	baseURL string
}

func newSkinDeck(d scraper.Deps) (scraper.Adapter, error) {
	if d.APIKey == "" {
		return nil, &errs.ConfigError{Field: "skindeck", Msg: "BOT_API_KEY_SKINDECK is required"}
	}
	return &skindeck{deps: d, baseURL: skindeckAPI}, nil
}

func (s *skindeck) Name() string            { return "skindeck" }
func (s *skindeck) Interval() time.Duration { return s.deps.Config.Interval() }

func (s *skindeck) Scrape(ctx context.Context) ([]models.Listing, error) {
	var all []models.Listing
	empty := 0
	for page := 1; page <= s.deps.Config.MaxPages; page++ {
		items, err := s.fetchPage(ctx, page)
		if err != nil {
			return all, err
		}
		if len(items) == 0 {
			empty++
			if empty >= s.deps.Config.EmptyPageLimit {
				break
			}
			continue
		}
		empty = 0
		all = append(all, items...)
	}
	return all, nil
}

func (s *skindeck) fetchPage(ctx context.Context, page int) ([]models.Listing, error) {
	var payload struct {
		Success bool `json:"success"`
		Items   []struct {
			MarketHashName string `json:"market_hash_name"`
			Offer          *struct {
				Price flexFloat `json:"price"`
			} `json:"offer"`
		} `json:"items"`
	}
	err := s.deps.Client.FetchJSON(ctx, httpclient.Request{
		Source: s.Name(),
		URL:    s.baseURL,
		Params: url.Values{
			"page":    {strconv.Itoa(page)},
			"perPage": {strconv.Itoa(s.deps.Config.ItemsPerPage)},
			"sort":    {"price_desc"},
		},
		Headers:    bearerHeaders(s.deps.APIKey),
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
		if it.Offer == nil || !it.Offer.Price.Set {
			continue
		}
		items = append(items, models.Listing{
			Name:  it.MarketHashName,
			Price: it.Offer.Price.Value,
		})
	}
	return items, nil
}
