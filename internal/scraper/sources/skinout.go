package sources

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const skinoutAPI = "https://skinout.gg/api/market/items"

// skinout pages with a 1-based page parameter and has served its list under
// both "items" and "data".
type skinout struct {
	deps    scraper.Deps
	baseURL string
}

func newSkinout(d scraper.Deps) (scraper.Adapter, error) {
	return &skinout{deps: d, baseURL: skinoutAPI}, nil
}

func (s *skinout) Name() string            { return "skinout" }
func (s *skinout) Interval() time.Duration { return s.deps.Config.Interval() }

func (s *skinout) Scrape(ctx context.Context) ([]models.Listing, error) {
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

type skinoutItem struct {
	Name           string    `json:"name"`
	MarketHashName string    `json:"market_hash_name"`
	Price          flexFloat `json:"price"`
	SellPrice      flexFloat `json:"sell_price"`
}

func (s *skinout) fetchPage(ctx context.Context, page int) ([]models.Listing, error) {
	var payload struct {
		Items json.RawMessage `json:"items"`
		Data  json.RawMessage `json:"data"`
	}
	err := s.deps.Client.FetchJSON(ctx, httpclient.Request{
		Source:     s.Name(),
		URL:        s.baseURL,
		Params:     url.Values{"page": {strconv.Itoa(page)}},
		Timeout:    s.deps.Config.Timeout(),
		MaxRetries: s.deps.Config.MaxRetries,
		Cache:      s.deps.Cache,
		CacheTTL:   s.deps.Config.CacheTTL(),
	}, &payload)
	if err != nil {
		return nil, err
	}

	raw := payload.Items
	if len(raw) == 0 {
		raw = payload.Data
	}
	var list []skinoutItem
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
	}

	items := make([]models.Listing, 0, len(list))
	for _, it := range list {
		name := it.Name
		if name == "" {
			name = it.MarketHashName
		}
		price := it.Price
		if !price.Set {
			price = it.SellPrice
		}
		if !price.Set {
			continue
		}
		items = append(items, models.Listing{
			Name:  name,
			Price: price.Value,
		})
	}
	return items, nil
}
