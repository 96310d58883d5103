package sources

import (
	"context"
	"strconv"
	"time"

	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const cstradeAPI = "https://cdn.cs.trade:2096/api/prices_CSGO"

// defaultBonusRate is the site-wide deposit bonus in percent. Displayed
// prices are inflated by it and must be divided back down.
const defaultBonusRate = 50.0

type cstrade struct {
	deps    scraper.Deps
	baseURL string
	bonus   float64
}

func newCSTrade(d scraper.Deps) (scraper.Adapter, error) {
	bonus := d.Config.BonusRate
	if bonus <= 0 {
		bonus = defaultBonusRate
	}
	return &cstrade{deps: d, baseURL: cstradeAPI, bonus: bonus}, nil
}

func (s *cstrade) Name() string            { return "cstrade" }
func (s *cstrade) Interval() time.Duration { return s.deps.Config.Interval() }

type cstradeItem struct {
	Price    flexFloat `json:"price"`
	Tradable int       `json:"tradable"`
	Have     int       `json:"have"`
}

func (s *cstrade) Scrape(ctx context.Context) ([]models.Listing, error) {
	var raw map[string]cstradeItem
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
	for name, it := range raw {
		if it.Tradable == 0 || it.Have == 0 || !it.Price.Set {
			continue
		}
		real := it.Price.Value / (1 + s.bonus/100)
		items = append(items, models.Listing{
			Name:     name,
			Price:    real,
			Quantity: it.Have,
			Extra: map[string]string{
				"listed_price": strconv.FormatFloat(it.Price.Value, 'f', 2, 64),
			},
		})
	}
	return items, nil
}
