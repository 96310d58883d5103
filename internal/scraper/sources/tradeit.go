package sources

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const tradeitAPI = "https://tradeit.gg/api/v2/inventory/data"

// tradeit pages with offset/limit; priceForTrade is in cents.
type tradeit struct {
	deps    scraper.Deps
	baseURL string
}

func newTradeit(d scraper.Deps) (scraper.Adapter, error) {
	return &tradeit{deps: d, baseURL: tradeitAPI}, nil
}

func (s *tradeit) Name() string            { return "tradeit" }
func (s *tradeit) Interval() time.Duration { return s.deps.Config.Interval() }

func (s *tradeit) Scrape(ctx context.Context) ([]models.Listing, error) {
	var all []models.Listing
	offset := 0
	empty := 0
	for page := 0; page < s.deps.Config.MaxPages; page++ {
		items, err := s.fetchPage(ctx, offset)
		if err != nil {
			return all, err
		}
		if len(items) == 0 {
			empty++
			if empty >= s.deps.Config.EmptyPageLimit {
				break
			}
			offset += s.deps.Config.ItemsPerPage
			continue
		}
		empty = 0
		all = append(all, items...)
		offset += len(items)
	}
	return all, nil
}

func (s *tradeit) fetchPage(ctx context.Context, offset int) ([]models.Listing, error) {
	var payload struct {
		Items []struct {
			Name          string    `json:"name"`
			PriceForTrade flexFloat `json:"priceForTrade"`
			Amount        int       `json:"amount"`
		} `json:"items"`
	}
	err := s.deps.Client.FetchJSON(ctx, httpclient.Request{
		Source: s.Name(),
		URL:    s.baseURL,
		Params: url.Values{
			"gameId": {"730"},
			"offset": {strconv.Itoa(offset)},
			"limit":  {strconv.Itoa(s.deps.Config.ItemsPerPage)},
			"fresh":  {"true"},
		},
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
		if !it.PriceForTrade.Set {
			continue
		}
		items = append(items, models.Listing{
			Name:     it.Name,
			Price:    it.PriceForTrade.Value / 100.0,
			Quantity: it.Amount,
		})
	}
	return items, nil
}
