package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"skinarb/internal/errs"
	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const steamMarketAPI = "https://steamcommunity.com/market/itemordershistogram?country=PK&language=english&currency=1&item_nameid=%s&two_factor=0&norender=1"

// steammarket fans out one order-histogram request per known item id and
// records the highest buy order. It is the most load-generating adapter, so
// its fan-out semaphore is wide but the rate limiter still gates each call.
type steammarket struct {
	deps    scraper.Deps
	baseURL string
}

func newSteamMarket(d scraper.Deps) (scraper.Adapter, error) {
	return &steammarket{deps: d, baseURL: steamMarketAPI}, nil
}

func (s *steammarket) Name() string            { return "steammarket" }
func (s *steammarket) Interval() time.Duration { return s.deps.Config.Interval() }

func (s *steammarket) Scrape(ctx context.Context) ([]models.Listing, error) {
	entries, err := s.deps.Store.ReadNameIDs()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, &errs.APIError{Source: s.Name(), Err: errs.ErrExternalFeedMissing}
	}

	concurrency := s.deps.Config.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 50
	}

	var mu sync.Mutex
	var items []models.Listing
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, entry := range entries {
		entry := entry
		if entry.ID == "" || entry.Name == "" {
			continue
		}
		g.Go(func() error {
			price, err := s.fetchBuyOrder(gctx, entry.ID)
			if err != nil || price <= 0 {
				return nil
			}
			mu.Lock()
			items = append(items, models.Listing{
				Name:  entry.Name,
				Price: price,
				URL:   scraper.SteamURL(entry.Name),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return items, err
	}

	log.Info().
		Int("ids", len(entries)).
		Int("priced", len(items)).
		Msg("Order-histogram pass complete")
	return items, nil
}

func (s *steammarket) fetchBuyOrder(ctx context.Context, nameid string) (float64, error) {
	var payload struct {
		HighestBuyOrder flexFloat `json:"highest_buy_order"`
	}
	err := s.deps.Client.FetchJSON(ctx, httpclient.Request{
		Source:     s.Name(),
		URL:        fmt.Sprintf(s.baseURL, nameid),
		Timeout:    s.deps.Config.Timeout(),
		MaxRetries: s.deps.Config.MaxRetries,
		Cache:      s.deps.Cache,
		CacheTTL:   s.deps.Config.CacheTTL(),
	}, &payload)
	if err != nil {
		return 0, err
	}
	if !payload.HighestBuyOrder.Set {
		return 0, nil
	}
	return payload.HighestBuyOrder.Value / 100.0, nil
}
