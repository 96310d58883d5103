package sources

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"skinarb/internal/errs"
	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const empireAPI = "https://csgoempire.com/api/v2/trading/items"

// defaultCoinRate converts the site's coin unit to USD.
const defaultCoinRate = 0.6154

// empire has two data paths. With an API key it pulls the trading endpoint
// directly, auction and non-auction lists combined. Without one it relies on
// an external authenticated collector that refreshes this source's snapshot
// file out of band, and only checks that the file is fresh.
type empire struct {
	deps     scraper.Deps
	baseURL  string
	coinRate float64
}

func newEmpire(d scraper.Deps) (scraper.Adapter, error) {
	rate := d.Config.CoinRate
	if rate <= 0 {
		rate = defaultCoinRate
	}
	return &empire{deps: d, baseURL: empireAPI, coinRate: rate}, nil
}

func (s *empire) Name() string            { return "empire" }
func (s *empire) Interval() time.Duration { return s.deps.Config.Interval() }

// ExternalSnapshot reports whether the snapshot file is owned by the
// external collector. Only then must the runtime leave it alone.
func (s *empire) ExternalSnapshot() bool { return s.deps.APIKey == "" }

func (s *empire) Scrape(ctx context.Context) ([]models.Listing, error) {
	if s.deps.APIKey == "" {
		return s.scrapeFromFile()
	}

	var all []models.Listing
	for _, auction := range []string{"yes", "no"} {
		items, err := s.fetchAuctionType(ctx, auction)
		if err != nil {
			return all, err
		}
		all = append(all, items...)
	}
	return all, nil
}

// scrapeFromFile validates the externally refreshed snapshot and returns its
// contents. A stale or missing file is a hard error so the run is reported
// as failed.
func (s *empire) scrapeFromFile() ([]models.Listing, error) {
	age, ok := s.deps.Store.SnapshotAge(s.Name())
	if !ok {
		return nil, &errs.APIError{Source: s.Name(), Err: errs.ErrExternalFeedMissing}
	}
	if age > 2*s.Interval() {
		log.Warn().Str("source", s.Name()).Dur("age", age).Msg("External collector output is stale")
		return nil, &errs.APIError{Source: s.Name(), Err: errs.ErrExternalFeedStale}
	}
	return s.deps.Store.ReadSnapshot(s.Name())
}

func (s *empire) fetchAuctionType(ctx context.Context, auction string) ([]models.Listing, error) {
	var all []models.Listing
	for page := 1; page <= s.deps.Config.MaxPages; page++ {
		var payload struct {
			Data []struct {
				MarketName  string    `json:"market_name"`
				MarketValue flexFloat `json:"market_value"`
			} `json:"data"`
		}
		err := s.deps.Client.FetchJSON(ctx, httpclient.Request{
			Source: s.Name(),
			URL:    s.baseURL,
			Params: url.Values{
				"per_page": {strconv.Itoa(s.deps.Config.ItemsPerPage)},
				"page":     {strconv.Itoa(page)},
				"order":    {"market_value"},
				"sort":     {"asc"},
				"auction":  {auction},
			},
			Headers:    bearerHeaders(s.deps.APIKey),
			Timeout:    s.deps.Config.Timeout(),
			MaxRetries: s.deps.Config.MaxRetries,
			Cache:      s.deps.Cache,
			CacheTTL:   s.deps.Config.CacheTTL(),
		}, &payload)
		if err != nil {
			return all, err
		}
		if len(payload.Data) == 0 {
			break
		}
		for _, it := range payload.Data {
			if !it.MarketValue.Set {
				continue
			}
			coins := it.MarketValue.Value / 100.0
			all = append(all, models.Listing{
				Name:  it.MarketName,
				Price: coins * s.coinRate,
				Extra: map[string]string{
					"price_coins": strconv.FormatFloat(coins, 'f', 3, 64),
				},
			})
		}
	}
	return all, nil
}
