package sources

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

const rapidskinsMarket = "https://rapidskins.com/market"

// rapidskins has no public JSON API. The market page is fetched as HTML and
// listings are pulled out of the item card markup, falling back to data
// attributes when the markup changes.
type rapidskins struct {
	deps    scraper.Deps
	baseURL string
}

func newRapidSkins(d scraper.Deps) (scraper.Adapter, error) {
	return &rapidskins{deps: d, baseURL: rapidskinsMarket}, nil
}

func (s *rapidskins) Name() string            { return "rapidskins" }
func (s *rapidskins) Interval() time.Duration { return s.deps.Config.Interval() }

var (
	rapidNameMarkup  = regexp.MustCompile(`(?is)<div[^>]*class="[^"]*item[^"]*"[^>]*>.*?title="([^"]+)"`)
	rapidPriceMarkup = regexp.MustCompile(`(?i)<span[^>]*class="[^"]*price[^"]*"[^>]*>\$?([\d.,]+)`)
	rapidNameAttr    = regexp.MustCompile(`data-name="([^"]+)"`)
	rapidPriceAttr   = regexp.MustCompile(`data-price="([\d.,]+)"`)
)

func (s *rapidskins) Scrape(ctx context.Context) ([]models.Listing, error) {
	body, err := s.deps.Client.Fetch(ctx, httpclient.Request{
		Source: s.Name(),
		URL:    s.baseURL,
		Headers: map[string]string{
			"Accept":  "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Referer": "https://rapidskins.com/",
		},
		Timeout:    s.deps.Config.Timeout(),
		MaxRetries: s.deps.Config.MaxRetries,
		Cache:      s.deps.Cache,
		CacheTTL:   s.deps.Config.CacheTTL(),
	})
	if err != nil {
		return nil, err
	}
	return s.parse(body), nil
}

// parse pairs the i-th extracted name with the i-th extracted price. The
// page interleaves item cards, so positional pairing holds whenever both
// patterns match the same cards; a surplus on either side is dropped.
func (s *rapidskins) parse(html []byte) []models.Listing {
	names := submatches(rapidNameMarkup, html)
	prices := submatches(rapidPriceMarkup, html)
	if len(names) == 0 {
		names = submatches(rapidNameAttr, html)
	}
	if len(prices) == 0 {
		prices = submatches(rapidPriceAttr, html)
	}

	n := len(names)
	if len(prices) < n {
		n = len(prices)
	}
	items := make([]models.Listing, 0, n)
	for i := 0; i < n; i++ {
		price, err := strconv.ParseFloat(strings.ReplaceAll(prices[i], ",", ""), 64)
		if err != nil {
			continue
		}
		items = append(items, models.Listing{
			Name:  strings.TrimSpace(names[i]),
			Price: price,
			URL:   s.baseURL,
		})
	}
	return items
}

func submatches(re *regexp.Regexp, data []byte) []string {
	var out []string
	for _, m := range re.FindAllSubmatch(data, -1) {
		out = append(out, string(m[1]))
	}
	return out
}
