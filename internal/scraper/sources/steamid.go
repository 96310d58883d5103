package sources

import (
	"context"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/scraper"
)

// nameidPatterns match the numeric item id embedded in a listing page.
var nameidPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Market_LoadOrderSpread\(\s*(\d+)\s*\)`),
	regexp.MustCompile(`"nameid":(\d+)`),
	regexp.MustCompile(`nameid=(\d+)`),
}

// steamid resolves reference-marketplace item ids by scraping listing pages
// for the names the listing scan discovered. It produces no listings itself;
// its output is the name→id artifact the histogram adapter consumes.
type steamid struct {
	deps    scraper.Deps
	baseURL string
}

func newSteamID(d scraper.Deps) (scraper.Adapter, error) {
	return &steamid{deps: d, baseURL: scraper.SteamURLBase}, nil
}

func (s *steamid) Name() string            { return "steamid" }
func (s *steamid) Interval() time.Duration { return s.deps.Config.Interval() }

func (s *steamid) Scrape(ctx context.Context) ([]models.Listing, error) {
	listings, err := s.deps.Store.ReadSnapshot("steamlisting")
	if err != nil {
		return nil, err
	}

	existing, err := s.deps.Store.ReadNameIDs()
	if err != nil {
		log.Warn().Err(err).Msg("Discarding unreadable name-id artifact")
		existing = nil
	}
	known := make(map[string]bool, len(existing))
	for _, e := range existing {
		known[e.Name] = true
	}

	var missing []string
	for _, l := range listings {
		if l.Name != "" && !known[l.Name] {
			missing = append(missing, l.Name)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	concurrency := s.deps.Config.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 10
	}

	var mu sync.Mutex
	resolved := existing
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, name := range missing {
		name := name
		g.Go(func() error {
			id, err := s.resolve(gctx, name)
			if err != nil || id == "" {
				return nil
			}
			mu.Lock()
			resolved = append(resolved, models.NameIDEntry{
				Name:        name,
				ID:          id,
				LastUpdated: time.Now().UTC(),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(resolved) > len(existing) {
		if err := s.deps.Store.WriteNameIDs(resolved); err != nil {
			return nil, err
		}
	}
	log.Info().
		Int("missing", len(missing)).
		Int("resolved", len(resolved)-len(existing)).
		Msg("Name-id resolution pass complete")
	return nil, nil
}

// resolve fetches one listing page and extracts the item id from its HTML.
func (s *steamid) resolve(ctx context.Context, name string) (string, error) {
	body, err := s.deps.Client.Fetch(ctx, httpclient.Request{
		Source:     s.Name(),
		URL:        s.baseURL + url.PathEscape(name),
		Timeout:    s.deps.Config.Timeout(),
		MaxRetries: s.deps.Config.MaxRetries,
		Cache:      s.deps.Cache,
		CacheTTL:   s.deps.Config.CacheTTL(),
	})
	if err != nil {
		return "", err
	}
	for _, pat := range nameidPatterns {
		if m := pat.FindSubmatch(body); m != nil {
			return string(m[1]), nil
		}
	}
	return "", nil
}
