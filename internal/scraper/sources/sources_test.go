package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skinarb/internal/catalog"
	"skinarb/internal/config"
	"skinarb/internal/errs"
	"skinarb/internal/httpclient"
	"skinarb/internal/models"
	"skinarb/internal/ratelimit"
	"skinarb/internal/scraper"
)

func testDeps(t *testing.T) scraper.Deps {
	t.Helper()
	store, err := catalog.NewStore(t.TempDir())
	require.NoError(t, err)

	client := httpclient.New(ratelimit.New(func(string) (float64, int) { return 1000, 1000 }), nil, nil)
	client.SetRetryBase(time.Millisecond)

	return scraper.Deps{
		Client: client,
		Config: config.SourceConfig{
			Enabled:        true,
			IntervalSecs:   60,
			TimeoutSecs:    5,
			MaxRetries:     1,
			MaxConcurrent:  2,
			ItemsPerPage:   2,
			MaxPages:       5,
			EmptyPageLimit: 2,
		},
		Store: store,
	}
}

func TestSkinportScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"market_hash_name": "AK-47 | Redline", "min_price": 10.50, "quantity": 3, "item_page": "https://skinport.com/item/ak"},
			{"market_hash_name": "Out of stock", "min_price": 5.00, "quantity": 0},
			{"market_hash_name": "No price", "min_price": null, "quantity": 2}
		]`)
	}))
	defer srv.Close()

	a, err := newSkinport(testDeps(t))
	require.NoError(t, err)
	a.(*skinport).baseURL = srv.URL

	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "AK-47 | Redline", items[0].Name)
	require.Equal(t, 10.50, items[0].Price)
	require.Equal(t, "https://skinport.com/item/ak", items[0].URL)
}

func TestCSTradeBonusConversion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"AK-47 | Redline": {"price": 15.00, "tradable": 1, "have": 2},
			"Untradable": {"price": 9.00, "tradable": 0, "have": 1},
			"Empty stock": {"price": 9.00, "tradable": 1, "have": 0}
		}`)
	}))
	defer srv.Close()

	a, err := newCSTrade(testDeps(t))
	require.NoError(t, err)
	a.(*cstrade).baseURL = srv.URL

	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	// 15.00 listed at a 50% bonus is 10.00 real.
	require.InDelta(t, 10.00, items[0].Price, 1e-9)
	require.Equal(t, "15.00", items[0].Extra["listed_price"])
}

func TestBitskinsMilliDollarConversion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"list": [{"name": "AWP | Asiimov", "price_min": 25500, "quantity": 4}]}`)
	}))
	defer srv.Close()

	a, err := newBitskins(testDeps(t))
	require.NoError(t, err)
	a.(*bitskins).baseURL = srv.URL

	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.InDelta(t, 25.50, items[0].Price, 1e-9)
	require.Equal(t, 4, items[0].Quantity)
}

func TestWaxpeerPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		switch offset {
		case 0:
			fmt.Fprint(w, `{"count": 4, "items": [{"name": "A", "price": 100}, {"name": "B", "price": 200}]}`)
		case 2:
			fmt.Fprint(w, `{"count": 4, "items": [{"name": "C", "price": 300}, {"name": "D", "price": 400}]}`)
		default:
			fmt.Fprint(w, `{"count": 4, "items": []}`)
		}
	}))
	defer srv.Close()

	a, err := newWaxpeer(testDeps(t))
	require.NoError(t, err)
	a.(*waxpeer).baseURL = srv.URL

	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 4)

	prices := map[string]float64{}
	for _, it := range items {
		prices[it.Name] = it.Price
	}
	// Cent prices divided down.
	require.InDelta(t, 1.00, prices["A"], 1e-9)
	require.InDelta(t, 4.00, prices["D"], 1e-9)
}

func TestManncoStoreSkipPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("skip") {
		case "0":
			fmt.Fprint(w, `[{"name": "A", "price": 1250}, {"name": "B", "price": 99}]`)
		case "2":
			fmt.Fprint(w, `[{"name": "C", "price": 5}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer srv.Close()

	a, err := newManncoStore(testDeps(t))
	require.NoError(t, err)
	a.(*manncostore).baseURL = srv.URL + "/items/get?skip=%d"

	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.InDelta(t, 12.50, items[0].Price, 1e-9)
	require.InDelta(t, 0.99, items[1].Price, 1e-9)
	require.InDelta(t, 0.05, items[2].Price, 1e-9)
}

func TestSkinoutAcceptsItemsOrData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{"items": [{"name": "A", "price": 1.5}]}`)
		case "2":
			fmt.Fprint(w, `{"data": [{"market_hash_name": "B", "sell_price": "2.5"}]}`)
		default:
			fmt.Fprint(w, `{"items": []}`)
		}
	}))
	defer srv.Close()

	a, err := newSkinout(testDeps(t))
	require.NoError(t, err)
	a.(*skinout).baseURL = srv.URL

	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "A", items[0].Name)
	require.Equal(t, "B", items[1].Name)
	require.InDelta(t, 2.5, items[1].Price, 1e-9)
}

func TestSteamMarketFanOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("item_nameid") {
		case "111":
			fmt.Fprint(w, `{"highest_buy_order": "1050"}`)
		case "222":
			fmt.Fprint(w, `{"highest_buy_order": null}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	deps := testDeps(t)
	require.NoError(t, deps.Store.WriteNameIDs([]models.NameIDEntry{
		{Name: "AK-47 | Redline", ID: "111"},
		{Name: "No buyers", ID: "222"},
	}))

	a, err := newSteamMarket(deps)
	require.NoError(t, err)
	a.(*steammarket).baseURL = srv.URL + "/market/itemordershistogram?item_nameid=%s"

	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "AK-47 | Redline", items[0].Name)
	require.InDelta(t, 10.50, items[0].Price, 1e-9)
}

func TestSteamMarketRequiresNameIDs(t *testing.T) {
	a, err := newSteamMarket(testDeps(t))
	require.NoError(t, err)
	_, err = a.Scrape(context.Background())
	require.ErrorIs(t, err, errs.ErrExternalFeedMissing)
}

func TestSteamListingProbeAndRanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		count, _ := strconv.Atoi(r.URL.Query().Get("count"))
		if count == 1 {
			fmt.Fprint(w, `{"total_count": 2, "results": [{"name": "probe", "sell_price": 1}]}`)
			return
		}
		require.Equal(t, 0, start)
		fmt.Fprint(w, `{"total_count": 2, "results": [
			{"name": "AK-47 | Redline", "sell_price": 1050, "sell_listings": 12},
			{"name": "AWP | Asiimov", "sell_price": 2550, "sell_listings": 7}
		]}`)
	}))
	defer srv.Close()

	a, err := newSteamListing(testDeps(t))
	require.NoError(t, err)
	a.(*steamlisting).baseURL = srv.URL + "/market/search/render/?start=%d&count=%d"

	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.InDelta(t, 10.50, items[0].Price, 1e-9)
	require.Equal(t, 12, items[0].Quantity)
}

func TestSteamIDResolvesMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><script>Market_LoadOrderSpread( 424242 );</script></html>`)
	}))
	defer srv.Close()

	deps := testDeps(t)
	require.NoError(t, deps.Store.WriteSnapshot("steamlisting", []models.Listing{
		{Name: "AK-47 | Redline", Price: 10.50},
	}, nil))

	a, err := newSteamID(deps)
	require.NoError(t, err)
	a.(*steamid).baseURL = srv.URL + "/market/listings/730/"

	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	require.Empty(t, items)

	entries, err := deps.Store.ReadNameIDs()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "424242", entries[0].ID)
}

func TestKeyedSourcesFailFastWithoutKey(t *testing.T) {
	for _, factory := range []scraper.Factory{newShadowPay, newSkinDeck} {
		_, err := factory(testDeps(t))
		var cerr *errs.ConfigError
		require.ErrorAs(t, err, &cerr)
	}
}

func TestEmpireExternalFeedValidation(t *testing.T) {
	deps := testDeps(t)
	a, err := newEmpire(deps)
	require.NoError(t, err)

	// Without a key the snapshot file belongs to the external collector,
	// and the runtime must be told to keep its hands off it.
	es, ok := a.(scraper.ExternalSnapshotter)
	require.True(t, ok)
	require.True(t, es.ExternalSnapshot())

	// No snapshot at all.
	_, err = a.Scrape(context.Background())
	require.ErrorIs(t, err, errs.ErrExternalFeedMissing)

	// A fresh snapshot is served as-is.
	require.NoError(t, deps.Store.WriteSnapshot("empire", []models.Listing{
		{Name: "A", Price: 1.23},
	}, nil))
	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Aging the file past twice the interval makes the run fail, so a dead
	// collector is surfaced instead of yesterday's prices.
	old := time.Now().Add(-200 * time.Second)
	path := filepath.Join(deps.Store.Dir(), "empire_data.json")
	require.NoError(t, os.Chtimes(path, old, old))
	_, err = a.Scrape(context.Background())
	require.ErrorIs(t, err, errs.ErrExternalFeedStale)
}

func TestEmpireDirectAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer empire-key", r.Header.Get("Authorization"))
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, `{"data": []}`)
			return
		}
		fmt.Fprint(w, `{"data": [{"market_name": "AK-47 | Redline", "market_value": 1000}]}`)
	}))
	defer srv.Close()

	deps := testDeps(t)
	deps.APIKey = "empire-key"
	a, err := newEmpire(deps)
	require.NoError(t, err)
	a.(*empire).baseURL = srv.URL

	// With a key the adapter owns its snapshot like any other source.
	require.False(t, a.(*empire).ExternalSnapshot())

	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	// Auction and direct passes return the same page here.
	require.Len(t, items, 2)
	// 1000 market_value = 10 coins at the default 0.6154 rate.
	require.InDelta(t, 10*0.6154, items[0].Price, 1e-9)
}

func TestRapidSkinsMarkupExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<div class="trade-item"><img title="AK-47 | Redline"><span class="price">$10.50</span></div>
			<div class="trade-item"><img title="AWP | Asiimov"><span class="item-price">1,234.00</span></div>
			<div class="trade-item"><img title="No price card"></div>
		</body></html>`)
	}))
	defer srv.Close()

	a, err := newRapidSkins(testDeps(t))
	require.NoError(t, err)
	a.(*rapidskins).baseURL = srv.URL

	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	// The card without a price truncates the positional pairing.
	require.Len(t, items, 2)
	require.Equal(t, "AK-47 | Redline", items[0].Name)
	require.InDelta(t, 10.50, items[0].Price, 1e-9)
	require.Equal(t, "AWP | Asiimov", items[1].Name)
	require.InDelta(t, 1234.00, items[1].Price, 1e-9)
}

func TestRapidSkinsDataAttributeFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<li data-name="Glock-18 | Fade" data-price="900.00"></li>
			<li data-name="P250 | Sand Dune" data-price="0.05"></li>
		</body></html>`)
	}))
	defer srv.Close()

	a, err := newRapidSkins(testDeps(t))
	require.NoError(t, err)
	a.(*rapidskins).baseURL = srv.URL

	items, err := a.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Glock-18 | Fade", items[0].Name)
	require.InDelta(t, 900.00, items[0].Price, 1e-9)
	require.InDelta(t, 0.05, items[1].Price, 1e-9)
}

func TestFlexFloat(t *testing.T) {
	var f flexFloat
	require.NoError(t, f.UnmarshalJSON([]byte(`12.5`)))
	require.True(t, f.Set)
	require.Equal(t, 12.5, f.Value)

	f = flexFloat{}
	require.NoError(t, f.UnmarshalJSON([]byte(`"3.25"`)))
	require.True(t, f.Set)
	require.Equal(t, 3.25, f.Value)

	f = flexFloat{}
	require.NoError(t, f.UnmarshalJSON([]byte(`null`)))
	require.False(t, f.Set)

	f = flexFloat{}
	require.NoError(t, f.UnmarshalJSON([]byte(`"abc"`)))
	require.False(t, f.Set)
}

func TestRegistryCoversAllTags(t *testing.T) {
	require.Len(t, Factories, 18)
	for tag, factory := range Factories {
		require.NotNil(t, factory, tag)
	}
}
