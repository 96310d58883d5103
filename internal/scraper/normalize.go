package scraper

import (
	"math"
	"strings"
	"time"

	"skinarb/internal/models"
)

// platformURLs are the per-marketplace deep-link bases; the normalized item
// name is appended after encoding.
var platformURLs = map[string]string{
	"waxpeer":     "https://waxpeer.com/item/cs-go/",
	"csdeals":     "https://cs.deals/market/",
	"empire":      "https://csgoempire.com/shop/",
	"skinport":    "https://skinport.com/market/730?search=",
	"bitskins":    "https://bitskins.com/market/730/search?market_hash_name=",
	"cstrade":     "https://cs.trade/csgo-skins?search=",
	"marketcsgo":  "https://market.csgo.com/?search=",
	"tradeit":     "https://tradeit.gg/csgo/trade?search=",
	"skindeck":    "https://skindeck.com/listings?query=",
	"manncostore": "https://mannco.store/item/730/",
	"shadowpay":   "https://shadowpay.com/csgo?search=",
	"skinout":     "https://skinout.gg/market/cs2?item=",
	"lisskins":    "https://lis-skins.com/market_730.html?search_item=",
	"white":       "https://white.market/search?game[]=CS2&query=",
}

// SteamURLBase is the reference marketplace's listing page prefix.
const SteamURLBase = "https://steamcommunity.com/market/listings/730/"

// encodeName escapes the characters that actually occur in item names.
func encodeName(name string) string {
	name = strings.ReplaceAll(name, " ", "%20")
	return strings.ReplaceAll(name, "|", "%7C")
}

// ItemURL builds the deep link for an item on a marketplace, or "" when the
// marketplace has no known link scheme.
func ItemURL(source, name string) string {
	base, ok := platformURLs[source]
	if !ok {
		return ""
	}
	return base + encodeName(name)
}

// SteamURL builds the reference marketplace listing link for an item.
func SteamURL(name string) string {
	return SteamURLBase + encodeName(name)
}

// Normalize cleans one adapter's raw listings: trims names, maps "/" to "-",
// drops entries with an empty name or a non-finite or non-positive price,
// keeps the cheapest entry per name, and fills in source, deep link and
// capture time. First-seen order is preserved.
func Normalize(source string, items []models.Listing) []models.Listing {
	now := time.Now().UTC()
	out := make([]models.Listing, 0, len(items))
	index := make(map[string]int, len(items))

	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		name = strings.ReplaceAll(name, "/", "-")
		if name == "" {
			continue
		}
		if item.Price <= 0 || math.IsNaN(item.Price) || math.IsInf(item.Price, 0) {
			continue
		}

		item.Name = name
		item.Source = source
		if item.URL == "" {
			item.URL = ItemURL(source, name)
		}
		if item.CapturedAt.IsZero() {
			item.CapturedAt = now
		}

		if i, seen := index[name]; seen {
			if item.Price < out[i].Price {
				out[i] = item
			}
			continue
		}
		index[name] = len(out)
		out = append(out, item)
	}
	return out
}
