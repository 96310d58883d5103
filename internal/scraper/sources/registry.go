// Package sources implements one adapter per marketplace.
package sources

import "skinarb/internal/scraper"

// Factories maps every supported source tag to its adapter factory.
var Factories = map[string]scraper.Factory{
	"skinport":     newSkinport,
	"csdeals":      newCSDeals,
	"marketcsgo":   newMarketCSGO,
	"lisskins":     newLisSkins,
	"white":        newWhite,
	"cstrade":      newCSTrade,
	"shadowpay":    newShadowPay,
	"skindeck":     newSkinDeck,
	"bitskins":     newBitskins,
	"waxpeer":      newWaxpeer,
	"tradeit":      newTradeit,
	"skinout":      newSkinout,
	"rapidskins":   newRapidSkins,
	"manncostore":  newManncoStore,
	"empire":       newEmpire,
	"steamlisting": newSteamListing,
	"steamid":      newSteamID,
	"steammarket":  newSteamMarket,
}

// Tags returns every supported source tag.
func Tags() []string {
	tags := make([]string, 0, len(Factories))
	for tag := range Factories {
		tags = append(tags, tag)
	}
	return tags
}
