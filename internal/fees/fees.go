// Package fees implements the reference marketplace's stepped fee schedule.
// The schedule deducts an absolute fee chosen from a piecewise table that
// grows with the gross price; all arithmetic is done in integer cents so the
// result is identical across runs and platforms.
package fees

import "github.com/shopspring/decimal"

// Base tables in cents. Intervals extend by +12 then +11 alternating on the
// current length's parity; fees extend by +1 then +2 the same way, until the
// intervals cover the gross price and the tables have equal length.
var (
	baseIntervals = []int64{2, 21, 32, 43}
	baseFees      = []int64{2, 3, 4, 5, 7, 9}
)

// NetPrice returns the amount the seller receives for a gross sale price,
// rounded half away from zero to 2 decimals, never negative.
func NetPrice(gross decimal.Decimal) decimal.Decimal {
	grossCents := toCents(gross)

	intervals := append([]int64(nil), baseIntervals...)
	for grossCents > intervals[len(intervals)-1] {
		last := intervals[len(intervals)-1]
		if len(intervals)%2 == 0 {
			intervals = append(intervals, last+12)
		} else {
			intervals = append(intervals, last+11)
		}
	}

	fees := append([]int64(nil), baseFees...)
	for len(fees) < len(intervals) {
		last := fees[len(fees)-1]
		if len(fees)%2 == 0 {
			fees = append(fees, last+1)
		} else {
			fees = append(fees, last+2)
		}
	}

	idx := len(intervals) - 1
	for i, v := range intervals {
		if grossCents <= v {
			idx = i
			break
		}
	}

	netCents := grossCents - fees[idx]
	if netCents < 0 {
		netCents = 0
	}
	return decimal.New(netCents, -2)
}

// Profit returns the absolute profit and the profit ratio of buying at buy
// and selling at gross on the reference marketplace.
func Profit(gross, buy decimal.Decimal) (abs, ratio decimal.Decimal) {
	abs = NetPrice(gross).Sub(buy)
	if buy.IsPositive() {
		ratio = abs.DivRound(buy, 6)
	}
	return abs, ratio
}

// NetPriceFloat is a float64 convenience wrapper around NetPrice for callers
// holding catalog prices as floats.
func NetPriceFloat(gross float64) float64 {
	f, _ := NetPrice(decimal.NewFromFloat(gross)).Float64()
	return f
}

// ProfitFloat mirrors Profit for float64 inputs.
func ProfitFloat(gross, buy float64) (abs, ratio float64) {
	a, r := Profit(decimal.NewFromFloat(gross), decimal.NewFromFloat(buy))
	abs, _ = a.Float64()
	ratio, _ = r.Float64()
	return abs, ratio
}

// toCents rounds a price half away from zero to 2 decimals and returns it
// as integer cents.
func toCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}
