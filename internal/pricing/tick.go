// Package pricing implements the per-session market simulation: a seeded
// random stream, a regime-switching price process per asset, and the tick
// rounding that turns raw simulated levels into tradable prices.
//
// Internal simulation math runs in float64. Prices leave this package either
// as tick-rounded floats (RoundToTick) or as exact decimal tick multiples
// (Quote), which is what execution and clients see.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundToTick snaps x to the nearest multiple of tick, never returning less
// than one tick. Halfway cases round to even. NaN maps to tick.
//
// RoundToTick is idempotent: RoundToTick(RoundToTick(x, t), t) == RoundToTick(x, t).
func RoundToTick(x, tick float64) float64 {
	if math.IsNaN(x) {
		return tick
	}
	r := math.RoundToEven(x/tick) * tick
	if r < tick {
		return tick
	}
	return r
}

// Quote converts a price into an exact decimal multiple of tick, floored at
// one tick. The float tick-rounded value 100.05000000000001 quotes as 100.05.
// An infinite price has no decimal form and quotes as one tick.
func Quote(price, tick float64) decimal.Decimal {
	t := decimal.NewFromFloat(tick)
	r := RoundToTick(price, tick)
	if math.IsInf(r, 0) {
		return t
	}
	q := decimal.NewFromFloat(r).Div(t).Round(0).Mul(t)
	if q.LessThan(t) {
		return t
	}
	return q
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
