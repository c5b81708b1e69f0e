package risk

import (
	"math"
	"strconv"

	"github.com/rustyeddy/trailguard/exchange"
)

func lev(leverage float64) float64 {
	if leverage <= 0 {
		return 1
	}
	return leverage
}

// ProfitDistance is the leveraged return of the position measured from
// entry: positive when mark has moved in the position's favor.
func ProfitDistance(side exchange.Side, entry, mark, leverage float64) float64 {
	d := (mark - entry) / entry * lev(leverage)
	if side == exchange.Short {
		return -d
	}
	return d
}

// StopPrice places the stop profitTarget/leverage beyond entry on the
// profitable side.
func StopPrice(side exchange.Side, entry, profitTarget, leverage float64) float64 {
	off := profitTarget / lev(leverage)
	if side == exchange.Short {
		return entry * (1 - off)
	}
	return entry * (1 + off)
}

// BeyondEntry reports whether stop locks in profit, strictly past entry.
func BeyondEntry(side exchange.Side, entry, stop float64) bool {
	if side == exchange.Short {
		return stop < entry
	}
	return stop > entry
}

// Closeness is how far mark has travelled from entry toward liquidation: 0 at
// entry, 1 at liquidation. The same formula serves both sides.
func Closeness(entry, mark, liq float64) float64 {
	return 1 - math.Abs(mark-liq)/math.Abs(entry-liq)
}

// SigDigits derives significant digits from an amount increment: 0.001 gives
// 3, anything at or above 1 gives 1.
func SigDigits(increment float64) int {
	if increment >= 1 {
		return 1
	}
	return int(math.Abs(math.Round(math.Log10(increment))))
}

// RoundSigFigs rounds x to sig significant figures.
func RoundSigFigs(x float64, sig int) float64 {
	if x == 0 || sig <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	d := sig - int(math.Floor(math.Log10(math.Abs(x)))) - 1
	p := math.Pow(10, float64(d))
	return math.Round(x*p) / p
}

// ReentryAmount is twice the position's notional expressed in contracts at
// mark, rounded to the instrument's significant digits.
func ReentryAmount(notional, mark, amountIncrement float64) float64 {
	return RoundSigFigs(2*math.Abs(notional)/mark, SigDigits(amountIncrement))
}

// RoundToIncrement snaps price to the nearest multiple of inc, returned as
// the float closest to that decimal value. A zero increment leaves price
// unchanged.
func RoundToIncrement(price, inc float64) float64 {
	if inc <= 0 {
		return price
	}
	snapped := math.Round(price/inc) * inc
	clean, err := strconv.ParseFloat(exchange.FormatStep(snapped, inc), 64)
	if err != nil {
		return snapped
	}
	return clean
}
