// Package pricing holds the numeric helpers used to derive entry, stop and
// limit prices. Every function is pure.
//
// Tick rounding uses banker's rounding (round half to even) on the number of
// ticks; TruncateToTick always rounds toward zero.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/intraday/market"
)

var hundred = decimal.NewFromInt(100)

// PercentOf returns percent% of number.
func PercentOf(number, percent float64) float64 {
	f, _ := decimal.NewFromFloat(number).
		Mul(decimal.NewFromFloat(percent)).
		Div(hundred).
		Float64()
	return f
}

// PlusPercent returns number increased by percent%.
func PlusPercent(number, percent float64) float64 {
	n := decimal.NewFromFloat(number)
	f, _ := n.Add(n.Mul(decimal.NewFromFloat(percent)).Div(hundred)).Float64()
	return f
}

// MinusPercent returns number decreased by percent%.
func MinusPercent(number, percent float64) float64 {
	n := decimal.NewFromFloat(number)
	f, _ := n.Sub(n.Mul(decimal.NewFromFloat(percent)).Div(hundred)).Float64()
	return f
}

// RoundToTick quantizes price to the nearest multiple of tick. Ties go to
// the even tick count, so 10.005 with a 0.01 tick becomes 10.00 and 10.015
// becomes 10.02. A non-positive tick returns price unchanged.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	f, _ := decimal.NewFromFloat(price).
		DivRound(t, 16).
		RoundBank(0).
		Mul(t).
		Float64()
	return f
}

// TruncateToTick drops any fraction of a tick, rounding toward zero.
func TruncateToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	f, _ := decimal.NewFromFloat(price).
		DivRound(t, 16).
		Truncate(0).
		Mul(t).
		Float64()
	return f
}

// StopWithOffset moves price by offset for an order with the given action
// against a position on side, then rounds to tick.
//
// For a long position a BUY moves the price up and a SELL moves it down;
// for a short position it is the reverse. A flat side is treated as long.
func StopWithOffset(price float64, side market.Side, action market.Action, offset, tick float64) float64 {
	p := decimal.NewFromFloat(price)
	o := decimal.NewFromFloat(offset)

	up := action == market.Buy
	if side == market.Short {
		up = !up
	}
	if up {
		p = p.Add(o)
	} else {
		p = p.Sub(o)
	}
	f, _ := p.Float64()
	return RoundToTick(f, tick)
}

// Equal compares two prices at tick precision.
func Equal(a, b, tick float64) bool {
	return RoundToTick(a, tick) == RoundToTick(b, tick)
}

// RoundHalfUp rounds price to places decimals, halves away from zero.
func RoundHalfUp(price float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(price).Round(places).Float64()
	return f
}

// Add and Sub do decimal arithmetic so offsets like 0.04 land exactly.
func Add(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Float64()
	return f
}

func Sub(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Float64()
	return f
}
