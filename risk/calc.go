// Package risk holds the exposure arithmetic shared by the ledger and the
// rules. All functions are pure.
package risk

import "math"

// Exposure is the money at risk on filledQty shares bought or sold at
// avgFillPrice if the market trades at currentPrice:
// |currentPrice - avgFillPrice| * |filledQty|.
func Exposure(currentPrice, avgFillPrice float64, filledQty int64) float64 {
	q := filledQty
	if q < 0 {
		q = -q
	}
	return math.Abs(currentPrice-avgFillPrice) * float64(q)
}

// Violated reports whether the exposure strictly exceeds riskAmount.
func Violated(currentPrice, riskAmount float64, filledQty int64, avgFillPrice float64) bool {
	return Exposure(currentPrice, avgFillPrice, filledQty) > riskAmount
}

// SharesForRisk sizes a position so that hitting stop loses at most
// riskAmount. It returns 0 when entry equals stop.
func SharesForRisk(riskAmount, entry, stop float64) int64 {
	dist := math.Abs(entry - stop)
	if dist == 0 || riskAmount <= 0 {
		return 0
	}
	// the epsilon absorbs binary noise such as 100/0.04 = 2499.9999
	return int64(math.Floor(riskAmount/dist + 1e-9))
}
