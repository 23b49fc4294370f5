package rules

import (
	"context"
	"math"
	"time"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/pricing"
	"github.com/rustyeddy/intraday/strategy"
)

// Consolidation trades a breakout from a tight range. A pivot bar is held
// while closes stay within band of its close; once that has lasted
// candidate_minutes the instrument is a candidate, and a close more than
// breakout away from the pivot enters in that direction with a stop-limit
// at the bar extreme. A candidate that has not broken out after
// max_minutes starts over from the current bar.
//
// Params: band (0.05), breakout (0.20), offset (0.10), candidate_minutes
// (20), max_minutes (180).
type Consolidation struct{}

func (Consolidation) Name() string { return "consolidation" }

func (Consolidation) Decide(_ context.Context, rc *strategy.RuleContext) (strategy.Decision, error) {
	ts := rc.Tradestrategy
	st := rc.State
	c := rc.Current

	band := ts.Param("band", 0.05)
	breakout := ts.Param("breakout", 0.20)
	offset := ts.Param("offset", 0.10)
	candidateAfter := minutes(ts.Param("candidate_minutes", 20))
	maxWatch := minutes(ts.Param("max_minutes", 180))

	pivot, ok := st.Anchor("pivot")
	if !ok {
		return strategy.Anchor("pivot", c), nil
	}

	elapsed := c.Start.Sub(pivot.Start)
	diff := c.Close - pivot.Close
	inBand := math.Abs(diff) <= band+1e-9

	if !st.Candidate {
		if !inBand {
			return strategy.Anchor("pivot", c), nil
		}
		if elapsed > candidateAfter {
			st.Candidate = true
		}
		return strategy.Hold(), nil
	}

	switch {
	case inBand && elapsed > maxWatch:
		st.Candidate = false
		return strategy.Anchor("pivot", c), nil
	case inBand:
		return strategy.Hold(), nil
	case diff < -breakout:
		limit := c.Low
		stop := pricing.Add(c.Low, offset)
		return strategy.Enter(strategy.Entry{
			Action:     market.Sell,
			Kind:       broker.StopLimit,
			LimitPrice: limit,
			StopPrice:  stop,
			Quantity:   ts.Shares(limit, stop),
		}, "consolidation broke down"), nil
	case diff > breakout:
		limit := c.High
		stop := pricing.Sub(c.High, offset)
		return strategy.Enter(strategy.Entry{
			Action:     market.Buy,
			Kind:       broker.StopLimit,
			LimitPrice: limit,
			StopPrice:  stop,
			Quantity:   ts.Shares(limit, stop),
		}, "consolidation broke out"), nil
	}
	return strategy.Hold(), nil
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
