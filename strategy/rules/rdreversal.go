package rules

import (
	"context"

	"github.com/rustyeddy/intraday/pricing"
	"github.com/rustyeddy/intraday/strategy"
)

// RDReversal watches the first window_minutes (270) after the open for a
// close within band (0.10) of the prior session's lowest close (A). A
// later close above A invalidates the day; a close equal at two decimals
// to that lowest close (B) arms the entry, which fires on a close at least
// band above B with a wide stop-limit around it.
type RDReversal struct{}

func (RDReversal) Name() string { return "rd-reversal" }

func (RDReversal) Decide(ctx context.Context, rc *strategy.RuleContext) (strategy.Decision, error) {
	ts := rc.Tradestrategy
	st := rc.State
	c := rc.Current
	band := ts.Param("band", 0.10)

	if st.Flag("checkingForC") {
		b, _ := st.Anchor("B")
		if c.Close < pricing.Add(b.Close, band) {
			return strategy.Hold(), nil
		}
		limit := pricing.PlusPercent(c.Close, ts.Param("limit_percent", 10))
		stop := pricing.MinusPercent(c.Close, ts.Param("stop_percent", 10))
		return buyStopLimit(rc, limit, stop, "reversal from prior low"), nil
	}

	open := ts.TradingDay.Open
	end := open.Add(minutes(ts.Param("window_minutes", 270)))
	if !c.Start.After(open) || !c.Start.Before(end) {
		return strategy.Hold(), nil
	}

	low, ok, err := priorLowestClose(ctx, rc)
	if err != nil {
		return strategy.Hold(), err
	}
	if !ok {
		return strategy.Invalid("no prior session data"), nil
	}

	a, haveA := st.Anchor("A")
	if !haveA {
		if c.Close >= low-band && c.Close <= low+band {
			return strategy.Anchor("A", c), nil
		}
		return strategy.Hold(), nil
	}

	if c.Close > a.Close {
		return strategy.Invalid("closed above A"), nil
	}
	if pricing.RoundHalfUp(c.Close, 2) == pricing.RoundHalfUp(low, 2) {
		st.SetFlag("checkingForC", true)
		st.Candidate = true
		return strategy.Anchor("B", c), nil
	}
	return strategy.Hold(), nil
}

func priorLowestClose(ctx context.Context, rc *strategy.RuleContext) (float64, bool, error) {
	cs, err := rc.PriorDay(ctx)
	if err != nil || len(cs) == 0 {
		return 0, false, err
	}
	low := cs[0].Close
	for _, c := range cs[1:] {
		if c.Close < low {
			low = c.Close
		}
	}
	return low, true, nil
}

