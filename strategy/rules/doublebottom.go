package rules

import (
	"context"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/pricing"
	"github.com/rustyeddy/intraday/strategy"
)

// DoubleBottom looks for two closes back at the prior session's opening
// close: A within the first a_minutes (35) of the session and B within
// b_minutes (50) of A. While waiting for B, a low one percent above the
// prior opening low buys just under it. After B, a one percent rise from B
// buys at B; a one percent fall marks C, and a one percent rebound from C
// buys at C. Stops sit offset (0.04) under the entry. The position stop
// then ratchets like OnePercentUp.
type DoubleBottom struct{}

func (DoubleBottom) Name() string { return "double-bottom" }

func (DoubleBottom) Decide(ctx context.Context, rc *strategy.RuleContext) (strategy.Decision, error) {
	ts := rc.Tradestrategy
	st := rc.State
	c := rc.Current
	offset := ts.Param("offset", 0.04)
	pct := ts.Param("percent", 1)

	p, ok, err := priorOpenBar(ctx, rc)
	if err != nil {
		return strategy.Hold(), err
	}
	if !ok {
		return strategy.Invalid("no prior session data"), nil
	}

	a, haveA := st.Anchor("A")
	b, haveB := st.Anchor("B")

	switch {
	case !haveA:
		if rc.Since() > minutes(ts.Param("a_minutes", 35)) {
			return strategy.Invalid("no A in the opening window"), nil
		}
		if pricing.Equal(c.Close, p.Close, tick(rc)) {
			return strategy.Anchor("A", c), nil
		}
		return strategy.Hold(), nil

	case !haveB:
		if c.Start.Sub(a.Start) > minutes(ts.Param("b_minutes", 50)) {
			return strategy.Invalid("no B after A"), nil
		}
		if pricing.Equal(c.Close, p.Close, tick(rc)) {
			st.Candidate = true
			return strategy.Anchor("B", c), nil
		}
		if c.Low >= pricing.PlusPercent(p.Low, pct) {
			px := pricing.Sub(p.Low, offset)
			return buyStopLimit(rc, px, px, "double bottom: lifted off prior low"), nil
		}
		return strategy.Hold(), nil
	}

	cc, haveC := st.Anchor("C")
	switch {
	case c.Close <= pricing.MinusPercent(b.Close, pct) && (!haveC || c.Close <= pricing.MinusPercent(cc.Close, pct)):
		return strategy.Anchor("C", c), nil
	case haveC && c.Close >= pricing.PlusPercent(cc.Close, pct):
		return buyStopLimit(rc, cc.Close, pricing.Sub(cc.Close, offset), "double bottom: rebound from C"), nil
	case c.Close >= pricing.PlusPercent(b.Close, pct):
		return buyStopLimit(rc, b.Close, pricing.Sub(b.Close, offset), "double bottom: rise from B"), nil
	}
	return strategy.Hold(), nil
}

func (DoubleBottom) Manage(_ context.Context, rc *strategy.RuleContext) (strategy.Decision, error) {
	return ratchetStop(rc)
}

func buyStopLimit(rc *strategy.RuleContext, limit, stop float64, reason string) strategy.Decision {
	rc.State.SetValue("lastStop", stop)
	return strategy.Enter(strategy.Entry{
		Action:     market.Buy,
		Kind:       broker.StopLimit,
		LimitPrice: limit,
		StopPrice:  stop,
		Quantity:   rc.Tradestrategy.Shares(limit, stop),
	}, reason)
}
