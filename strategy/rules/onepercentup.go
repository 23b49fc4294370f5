package rules

import (
	"context"

	"github.com/rustyeddy/intraday/pricing"
	"github.com/rustyeddy/intraday/strategy"
)

// OnePercentUp buys back at the prior session's opening close once a close
// (at tick precision) is percent (1) above today's open. Once filled, the
// position is protected at the entry's stop and that stop ratchets up:
// whenever a rising close reaches ratchet percent (50) above the last stop,
// the stop moves to that level less offset (0.04).
type OnePercentUp struct{}

func (OnePercentUp) Name() string { return "one-percent-up" }

func (OnePercentUp) Decide(ctx context.Context, rc *strategy.RuleContext) (strategy.Decision, error) {
	ts := rc.Tradestrategy
	open := sessionOpenBar(rc)
	closeAtTick := pricing.RoundToTick(rc.Current.Close, tick(rc))
	if closeAtTick < pricing.PlusPercent(open.Open, ts.Param("percent", 1)) {
		return strategy.Hold(), nil
	}

	p, ok, err := priorOpenBar(ctx, rc)
	if err != nil {
		return strategy.Hold(), err
	}
	if !ok {
		return strategy.Invalid("no prior session data"), nil
	}

	return buyStopLimit(rc, p.Close, pricing.Sub(p.Close, ts.Param("offset", 0.04)), "one percent above the open"), nil
}

func (OnePercentUp) Manage(_ context.Context, rc *strategy.RuleContext) (strategy.Decision, error) {
	return ratchetStop(rc)
}

// ratchetStop protects a new position at the entry stop, then lifts the
// stop as closes rise.
func ratchetStop(rc *strategy.RuleContext) (strategy.Decision, error) {
	ts := rc.Tradestrategy
	st := rc.State

	last, ok := st.Value("lastStop")
	if !ok {
		return strategy.Hold(), nil
	}
	if st.StopOrderKey == "" {
		return strategy.MoveStop(last, 0, "protect entry"), nil
	}

	c, prev := rc.Current, rc.Previous
	target := pricing.PlusPercent(last, ts.Param("ratchet", 50))
	if prev.IsZero() || c.Close <= prev.Close || c.Close < target {
		return strategy.Hold(), nil
	}

	next := pricing.Sub(target, ts.Param("offset", 0.04))
	st.SetValue("lastStop", next)
	return strategy.MoveStop(next, 0, "ratchet stop"), nil
}
