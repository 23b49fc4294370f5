package rules

import (
	"context"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/pricing"
	"github.com/rustyeddy/intraday/strategy"
)

// BreakEven enters on the bar entry_minutes (10) after the open when that
// bar's low retests the prior session's opening low: long just above it,
// or short just below it when the prior opening bar was green. Once filled
// the stop moves to the average fill plus offset (0.04) in the trade's
// favour as soon as a bar extends the move, and never back.
type BreakEven struct{}

func (BreakEven) Name() string { return "break-even" }

func (BreakEven) Decide(ctx context.Context, rc *strategy.RuleContext) (strategy.Decision, error) {
	ts := rc.Tradestrategy
	c := rc.Current
	entryAt := ts.TradingDay.Open.Add(minutes(ts.Param("entry_minutes", 10)))

	switch {
	case c.Start.Before(entryAt):
		return strategy.Hold(), nil
	case c.Start.After(entryAt):
		return strategy.Invalid("entry bar passed"), nil
	}

	p, ok, err := priorOpenBar(ctx, rc)
	if err != nil {
		return strategy.Hold(), err
	}
	if !ok || !pricing.Equal(p.Low, c.Low, tick(rc)) {
		return strategy.Abandon("prior low not retested"), nil
	}

	offset := ts.Param("offset", 0.04)
	action := market.Buy
	limit := pricing.Add(p.Low, offset)
	if p.Side() == market.Long {
		action = market.Sell
		limit = pricing.Sub(p.Low, offset)
	}
	rc.State.SetValue("stop", p.Low)
	return strategy.Enter(strategy.Entry{
		Action:     action,
		Kind:       broker.StopLimit,
		LimitPrice: limit,
		StopPrice:  p.Low,
		Quantity:   ts.Shares(limit, p.Low),
	}, "prior low retested"), nil
}

func (BreakEven) Manage(_ context.Context, rc *strategy.RuleContext) (strategy.Decision, error) {
	st := rc.State
	c, prev := rc.Current, rc.Previous
	if rc.OpenOrder == nil || prev.IsZero() || st.Flag("breakeven") {
		return strategy.Hold(), nil
	}

	side := rc.Position.Side
	extended := (side == market.Long && c.Low > prev.Low) || (side == market.Short && c.High < prev.High)
	if !extended {
		return strategy.Hold(), nil
	}

	stop := pricing.StopWithOffset(rc.OpenOrder.AverageFilledPrice, side, market.Buy,
		rc.Tradestrategy.Param("offset", 0.04), tick(rc))
	st.SetFlag("breakeven", true)
	st.SetValue("stop", stop)
	return strategy.MoveStop(stop, 0, "break even"), nil
}
