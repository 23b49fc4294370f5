// Package strategy runs one tradestrategy: a state machine that feeds each
// bar to a Rule and turns the rule's Decision into ledger calls while
// keeping the single-position and risk guarantees.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/intraday/ledger"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/store"
)

// ErrInvalidStateAccess means an instance was asked to do something its
// phase forbids. It is fatal to that instance.
var ErrInvalidStateAccess = errors.New("strategy: invalid state access")

// Rule decides what to do on each bar while no position is open.
type Rule interface {
	Name() string
	Decide(ctx context.Context, rc *RuleContext) (Decision, error)
}

// PositionManager is implemented by rules that keep working the trade once
// the position is open, typically by moving the stop.
type PositionManager interface {
	Manage(ctx context.Context, rc *RuleContext) (Decision, error)
}

// RuleContext is what a rule sees for one bar.
type RuleContext struct {
	Tradestrategy Tradestrategy
	Current       market.Candle
	// Previous is the last completed bar of the session before Current.
	Previous market.Candle
	NewBar   bool
	State    *State

	// Session holds the completed bars seen so far today, oldest first.
	Session []market.Candle
	History store.CandleStore

	Position  ledger.Position
	OpenOrder *ledger.TradeOrder
	Entry     *ledger.TradeOrder

	priorDay func(context.Context) ([]market.Candle, error)
}

// PriorDay returns the previous session's bars. An empty slice means the
// store has no data for that day.
func (rc *RuleContext) PriorDay(ctx context.Context) ([]market.Candle, error) {
	if rc.priorDay != nil {
		return rc.priorDay(ctx)
	}
	if rc.History == nil {
		return nil, nil
	}
	ts := rc.Tradestrategy
	return store.PriorSession(ctx, rc.History, ts.Instrument.ID, ts.TradingDay.Open, ts.TradingDay.Close, ts.BarSize)
}

// Since reports how long after the session open the current bar starts.
func (rc *RuleContext) Since() time.Duration {
	return rc.Current.Start.Sub(rc.Tradestrategy.TradingDay.Open)
}

// RuleEvaluationError wraps a failure inside a rule with where it happened.
type RuleEvaluationError struct {
	Rule          string
	Tradestrategy string
	Symbol        string
	Period        time.Time
	Err           error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s for %s (%s) at %s: %v",
		e.Rule, e.Tradestrategy, e.Symbol, e.Period.Format(time.RFC3339), e.Err)
}

func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}
