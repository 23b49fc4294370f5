package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/risk"
)

// TradingDay is the session a tradestrategy trades in.
type TradingDay struct {
	Open  time.Time `json:"open" yaml:"open"`
	Close time.Time `json:"close" yaml:"close"`
}

// Tradestrategy is one instrument traded by one rule for one session. It is
// fixed once the session starts.
type Tradestrategy struct {
	ID         string             `json:"id" yaml:"id"`
	Instrument market.Instrument  `json:"instrument" yaml:"instrument"`
	TradingDay TradingDay         `json:"trading_day" yaml:"trading_day"`
	Kind       string             `json:"kind" yaml:"kind"`
	BarSize    time.Duration      `json:"bar_size" yaml:"bar_size"`
	Portfolio  string             `json:"portfolio" yaml:"portfolio"`
	RiskAmount float64            `json:"risk_amount" yaml:"risk_amount"`
	Quantity   int64              `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Params     map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

func (ts Tradestrategy) Validate() error {
	var errs []error
	if ts.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if err := ts.Instrument.Validate(); err != nil {
		errs = append(errs, err)
	}
	if ts.Kind == "" {
		errs = append(errs, errors.New("kind is required"))
	}
	if ts.BarSize <= 0 {
		errs = append(errs, errors.New("bar size must be positive"))
	}
	if !ts.TradingDay.Open.Before(ts.TradingDay.Close) {
		errs = append(errs, errors.New("trading day must open before it closes"))
	}
	if ts.RiskAmount < 0 {
		errs = append(errs, errors.New("risk amount must not be negative"))
	}
	if ts.Quantity < 0 {
		errs = append(errs, errors.New("quantity must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("tradestrategy %q: %w", ts.ID, errors.Join(errs...))
	}
	return nil
}

// Cutoff is the end of the last bar in which an open position is still
// managed. Bars ending at or after it flatten the day.
func (ts Tradestrategy) Cutoff() time.Time {
	return ts.TradingDay.Close.Add(-ts.BarSize)
}

// Param returns a rule parameter or def when it is not configured.
func (ts Tradestrategy) Param(name string, def float64) float64 {
	if v, ok := ts.Params[name]; ok {
		return v
	}
	return def
}

// Shares is the configured quantity, or the size that risks RiskAmount
// between entry and stop.
func (ts Tradestrategy) Shares(entry, stop float64) int64 {
	if ts.Quantity > 0 {
		return ts.Quantity
	}
	return risk.SharesForRisk(ts.RiskAmount, entry, stop)
}
