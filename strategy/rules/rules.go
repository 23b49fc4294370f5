// Package rules holds the concrete decision rules a tradestrategy can run.
// Rules keep everything they remember in strategy.State so a restarted
// instance picks up where it left off.
package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/strategy"
)

var registry = map[string]func() strategy.Rule{
	"consolidation":  func() strategy.Rule { return Consolidation{} },
	"double-bottom":  func() strategy.Rule { return DoubleBottom{} },
	"one-percent-up": func() strategy.Rule { return OnePercentUp{} },
	"rd-reversal":    func() strategy.Rule { return RDReversal{} },
	"break-even":     func() strategy.Rule { return BreakEven{} },
}

// New returns the rule registered under kind.
func New(kind string) (strategy.Rule, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, fmt.Errorf("unknown rule %q (supported: %s)", kind, strings.Join(Names(), ", "))
	}
	return f(), nil
}

func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// priorOpenBar is the first bar of the previous session. ok is false when
// the store has nothing for that day.
func priorOpenBar(ctx context.Context, rc *strategy.RuleContext) (market.Candle, bool, error) {
	cs, err := rc.PriorDay(ctx)
	if err != nil || len(cs) == 0 {
		return market.Candle{}, false, err
	}
	return cs[0], true, nil
}

// sessionOpenBar is the first bar of today's session.
func sessionOpenBar(rc *strategy.RuleContext) market.Candle {
	if len(rc.Session) > 0 {
		return rc.Session[0]
	}
	return rc.Current
}

func tick(rc *strategy.RuleContext) float64 {
	return rc.Tradestrategy.Instrument.Tick()
}
