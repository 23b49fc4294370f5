package strategy

import (
	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/market"
)

type DecisionKind int

const (
	NoOp DecisionKind = iota
	SetAnchor
	RequestEntry
	RequestStopMove
	Invalidate
	Cancel
)

func (k DecisionKind) String() string {
	switch k {
	case NoOp:
		return "no-op"
	case SetAnchor:
		return "set-anchor"
	case RequestEntry:
		return "request-entry"
	case RequestStopMove:
		return "request-stop-move"
	case Invalidate:
		return "invalidate"
	case Cancel:
		return "cancel"
	}
	return "unknown"
}

// OnError tells the instance what to do when carrying out a decision fails
// at the ledger.
type OnError int

const (
	// Retry leaves the phase unchanged so the next bar decides again.
	Retry OnError = iota
	// Terminate ends the tradestrategy.
	Terminate
)

// Entry is the order a rule wants to open a position with.
type Entry struct {
	Action     market.Action
	Kind       broker.OrderKind
	LimitPrice float64
	StopPrice  float64
	Quantity   int64
	AllOrNone  bool
}

// Decision is a rule's answer for one bar.
type Decision struct {
	Kind DecisionKind

	// SetAnchor
	Anchor string
	Candle market.Candle

	// RequestEntry
	Entry Entry

	// RequestStopMove
	StopPrice  float64
	LimitPrice float64

	Reason  string
	OnError OnError
}

func Hold() Decision {
	return Decision{Kind: NoOp}
}

func Anchor(name string, c market.Candle) Decision {
	return Decision{Kind: SetAnchor, Anchor: name, Candle: c}
}

func Enter(e Entry, reason string) Decision {
	return Decision{Kind: RequestEntry, Entry: e, Reason: reason}
}

// MoveStop moves the working entry's stop, or the protective stop once a
// position is open. limit is only used for a working stop-limit entry.
func MoveStop(stop, limit float64, reason string) Decision {
	return Decision{Kind: RequestStopMove, StopPrice: stop, LimitPrice: limit, Reason: reason}
}

func Invalid(reason string) Decision {
	return Decision{Kind: Invalidate, Reason: reason}
}

func Abandon(reason string) Decision {
	return Decision{Kind: Cancel, Reason: reason}
}

// OrTerminate makes a ledger failure end the tradestrategy.
func (d Decision) OrTerminate() Decision {
	d.OnError = Terminate
	return d
}
