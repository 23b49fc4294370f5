package market

// Action is the order direction.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

func (a Action) Opposite() Action {
	if a == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for BUY and -1 for SELL.
func (a Action) Sign() int64 {
	if a == Sell {
		return -1
	}
	return 1
}

func (a Action) Valid() bool {
	return a == Buy || a == Sell
}

// Side is the direction of a position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
	Flat  Side = "FLAT"
)

// SideOf returns the side of a signed net quantity.
func SideOf(qty int64) Side {
	switch {
	case qty > 0:
		return Long
	case qty < 0:
		return Short
	default:
		return Flat
	}
}

// ClosingAction is the action that reduces a position on this side.
func (s Side) ClosingAction() Action {
	if s == Short {
		return Buy
	}
	return Sell
}
