// Package journal records order activity and tradestrategy phase changes for
// post-mortem analysis.
package journal

import "time"

// OrderRecord is one ledger mutation or broker acknowledgement.
type OrderRecord struct {
	Time               time.Time
	OrderKey           string
	Tradestrategy      string
	Symbol             string
	Event              string // create, update, cancel, ack, flatten
	Action             string
	Kind               string
	Status             string
	LimitPrice         float64
	StopPrice          float64
	Quantity           int64
	FilledQuantity     int64
	AverageFilledPrice float64
}

// TransitionRecord is a tradestrategy phase change.
type TransitionRecord struct {
	Time          time.Time
	Tradestrategy string
	Symbol        string
	From          string
	To            string
	Reason        string
}

type Journal interface {
	RecordOrder(OrderRecord) error
	RecordTransition(TransitionRecord) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordOrder(OrderRecord) error           { return nil }
func (Nop) RecordTransition(TransitionRecord) error { return nil }
func (Nop) Close() error                            { return nil }
