// Package broker defines the contract the engine needs from a broker: order
// entry, amendment, cancellation and the authoritative view of orders and
// positions. Acknowledgements may arrive asynchronously as OrderEvents.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/intraday/market"
)

var (
	ErrTimeout       = errors.New("broker: call timed out")
	ErrOrderNotFound = errors.New("broker: order not found")
	ErrOrderInactive = errors.New("broker: order is not active")
	ErrBadRequest    = errors.New("broker: invalid order request")
)

type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (string, error)
	UpdateOrder(ctx context.Context, key string, req OrderRequest) error
	CancelOrder(ctx context.Context, key string) error
	IsOrderActive(ctx context.Context, key string) (bool, error)
	Orders(ctx context.Context, symbol string) ([]OrderState, error)
	CurrentPosition(ctx context.Context, symbol string) (Position, error)
}

// OrderKind is the broker order type.
type OrderKind string

const (
	Market    OrderKind = "MKT"
	Limit     OrderKind = "LMT"
	Stop      OrderKind = "STP"
	StopLimit OrderKind = "STPLMT"
)

func (k OrderKind) Valid() bool {
	switch k {
	case Market, Limit, Stop, StopLimit:
		return true
	}
	return false
}

type OrderStatus string

const (
	Unsubmitted     OrderStatus = "UNSUBMITTED"
	Submitted       OrderStatus = "SUBMITTED"
	PartiallyFilled OrderStatus = "PARTIALFILLED"
	Filled          OrderStatus = "FILLED"
	Cancelled       OrderStatus = "CANCELLED"
)

// Terminal reports whether no further fills can happen.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled
}

func (s OrderStatus) Active() bool {
	return !s.Terminal()
}

type OrderRequest struct {
	Instrument market.Instrument
	Action     market.Action
	Kind       OrderKind
	LimitPrice float64
	StopPrice  float64
	Quantity   int64
	AllOrNone  bool
	Transmit   bool

	// Reference ties the order to the tradestrategy that created it.
	Reference string
}

func (r OrderRequest) Validate() error {
	if r.Instrument.Symbol == "" {
		return errors.Join(ErrBadRequest, errors.New("missing instrument"))
	}
	if !r.Action.Valid() {
		return errors.Join(ErrBadRequest, errors.New("bad action "+string(r.Action)))
	}
	if !r.Kind.Valid() {
		return errors.Join(ErrBadRequest, errors.New("bad order kind "+string(r.Kind)))
	}
	if r.Quantity <= 0 {
		return errors.Join(ErrBadRequest, errors.New("quantity must be positive"))
	}
	return nil
}

// OrderState is the broker's view of one order.
type OrderState struct {
	Key                string
	Symbol             string
	Reference          string
	Action             market.Action
	Kind               OrderKind
	LimitPrice         float64
	StopPrice          float64
	Quantity           int64
	FilledQuantity     int64
	AverageFilledPrice float64
	Status             OrderStatus
	Time               time.Time
}

// OrderEvent is an acknowledgement from the broker: a status change, a fill
// or both. FilledQuantity and AverageFilledPrice are cumulative.
type OrderEvent = OrderState

type Position struct {
	Symbol   string
	Side     market.Side
	Quantity int64 // signed: >0 long, <0 short
}

func (p Position) Open() bool {
	return p.Quantity != 0
}
