// Package paper is an in-memory broker. Orders rest until a candle trades
// through their prices; fills are reported to subscribers as
// broker.OrderEvents, the same way a live broker acknowledges them.
package paper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/id"
	"github.com/rustyeddy/intraday/market"
)

// Listener receives acknowledgements. It is called without the gateway
// lock held, so it may call back into the gateway.
type Listener func(broker.OrderEvent)

type Option func(*Gateway)

// WithFillRatio makes each triggering candle fill only part of the
// remaining quantity (at least one share). Ratios outside (0, 1) fill in full.
func WithFillRatio(r float64) Option {
	return func(g *Gateway) { g.fillRatio = r }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

type order struct {
	state     broker.OrderState
	transmit  bool
	triggered bool // stop leg of a STPLMT has traded
}

type Gateway struct {
	mu        sync.Mutex
	orders    map[string]*order
	seq       []string
	positions map[string]int64
	listeners []Listener
	fillRatio float64
	now       func() time.Time
}

var _ broker.Gateway = (*Gateway)(nil)

func New(opts ...Option) *Gateway {
	g := &Gateway{
		orders:    make(map[string]*order),
		positions: make(map[string]int64),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Subscribe(l Listener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

func (g *Gateway) notify(evs []broker.OrderEvent) {
	if len(evs) == 0 {
		return
	}
	g.mu.Lock()
	ls := append([]Listener(nil), g.listeners...)
	g.mu.Unlock()

	for _, ev := range evs {
		for _, l := range ls {
			l(ev)
		}
	}
}

func (g *Gateway) CreateOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("paper: %w", err)
	}

	g.mu.Lock()
	key := id.OrderKey(req.Instrument.Symbol)
	status := broker.Unsubmitted
	if req.Transmit {
		status = broker.Submitted
	}
	o := &order{
		transmit: req.Transmit,
		state: broker.OrderState{
			Key:        key,
			Symbol:     req.Instrument.Symbol,
			Reference:  req.Reference,
			Action:     req.Action,
			Kind:       req.Kind,
			LimitPrice: req.LimitPrice,
			StopPrice:  req.StopPrice,
			Quantity:   req.Quantity,
			Status:     status,
			Time:       g.now(),
		},
	}
	g.orders[key] = o
	g.seq = append(g.seq, key)
	ev := o.state
	g.mu.Unlock()

	g.notify([]broker.OrderEvent{ev})
	return key, nil
}

func (g *Gateway) UpdateOrder(ctx context.Context, key string, req broker.OrderRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("paper: %w", err)
	}

	g.mu.Lock()
	o, err := g.activeLocked(key)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	if req.Quantity < o.state.FilledQuantity {
		g.mu.Unlock()
		return fmt.Errorf("paper: %w: quantity below filled", broker.ErrBadRequest)
	}
	o.state.Kind = req.Kind
	o.state.LimitPrice = req.LimitPrice
	o.state.StopPrice = req.StopPrice
	o.state.Quantity = req.Quantity
	if req.Transmit && !o.transmit {
		o.transmit = true
		o.state.Status = broker.Submitted
	}
	o.state.Time = g.now()
	ev := o.state
	g.mu.Unlock()

	g.notify([]broker.OrderEvent{ev})
	return nil
}

func (g *Gateway) CancelOrder(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	o, err := g.activeLocked(key)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	o.state.Status = broker.Cancelled
	o.state.Time = g.now()
	ev := o.state
	g.mu.Unlock()

	g.notify([]broker.OrderEvent{ev})
	return nil
}

func (g *Gateway) activeLocked(key string) (*order, error) {
	o, ok := g.orders[key]
	if !ok {
		return nil, fmt.Errorf("paper: %w: %q", broker.ErrOrderNotFound, key)
	}
	if o.state.Status.Terminal() {
		return nil, fmt.Errorf("paper: %w: %q is %s", broker.ErrOrderInactive, key, o.state.Status)
	}
	return o, nil
}

func (g *Gateway) IsOrderActive(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[key]
	if !ok {
		return false, fmt.Errorf("paper: %w: %q", broker.ErrOrderNotFound, key)
	}
	return o.state.Status.Active(), nil
}

func (g *Gateway) Orders(ctx context.Context, symbol string) ([]broker.OrderState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []broker.OrderState
	for _, k := range g.seq {
		if o := g.orders[k]; o.state.Symbol == symbol {
			out = append(out, o.state)
		}
	}
	return out, nil
}

func (g *Gateway) CurrentPosition(ctx context.Context, symbol string) (broker.Position, error) {
	if err := ctx.Err(); err != nil {
		return broker.Position{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	q := g.positions[symbol]
	return broker.Position{Symbol: symbol, Side: market.SideOf(q), Quantity: q}, nil
}

// OnCandle matches every working order on the candle's instrument against
// its range.
func (g *Gateway) OnCandle(c market.Candle) {
	g.mu.Lock()
	var evs []broker.OrderEvent
	for _, k := range g.seq {
		o := g.orders[k]
		if o.state.Symbol != c.Instrument || !o.transmit || o.state.Status.Terminal() {
			continue
		}
		price, ok := o.match(c)
		if !ok {
			continue
		}
		qty := g.sliceLocked(o.state.Quantity - o.state.FilledQuantity)
		g.fillLocked(o, qty, price, c.End)
		evs = append(evs, o.state)
	}
	g.mu.Unlock()

	g.notify(evs)
}

// Fill executes qty of key at price regardless of market data.
func (g *Gateway) Fill(key string, qty int64, price float64) error {
	g.mu.Lock()
	o, err := g.activeLocked(key)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	if rem := o.state.Quantity - o.state.FilledQuantity; qty <= 0 || qty > rem {
		g.mu.Unlock()
		return fmt.Errorf("paper: %w: fill %d with %d remaining", broker.ErrBadRequest, qty, rem)
	}
	g.fillLocked(o, qty, price, time.Time{})
	ev := o.state
	g.mu.Unlock()

	g.notify([]broker.OrderEvent{ev})
	return nil
}

func (g *Gateway) sliceLocked(remaining int64) int64 {
	if g.fillRatio <= 0 || g.fillRatio >= 1 {
		return remaining
	}
	q := int64(math.Ceil(float64(remaining) * g.fillRatio))
	if q < 1 {
		q = 1
	}
	if q > remaining {
		q = remaining
	}
	return q
}

func (g *Gateway) fillLocked(o *order, qty int64, price float64, at time.Time) {
	s := &o.state
	total := s.FilledQuantity + qty
	s.AverageFilledPrice = (s.AverageFilledPrice*float64(s.FilledQuantity) + price*float64(qty)) / float64(total)
	s.FilledQuantity = total
	if total == s.Quantity {
		s.Status = broker.Filled
	} else {
		s.Status = broker.PartiallyFilled
	}
	if at.IsZero() {
		at = g.now()
	}
	s.Time = at
	g.positions[s.Symbol] += s.Action.Sign() * qty
}

// match returns the execution price when the candle trades through the
// order. Gaps fill at the open.
func (o *order) match(c market.Candle) (float64, bool) {
	s := o.state
	buy := s.Action == market.Buy

	switch s.Kind {
	case broker.Market:
		return c.Open, true

	case broker.Limit:
		return limitFill(buy, s.LimitPrice, c.Open, c)

	case broker.Stop:
		if buy && c.High >= s.StopPrice {
			return math.Max(s.StopPrice, c.Open), true
		}
		if !buy && c.Low <= s.StopPrice {
			return math.Min(s.StopPrice, c.Open), true
		}

	case broker.StopLimit:
		if !o.triggered {
			if (buy && c.High >= s.StopPrice) || (!buy && c.Low <= s.StopPrice) {
				o.triggered = true
			} else {
				return 0, false
			}
		}
		var ref float64
		if buy {
			ref = math.Max(s.StopPrice, c.Open)
		} else {
			ref = math.Min(s.StopPrice, c.Open)
		}
		return limitFill(buy, s.LimitPrice, ref, c)
	}
	return 0, false
}

func limitFill(buy bool, limit, ref float64, c market.Candle) (float64, bool) {
	if buy && c.Low <= limit {
		return math.Min(limit, ref), true
	}
	if !buy && c.High >= limit {
		return math.Max(limit, ref), true
	}
	return 0, false
}
