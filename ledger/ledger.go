// Package ledger keeps the per-instrument book of orders and the single
// open position a set of tradestrategies may hold on that instrument.
//
// Order status only moves when the broker acknowledges it. Acknowledgements
// are folded through Apply, which is safe to call from any goroutine,
// including from inside a gateway call made by the ledger itself.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/journal"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/pricing"
	"github.com/rustyeddy/intraday/risk"
)

var (
	ErrOrderRejected     = errors.New("ledger: order rejected")
	ErrUnknownOrder      = errors.New("ledger: unknown order")
	ErrInvalidTransition = errors.New("ledger: invalid order transition")
	ErrInvalidFill       = errors.New("ledger: invalid fill")
)

// TradeOrder is the ledger's copy of one broker order.
type TradeOrder struct {
	Key                string             `json:"key"`
	Tradestrategy      string             `json:"tradestrategy"`
	Instrument         market.Instrument  `json:"instrument"`
	Action             market.Action      `json:"action"`
	Kind               broker.OrderKind   `json:"kind"`
	LimitPrice         float64            `json:"limit_price"`
	StopPrice          float64            `json:"stop_price"`
	Quantity           int64              `json:"quantity"`
	FilledQuantity     int64              `json:"filled_quantity"`
	AverageFilledPrice float64            `json:"average_filled_price"`
	Status             broker.OrderStatus `json:"status"`
	AllOrNone          bool               `json:"all_or_none"`
	Transmit           bool               `json:"transmit"`

	// IsOpenPosition marks the order whose fill opened the position.
	IsOpenPosition bool `json:"is_open_position"`
	// Flatten marks a market order sent to close the position.
	Flatten bool `json:"flatten"`
	// Protective marks the stop order guarding the open position.
	Protective bool `json:"protective"`

	CancelRequested bool      `json:"cancel_requested"`
	Created         time.Time `json:"created"`
	Updated         time.Time `json:"updated"`
}

func (o TradeOrder) Active() bool {
	return o.Status.Active()
}

// Remaining is the unfilled quantity.
func (o TradeOrder) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// Position is the net position on the ledger's instrument.
type Position struct {
	Instrument   market.Instrument `json:"instrument"`
	Side         market.Side       `json:"side"`
	Quantity     int64             `json:"quantity"` // signed
	OpenOrderKey string            `json:"open_order_key,omitempty"`
	Opened       time.Time         `json:"opened,omitempty"`
}

func (p Position) Open() bool {
	return p.Quantity != 0
}

// OrderSpec describes an order to create or the new terms of a working
// order. Prices are quantized to the instrument tick before they are sent.
type OrderSpec struct {
	Tradestrategy string
	Action        market.Action
	Kind          broker.OrderKind
	LimitPrice    float64
	StopPrice     float64
	Quantity      int64
	AllOrNone     bool
	Transmit      bool
}

type Option func(*Ledger)

func WithJournal(j journal.Journal) Option {
	return func(l *Ledger) {
		if j != nil {
			l.journal = j
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithClock replaces time.Now for order timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// lostRequest is a create that timed out. The broker may or may not have
// taken it, so the ledger refuses new orders until it has looked.
type lostRequest struct {
	req        broker.OrderRequest
	protective bool
	flatten    bool
}

type Ledger struct {
	instrument market.Instrument
	gw         broker.Gateway
	journal    journal.Journal
	log        logrus.FieldLogger
	now        func() time.Time

	mu       sync.Mutex
	orders   map[string]*TradeOrder
	seq      []string
	position Position
	// creates that timed out; the broker may hold them
	lost []lostRequest

	// acknowledgements waiting to be folded under mu
	evMu    sync.Mutex
	pending []broker.OrderEvent
}

func New(inst market.Instrument, gw broker.Gateway, opts ...Option) *Ledger {
	l := &Ledger{
		instrument: inst,
		gw:         gw,
		journal:    journal.Nop{},
		log:        logrus.StandardLogger(),
		now:        time.Now,
		orders:     make(map[string]*TradeOrder),
		position:   Position{Instrument: inst, Side: market.Flat},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.WithField("symbol", inst.Symbol)
	return l
}

func (l *Ledger) Instrument() market.Instrument {
	return l.instrument
}

// IsRiskViolated reports whether a partially filled position has drifted
// further than riskAmount: |currentPrice - avgFillPrice| * filledQty > riskAmount.
func IsRiskViolated(currentPrice, riskAmount float64, filledQty int64, avgFillPrice float64) bool {
	return risk.Violated(currentPrice, riskAmount, filledQty, avgFillPrice)
}

func (l *Ledger) lock() {
	l.mu.Lock()
	l.drainLocked()
}

// unlock drains once more before releasing so acknowledgements that arrived
// while the lock was held are not left behind.
func (l *Ledger) unlock() {
	for {
		l.drainLocked()
		l.mu.Unlock()
		if !l.hasPending() || !l.mu.TryLock() {
			return
		}
	}
}

func (l *Ledger) hasPending() bool {
	l.evMu.Lock()
	defer l.evMu.Unlock()
	return len(l.pending) > 0
}

// Apply folds a broker acknowledgement into the book. Events for other
// instruments are ignored.
func (l *Ledger) Apply(ev broker.OrderEvent) {
	if ev.Symbol != "" && ev.Symbol != l.instrument.Symbol {
		return
	}

	l.evMu.Lock()
	l.pending = append(l.pending, ev)
	l.evMu.Unlock()

	// When the lock is busy the holder drains before it lets go.
	if l.mu.TryLock() {
		l.unlock()
	}
}

func (l *Ledger) drainLocked() {
	l.evMu.Lock()
	evs := l.pending
	l.pending = nil
	l.evMu.Unlock()

	for _, ev := range evs {
		if err := l.foldLocked(ev); err != nil {
			l.log.WithError(err).WithField("order_key", ev.Key).Warn("broker acknowledgement")
		}
	}
}

func (l *Ledger) foldLocked(ev broker.OrderEvent) error {
	o, ok := l.orders[ev.Key]
	if !ok {
		if ev.Key == "" || !ev.Action.Valid() || ev.Quantity <= 0 {
			return fmt.Errorf("%w: %q", ErrUnknownOrder, ev.Key)
		}
		o = l.adoptLocked(ev)
	}

	if o.Status.Terminal() {
		if ev.Status != o.Status {
			return fmt.Errorf("%w: %s is %s, got %s", ErrInvalidTransition, o.Key, o.Status, ev.Status)
		}
		return nil
	}

	var fillErr error
	filled := ev.FilledQuantity
	if ev.Status == broker.Filled && filled == 0 {
		filled = o.Quantity
	}
	if filled < o.FilledQuantity {
		// cumulative fills never go backwards; treat as a stale ack
		filled = o.FilledQuantity
	}
	if filled > o.Quantity {
		fillErr = fmt.Errorf("%w: %s filled %d of %d", ErrInvalidFill, o.Key, filled, o.Quantity)
		filled = o.Quantity
	}
	delta := filled - o.FilledQuantity

	status := ev.Status
	switch {
	case filled == o.Quantity:
		status = broker.Filled
	case status == broker.Cancelled && filled > 0:
		// the remainder was cancelled; what filled is the whole order now
		status = broker.Filled
		o.Quantity = filled
	case status == broker.Filled, filled > 0:
		status = broker.PartiallyFilled
	case status == "":
		status = o.Status
	}

	if ev.AverageFilledPrice > 0 {
		o.AverageFilledPrice = ev.AverageFilledPrice
	}
	o.FilledQuantity = filled
	o.Status = status
	o.Updated = l.stamp(ev.Time)

	if delta != 0 {
		l.applyFillLocked(o, delta)
	}
	l.record("ack", o)
	return fillErr
}

func (l *Ledger) adoptLocked(ev broker.OrderEvent) *TradeOrder {
	o := &TradeOrder{
		Key:           ev.Key,
		Tradestrategy: ev.Reference,
		Instrument:    l.instrument,
		Action:        ev.Action,
		Kind:          ev.Kind,
		LimitPrice:    ev.LimitPrice,
		StopPrice:     ev.StopPrice,
		Quantity:      ev.Quantity,
		Status:        broker.Submitted,
		Transmit:      true,
		Created:       l.stamp(ev.Time),
	}
	l.insertLocked(o)
	if l.claimLostLocked(o) {
		l.log.WithFields(logrus.Fields{
			"order_key":     o.Key,
			"tradestrategy": o.Tradestrategy,
		}).Info("timed-out order found at broker")
		return o
	}
	l.log.WithField("order_key", o.Key).Warn("adopted order unknown to the ledger")
	return o
}

// claimLostLocked matches an adopted order to a timed-out create and
// restores what the ledger knew about it.
func (l *Ledger) claimLostLocked(o *TradeOrder) bool {
	for i, lr := range l.lost {
		r := lr.req
		if r.Reference != o.Tradestrategy || r.Action != o.Action || r.Kind != o.Kind || r.Quantity != o.Quantity {
			continue
		}
		o.AllOrNone = r.AllOrNone
		o.Protective = lr.protective
		o.Flatten = lr.flatten
		l.lost = append(l.lost[:i], l.lost[i+1:]...)
		return true
	}
	return false
}

// sendLocked creates req at the broker. A timed-out create is remembered
// until the broker has been asked about it.
func (l *Ledger) sendLocked(ctx context.Context, req broker.OrderRequest, protective, flatten bool) (string, error) {
	key, err := l.gw.CreateOrder(ctx, req)
	if errors.Is(err, broker.ErrTimeout) {
		l.lost = append(l.lost, lostRequest{req: req, protective: protective, flatten: flatten})
		l.log.WithFields(logrus.Fields{
			"tradestrategy": req.Reference,
			"action":        req.Action,
			"kind":          req.Kind,
		}).Warn("create order timed out, holding new orders until reconciled")
	}
	return key, err
}

// reconcileLocked refreshes from the broker when a create may have been
// lost. Until that succeeds new orders are rejected.
func (l *Ledger) reconcileLocked(ctx context.Context) error {
	if len(l.lost) == 0 {
		return nil
	}
	if err := l.refreshLocked(ctx); err != nil {
		return fmt.Errorf("%w: %s is not reconciled after a timed-out order: %v",
			ErrOrderRejected, l.instrument.Symbol, err)
	}
	return nil
}

func (l *Ledger) applyFillLocked(o *TradeOrder, delta int64) {
	before := l.position.Quantity
	after := before + o.Action.Sign()*delta
	l.position.Quantity = after
	l.position.Side = market.SideOf(after)

	switch {
	case after == 0:
		l.log.WithFields(logrus.Fields{"order_key": o.Key, "opened_by": l.position.OpenOrderKey}).Info("position closed")
		l.position = Position{Instrument: l.instrument, Side: market.Flat}
	case before == 0 || (before > 0) != (after > 0):
		o.IsOpenPosition = true
		l.position.OpenOrderKey = o.Key
		l.position.Opened = o.Updated
		l.log.WithFields(logrus.Fields{
			"order_key": o.Key,
			"side":      l.position.Side,
			"quantity":  after,
		}).Info("position opened")
	}
}

func (l *Ledger) insertLocked(o *TradeOrder) {
	l.orders[o.Key] = o
	l.seq = append(l.seq, o.Key)
}

func (l *Ledger) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return l.now()
	}
	return t
}

func (l *Ledger) record(event string, o *TradeOrder) {
	err := l.journal.RecordOrder(journal.OrderRecord{
		Time:               l.now(),
		OrderKey:           o.Key,
		Tradestrategy:      o.Tradestrategy,
		Symbol:             l.instrument.Symbol,
		Event:              event,
		Action:             string(o.Action),
		Kind:               string(o.Kind),
		Status:             string(o.Status),
		LimitPrice:         o.LimitPrice,
		StopPrice:          o.StopPrice,
		Quantity:           o.Quantity,
		FilledQuantity:     o.FilledQuantity,
		AverageFilledPrice: o.AverageFilledPrice,
	})
	if err != nil {
		l.log.WithError(err).Warn("journal order")
	}
}

func (l *Ledger) request(spec OrderSpec) broker.OrderRequest {
	tick := l.instrument.Tick()
	return broker.OrderRequest{
		Instrument: l.instrument,
		Action:     spec.Action,
		Kind:       spec.Kind,
		LimitPrice: pricing.RoundToTick(spec.LimitPrice, tick),
		StopPrice:  pricing.RoundToTick(spec.StopPrice, tick),
		Quantity:   spec.Quantity,
		AllOrNone:  spec.AllOrNone,
		Transmit:   spec.Transmit,
		Reference:  spec.Tradestrategy,
	}
}

// Reconciled is false while a timed-out create has not been looked up at
// the broker.
func (l *Ledger) Reconciled() bool {
	l.lock()
	defer l.unlock()
	return len(l.lost) == 0
}

func (l *Ledger) HasOpenPosition() bool {
	l.lock()
	defer l.unlock()
	return l.position.Open()
}

func (l *Ledger) Position() Position {
	l.lock()
	defer l.unlock()
	return l.position
}

// OpenPositionOrder returns the order whose fill opened the current
// position. ok is false when the instrument is flat.
func (l *Ledger) OpenPositionOrder() (TradeOrder, bool) {
	l.lock()
	defer l.unlock()

	if !l.position.Open() {
		return TradeOrder{}, false
	}
	o, ok := l.orders[l.position.OpenOrderKey]
	if !ok {
		return TradeOrder{}, false
	}
	return *o, true
}

func (l *Ledger) Order(key string) (TradeOrder, bool) {
	l.lock()
	defer l.unlock()

	o, ok := l.orders[key]
	if !ok {
		return TradeOrder{}, false
	}
	return *o, true
}

// Orders returns every order in creation order.
func (l *Ledger) Orders() []TradeOrder {
	l.lock()
	defer l.unlock()

	out := make([]TradeOrder, 0, len(l.seq))
	for _, k := range l.seq {
		out = append(out, *l.orders[k])
	}
	return out
}

func (l *Ledger) workingLocked() *TradeOrder {
	for _, k := range l.seq {
		if o := l.orders[k]; o.Active() && !o.Protective {
			return o
		}
	}
	return nil
}

// CreateOrder sends a new order to the broker. It is rejected while a
// position is open or another order is working on the instrument.
func (l *Ledger) CreateOrder(ctx context.Context, spec OrderSpec) (string, error) {
	l.lock()
	defer l.unlock()

	if spec.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity %d must be positive", ErrOrderRejected, spec.Quantity)
	}
	if !spec.Action.Valid() || !spec.Kind.Valid() {
		return "", fmt.Errorf("%w: bad action %q or kind %q", ErrOrderRejected, spec.Action, spec.Kind)
	}
	if err := l.reconcileLocked(ctx); err != nil {
		return "", err
	}
	if l.position.Open() {
		return "", fmt.Errorf("%w: %s already has an open position (order %s)",
			ErrOrderRejected, l.instrument.Symbol, l.position.OpenOrderKey)
	}
	if w := l.workingLocked(); w != nil {
		return "", fmt.Errorf("%w: order %s is already working on %s", ErrOrderRejected, w.Key, l.instrument.Symbol)
	}

	req := l.request(spec)
	key, err := l.sendLocked(ctx, req, false, false)
	if err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}

	status := broker.Unsubmitted
	if spec.Transmit {
		status = broker.Submitted
	}
	now := l.now()
	o := &TradeOrder{
		Key:           key,
		Tradestrategy: spec.Tradestrategy,
		Instrument:    l.instrument,
		Action:        req.Action,
		Kind:          req.Kind,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		Quantity:      req.Quantity,
		Status:        status,
		AllOrNone:     req.AllOrNone,
		Transmit:      req.Transmit,
		Created:       now,
		Updated:       now,
	}
	l.insertLocked(o)
	l.record("create", o)

	l.log.WithFields(logrus.Fields{
		"order_key":     key,
		"tradestrategy": spec.Tradestrategy,
		"action":        req.Action,
		"kind":          req.Kind,
		"limit":         req.LimitPrice,
		"stop":          req.StopPrice,
		"quantity":      req.Quantity,
	}).Info("order requested")
	return key, nil
}

// UpdateOrder amends the prices or quantity of a working order.
func (l *Ledger) UpdateOrder(ctx context.Context, key string, spec OrderSpec) error {
	l.lock()
	defer l.unlock()

	o, ok := l.orders[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOrder, key)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, key, o.Status)
	}
	if spec.Action == "" {
		spec.Action = o.Action
	}
	if spec.Kind == "" {
		spec.Kind = o.Kind
	}
	if spec.Quantity == 0 {
		spec.Quantity = o.Quantity
	}
	if spec.Tradestrategy == "" {
		spec.Tradestrategy = o.Tradestrategy
	}
	if spec.Quantity < o.FilledQuantity {
		return fmt.Errorf("%w: %s quantity %d below filled %d", ErrInvalidTransition, key, spec.Quantity, o.FilledQuantity)
	}
	if spec.Action != o.Action && o.FilledQuantity > 0 {
		return fmt.Errorf("%w: %s cannot change action after a fill", ErrInvalidTransition, key)
	}
	if !spec.Action.Valid() || !spec.Kind.Valid() || spec.Quantity <= 0 {
		return fmt.Errorf("%w: bad update for %s", ErrOrderRejected, key)
	}

	req := l.request(spec)
	if err := l.gw.UpdateOrder(ctx, key, req); err != nil {
		return fmt.Errorf("update order %s: %w", key, err)
	}

	o.Action = req.Action
	o.Kind = req.Kind
	o.LimitPrice = req.LimitPrice
	o.StopPrice = req.StopPrice
	o.Quantity = req.Quantity
	o.AllOrNone = req.AllOrNone
	o.Transmit = o.Transmit || req.Transmit
	if o.Transmit && o.Status == broker.Unsubmitted {
		o.Status = broker.Submitted
	}
	o.Updated = l.now()
	l.record("update", o)

	l.log.WithFields(logrus.Fields{
		"order_key": key,
		"limit":     req.LimitPrice,
		"stop":      req.StopPrice,
		"quantity":  req.Quantity,
	}).Info("order updated")
	return nil
}

// CancelOrder asks the broker to cancel key. Cancelling an order that is
// already terminal or already being cancelled is a no-op.
func (l *Ledger) CancelOrder(ctx context.Context, key string) error {
	l.lock()
	defer l.unlock()

	o, ok := l.orders[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOrder, key)
	}
	return l.cancelLocked(ctx, o)
}

func (l *Ledger) cancelLocked(ctx context.Context, o *TradeOrder) error {
	if o.Status.Terminal() || o.CancelRequested {
		return nil
	}

	// a filled order needs no cancel; its final ack is on the way
	active, err := l.gw.IsOrderActive(ctx, o.Key)
	if err == nil && !active {
		l.log.WithField("order_key", o.Key).Debug("cancel: broker reports order inactive")
		o.CancelRequested = true
		o.Updated = l.now()
		return nil
	}

	err = l.gw.CancelOrder(ctx, o.Key)
	switch {
	case errors.Is(err, broker.ErrOrderInactive):
		// the broker already finished it; its final ack is on the way
		l.log.WithField("order_key", o.Key).Debug("cancel: order no longer active")
	case err != nil:
		return fmt.Errorf("cancel order %s: %w", o.Key, err)
	}

	o.CancelRequested = true
	o.Updated = l.now()
	l.record("cancel", o)
	l.log.WithField("order_key", o.Key).Info("order cancel requested")
	return nil
}

// CancelOrdersClosePosition cancels every working order and, if a position
// is open, sends one market order to flatten it. Repeated calls reuse the
// working flatten order. It returns the flatten order key, or "" when flat.
func (l *Ledger) CancelOrdersClosePosition(ctx context.Context, tradestrategy string) (string, error) {
	l.lock()
	defer l.unlock()

	var errs []error
	// a flatten that timed out must be found before another is sent
	reconcileErr := l.reconcileLocked(ctx)

	var flatten *TradeOrder
	for _, k := range l.seq {
		o := l.orders[k]
		if !o.Active() {
			continue
		}
		if o.Flatten {
			flatten = o
			continue
		}
		if err := l.cancelLocked(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}

	if !l.position.Open() {
		return "", errors.Join(errs...)
	}
	if flatten != nil {
		return flatten.Key, errors.Join(errs...)
	}
	if reconcileErr != nil {
		errs = append(errs, reconcileErr)
		return "", errors.Join(errs...)
	}

	qty := l.position.Quantity
	if qty < 0 {
		qty = -qty
	}
	req := broker.OrderRequest{
		Instrument: l.instrument,
		Action:     l.position.Side.ClosingAction(),
		Kind:       broker.Market,
		Quantity:   qty,
		Transmit:   true,
		Reference:  tradestrategy,
	}
	key, err := l.sendLocked(ctx, req, false, true)
	if err != nil {
		errs = append(errs, fmt.Errorf("flatten %s: %w", l.instrument.Symbol, err))
		return "", errors.Join(errs...)
	}

	now := l.now()
	o := &TradeOrder{
		Key:           key,
		Tradestrategy: tradestrategy,
		Instrument:    l.instrument,
		Action:        req.Action,
		Kind:          req.Kind,
		Quantity:      qty,
		Status:        broker.Submitted,
		Transmit:      true,
		Flatten:       true,
		Created:       now,
		Updated:       now,
	}
	l.insertLocked(o)
	l.record("flatten", o)
	l.log.WithFields(logrus.Fields{"order_key": key, "quantity": qty}).Info("flatten requested")
	return key, errors.Join(errs...)
}

// SetProtectiveStop places a stop order on the closing side for the whole
// open position, or moves the existing one to stop. It returns the stop
// order key.
func (l *Ledger) SetProtectiveStop(ctx context.Context, tradestrategy string, stop float64) (string, error) {
	l.lock()
	defer l.unlock()

	if !l.position.Open() {
		return "", fmt.Errorf("%w: %s has no open position to protect", ErrOrderRejected, l.instrument.Symbol)
	}
	if stop <= 0 {
		return "", fmt.Errorf("%w: stop %v must be positive", ErrOrderRejected, stop)
	}
	if err := l.reconcileLocked(ctx); err != nil {
		return "", err
	}
	if !l.position.Open() {
		return "", fmt.Errorf("%w: %s has no open position to protect", ErrOrderRejected, l.instrument.Symbol)
	}

	qty := l.position.Quantity
	if qty < 0 {
		qty = -qty
	}
	req := broker.OrderRequest{
		Instrument: l.instrument,
		Action:     l.position.Side.ClosingAction(),
		Kind:       broker.Stop,
		StopPrice:  pricing.RoundToTick(stop, l.instrument.Tick()),
		Quantity:   qty,
		Transmit:   true,
		Reference:  tradestrategy,
	}

	for _, k := range l.seq {
		o := l.orders[k]
		if !o.Protective || !o.Active() || o.CancelRequested {
			continue
		}
		if o.StopPrice == req.StopPrice && o.Quantity == qty {
			return o.Key, nil
		}
		if err := l.gw.UpdateOrder(ctx, o.Key, req); err != nil {
			return "", fmt.Errorf("move stop %s: %w", o.Key, err)
		}
		o.StopPrice = req.StopPrice
		o.Quantity = qty
		o.Updated = l.now()
		l.record("update", o)
		l.log.WithFields(logrus.Fields{"order_key": o.Key, "stop": req.StopPrice, "quantity": qty}).Info("stop moved")
		return o.Key, nil
	}

	key, err := l.sendLocked(ctx, req, true, false)
	if err != nil {
		return "", fmt.Errorf("protective stop: %w", err)
	}
	now := l.now()
	o := &TradeOrder{
		Key:           key,
		Tradestrategy: tradestrategy,
		Instrument:    l.instrument,
		Action:        req.Action,
		Kind:          req.Kind,
		StopPrice:     req.StopPrice,
		Quantity:      qty,
		Status:        broker.Submitted,
		Transmit:      true,
		Protective:    true,
		Created:       now,
		Updated:       now,
	}
	l.insertLocked(o)
	l.record("create", o)
	l.log.WithFields(logrus.Fields{"order_key": key, "stop": req.StopPrice, "quantity": qty}).Info("protective stop placed")
	return key, nil
}

// RefreshPositionOrders pulls the broker's view of orders and the position
// and folds it into the book. The broker wins on disagreement.
func (l *Ledger) RefreshPositionOrders(ctx context.Context) error {
	l.lock()
	defer l.unlock()
	return l.refreshLocked(ctx)
}

func (l *Ledger) refreshLocked(ctx context.Context) error {
	states, err := l.gw.Orders(ctx, l.instrument.Symbol)
	if err != nil {
		return fmt.Errorf("refresh orders: %w", err)
	}
	for _, s := range states {
		if err := l.foldLocked(s); err != nil {
			l.log.WithError(err).WithField("order_key", s.Key).Warn("refresh")
		}
	}

	pos, err := l.gw.CurrentPosition(ctx, l.instrument.Symbol)
	if err != nil {
		return fmt.Errorf("refresh position: %w", err)
	}
	if pos.Quantity != l.position.Quantity {
		l.log.WithFields(logrus.Fields{
			"ledger": l.position.Quantity,
			"broker": pos.Quantity,
		}).Warn("position mismatch, taking the broker's")
		if pos.Quantity == 0 {
			l.position = Position{Instrument: l.instrument, Side: market.Flat}
		} else {
			l.position.Quantity = pos.Quantity
			l.position.Side = market.SideOf(pos.Quantity)
		}
	}
	if len(l.lost) > 0 {
		// whatever the broker did not list was never taken
		l.log.WithField("orders", len(l.lost)).Info("timed-out orders not held by the broker")
		l.lost = nil
	}
	return nil
}
