package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/journal"
	"github.com/rustyeddy/intraday/ledger"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/store"
)

type Option func(*Instance)

// WithHistory gives rules access to stored candles, most importantly the
// prior session.
func WithHistory(s store.CandleStore) Option {
	return func(in *Instance) { in.history = s }
}

func WithJournal(j journal.Journal) Option {
	return func(in *Instance) {
		if j != nil {
			in.journal = j
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(in *Instance) {
		if log != nil {
			in.log = log
		}
	}
}

// Instance is the state machine of one tradestrategy. OnBar and Cancel are
// serialized internally; Phase and RequestCancel never block.
type Instance struct {
	ts      Tradestrategy
	rule    Rule
	ledger  *ledger.Ledger
	history store.CandleStore
	journal journal.Journal
	log     logrus.FieldLogger
	now     func() time.Time

	phase     atomic.Int32
	cancelReq atomic.Bool

	mu      sync.Mutex
	state   *State
	session []market.Candle
	prior   []market.Candle
	priorOK bool
}

func NewInstance(ts Tradestrategy, rule Rule, l *ledger.Ledger, opts ...Option) (*Instance, error) {
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, fmt.Errorf("tradestrategy %q: no rule", ts.ID)
	}
	if l == nil || l.Instrument().Symbol != ts.Instrument.Symbol {
		return nil, fmt.Errorf("tradestrategy %q: ledger does not trade %s", ts.ID, ts.Instrument.Symbol)
	}

	in := &Instance{
		ts:      ts,
		rule:    rule,
		ledger:  l,
		journal: journal.Nop{},
		log:     logrus.StandardLogger(),
		now:     time.Now,
		state:   NewState(),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.log = in.log.WithFields(logrus.Fields{
		"tradestrategy": ts.ID,
		"symbol":        ts.Instrument.Symbol,
		"rule":          rule.Name(),
	})
	return in, nil
}

func (in *Instance) ID() string {
	return in.ts.ID
}

func (in *Instance) Tradestrategy() Tradestrategy {
	return in.ts
}

func (in *Instance) Ledger() *ledger.Ledger {
	return in.ledger
}

func (in *Instance) Phase() Phase {
	return Phase(in.phase.Load())
}

// RequestCancel flags the instance so that its next bar stops it. It does
// not wait for a bar in progress.
func (in *Instance) RequestCancel() {
	in.cancelReq.Store(true)
}

func (in *Instance) CancelRequested() bool {
	return in.cancelReq.Load()
}

// Cancel stops the tradestrategy now: a working entry is cancelled and an
// open position is flattened. Calling it again has no further effect.
func (in *Instance) Cancel(ctx context.Context) error {
	in.RequestCancel()

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state.Phase.Terminal() {
		return nil
	}
	in.syncLedgerLocked(ctx)
	return in.closeOutLocked(ctx, "cancelled")
}

// State returns a copy of the scratch state.
func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state.Clone()
}

func (in *Instance) Snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	return Snapshot{Tradestrategy: in.ts, State: in.state.Clone(), Saved: in.now()}
}

// Restore replaces the state with one saved earlier for the same
// tradestrategy. Call it before the first bar.
func (in *Instance) Restore(s Snapshot) error {
	if s.Tradestrategy.ID != in.ts.ID {
		return fmt.Errorf("%w: snapshot for %q restored into %q", ErrInvalidStateAccess, s.Tradestrategy.ID, in.ts.ID)
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	st := s.State.Clone()
	if st.Anchors == nil || st.Flags == nil || st.Values == nil {
		fresh := NewState()
		if st.Anchors == nil {
			st.Anchors = fresh.Anchors
		}
		if st.Flags == nil {
			st.Flags = fresh.Flags
		}
		if st.Values == nil {
			st.Values = fresh.Values
		}
	}
	in.state = &st
	in.phase.Store(int32(st.Phase))
	in.log.WithField("phase", st.Phase).Info("state restored")
	return nil
}

// OnBar processes one candle. isNewBar is true for the first update of a
// period. Errors are returned only when the instance had to be terminated.
func (in *Instance) OnBar(ctx context.Context, c market.Candle, isNewBar bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state.Phase.Terminal() {
		return nil
	}
	if c.Instrument != "" && c.Instrument != in.ts.Instrument.Symbol {
		return nil
	}

	log := in.log.WithField("period", c.Start.Format(time.RFC3339))

	in.syncLedgerLocked(ctx)
	if in.cancelReq.Load() {
		return in.closeOutLocked(ctx, "cancelled")
	}
	if c.Start.Before(in.ts.TradingDay.Open) {
		log.Debug("bar before session open")
		return nil
	}
	if !in.state.LastBar.IsZero() && c.Start.Before(in.state.LastBar) {
		log.Debug("stale bar")
		return nil
	}

	if in.state.Phase == Idle {
		in.transitionLocked(Watching, "session open")
	}

	prev := in.previousLocked(c.Start)
	err := in.stepLocked(ctx, c, prev, isNewBar)

	in.rememberLocked(c)
	in.state.LastBar = c.Start
	log.WithField("phase", in.state.Phase).Debug("bar processed")
	return err
}

func (in *Instance) stepLocked(ctx context.Context, c, prev market.Candle, isNewBar bool) error {
	end := c.End
	if end.IsZero() {
		end = c.Start.Add(in.ts.BarSize)
	}
	if !end.Before(in.ts.Cutoff()) {
		return in.closeOutLocked(ctx, "session cutoff")
	}

	switch in.state.Phase {
	case Watching, Candidate:
		return in.decideLocked(ctx, c, prev, isNewBar)
	case PositionPending:
		return in.pendingLocked(ctx, c, prev, isNewBar)
	case PositionOpen:
		return in.openLocked(ctx, c, prev, isNewBar)
	case Closing:
		return in.closeOutLocked(ctx, "closing")
	}
	return nil
}

func (in *Instance) decideLocked(ctx context.Context, c, prev market.Candle, isNewBar bool) error {
	rc := in.ruleContextLocked(c, prev, isNewBar)
	d, err := in.evaluate(ctx, rc, in.rule.Decide)
	if err != nil {
		return in.ruleFailedLocked(ctx, c, err)
	}
	return in.applyLocked(ctx, c, d)
}

func (in *Instance) pendingLocked(ctx context.Context, c, prev market.Candle, isNewBar bool) error {
	entry, ok := in.ledger.Order(in.state.EntryOrderKey)
	if !ok {
		return in.failLocked(ctx, fmt.Errorf("%w: entry order %q is not in the ledger", ErrInvalidStateAccess, in.state.EntryOrderKey))
	}

	if _, mine := in.ownPositionLocked(); mine {
		in.transitionLocked(PositionOpen, "entry filled")
		return in.openLocked(ctx, c, prev, isNewBar)
	}

	switch entry.Status {
	case broker.Cancelled:
		in.transitionLocked(Terminated, "entry cancelled")
	case broker.Filled:
		// filled and flat again before this bar
		return in.closeOutLocked(ctx, "position closed")
	}
	return nil
}

func (in *Instance) openLocked(ctx context.Context, c, prev market.Candle, isNewBar bool) error {
	open, mine := in.ownPositionLocked()
	if !mine {
		return in.closeOutLocked(ctx, "position closed")
	}

	if open.Status == broker.PartiallyFilled && in.ts.RiskAmount > 0 &&
		ledger.IsRiskViolated(c.Close, in.ts.RiskAmount, open.FilledQuantity, open.AverageFilledPrice) {
		flag := "risk-cancelled:" + open.Key
		if !in.state.Flag(flag) {
			in.log.WithFields(logrus.Fields{
				"order_key": open.Key,
				"price":     c.Close,
				"filled":    open.FilledQuantity,
				"avg_fill":  open.AverageFilledPrice,
				"risk":      in.ts.RiskAmount,
			}).Warn("risk violated, cancelling remainder")
			if err := in.ledger.CancelOrder(ctx, open.Key); err != nil {
				in.log.WithError(err).Warn("risk cancel failed, retrying next bar")
				return nil
			}
			in.state.SetFlag(flag, true)
			return nil
		}
	}

	in.resizeStopLocked(ctx)

	pm, ok := in.rule.(PositionManager)
	if !ok {
		return nil
	}
	rc := in.ruleContextLocked(c, prev, isNewBar)
	d, err := in.evaluate(ctx, rc, pm.Manage)
	if err != nil {
		return in.ruleFailedLocked(ctx, c, err)
	}
	return in.applyLocked(ctx, c, d)
}

// resizeStopLocked keeps the protective stop covering the whole position
// as later fills of the entry grow it.
func (in *Instance) resizeStopLocked(ctx context.Context) {
	if in.state.StopOrderKey == "" {
		return
	}
	stop, ok := in.ledger.Order(in.state.StopOrderKey)
	if !ok || !stop.Active() || stop.CancelRequested {
		return
	}
	qty := in.ledger.Position().Quantity
	if qty < 0 {
		qty = -qty
	}
	if qty == 0 || stop.Quantity == qty {
		return
	}
	key, err := in.ledger.SetProtectiveStop(ctx, in.ts.ID, stop.StopPrice)
	if err != nil {
		in.log.WithError(err).WithField("order_key", stop.Key).Warn("resize stop, retrying next bar")
		return
	}
	in.state.StopOrderKey = key
	in.log.WithFields(logrus.Fields{"order_key": key, "from": stop.Quantity, "to": qty}).Info("stop resized")
}

// closeOutLocked flattens an own open position, or, when flat, cancels the
// own working orders and terminates.
func (in *Instance) closeOutLocked(ctx context.Context, reason string) error {
	if _, mine := in.ownPositionLocked(); mine {
		key, err := in.ledger.CancelOrdersClosePosition(ctx, in.ts.ID)
		if key != "" {
			in.state.CloseOrderKey = key
		}
		if in.state.Phase != Closing {
			in.transitionLocked(Closing, reason)
		}
		if err != nil {
			in.log.WithError(err).Warn("close position, retrying next bar")
		}
		return nil
	}

	if err := in.cancelOwnOrdersLocked(ctx); err != nil {
		in.log.WithError(err).Warn("cancel working orders, retrying next bar")
		return nil
	}
	in.transitionLocked(Terminated, reason)
	return nil
}

// cancelOwnOrdersLocked cancels the entry and stop plus any working order
// the broker tagged with this tradestrategy.
func (in *Instance) cancelOwnOrdersLocked(ctx context.Context) error {
	var errs []error
	for _, o := range in.ledger.Orders() {
		own := o.Tradestrategy == in.ts.ID || o.Key == in.state.EntryOrderKey || o.Key == in.state.StopOrderKey
		if !own || !o.Active() {
			continue
		}
		if err := in.ledger.CancelOrder(ctx, o.Key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// syncLedgerLocked refreshes the ledger from the broker while this instance
// has orders out or a create may have been lost, then claims the broker's
// orders that carry this tradestrategy's id.
func (in *Instance) syncLedgerLocked(ctx context.Context) {
	refresh := !in.ledger.Reconciled()
	switch in.state.Phase {
	case PositionPending, PositionOpen, Closing:
		refresh = true
	}
	if refresh {
		if err := in.ledger.RefreshPositionOrders(ctx); err != nil {
			// keep going on the local view; the next refresh catches up
			in.log.WithError(err).Warn("refresh position orders")
		}
	}
	in.claimOrdersLocked()
}

func (in *Instance) claimOrdersLocked() {
	if in.state.EntryOrderKey != "" && in.state.StopOrderKey != "" {
		return
	}
	for _, o := range in.ledger.Orders() {
		if o.Tradestrategy != in.ts.ID {
			continue
		}
		switch {
		case o.Flatten:
		case o.Protective:
			if in.state.StopOrderKey == "" && o.Active() {
				in.state.StopOrderKey = o.Key
				in.log.WithField("order_key", o.Key).Warn("protective stop found at broker")
			}
		case in.state.EntryOrderKey == "" && (o.Active() || o.FilledQuantity > 0):
			if p := in.state.Phase; p != Watching && p != Candidate {
				continue
			}
			in.state.EntryOrderKey = o.Key
			in.state.LastError = ""
			in.log.WithField("order_key", o.Key).Warn("entry order found at broker")
			in.transitionLocked(PositionPending, "entry order found at broker")
		}
	}
}

// ownPositionLocked returns the order that opened the instrument's position
// when that order is this instance's entry.
func (in *Instance) ownPositionLocked() (ledger.TradeOrder, bool) {
	if in.state.EntryOrderKey == "" {
		return ledger.TradeOrder{}, false
	}
	open, ok := in.ledger.OpenPositionOrder()
	if !ok || open.Key != in.state.EntryOrderKey {
		return ledger.TradeOrder{}, false
	}
	return open, true
}

func (in *Instance) applyLocked(ctx context.Context, c market.Candle, d Decision) error {
	switch d.Kind {
	case NoOp:
	case SetAnchor:
		in.state.SetAnchor(d.Anchor, d.Candle)
	case Invalidate:
		if p := in.state.Phase; p != Watching && p != Candidate {
			return in.failLocked(ctx, fmt.Errorf("%w: invalidate from %s", ErrInvalidStateAccess, p))
		}
		in.transitionLocked(Invalidated, d.Reason)
		return nil
	case Cancel:
		return in.closeOutLocked(ctx, d.Reason)
	case RequestEntry:
		return in.enterLocked(ctx, c, d)
	case RequestStopMove:
		return in.moveStopLocked(ctx, d)
	default:
		return in.failLocked(ctx, fmt.Errorf("%w: unknown decision %d", ErrInvalidStateAccess, d.Kind))
	}

	if p := in.state.Phase; p == Watching || p == Candidate {
		switch {
		case in.state.Candidate && p == Watching:
			in.transitionLocked(Candidate, "setup found")
		case !in.state.Candidate && p == Candidate:
			in.transitionLocked(Watching, "setup reset")
		}
	}
	return nil
}

func (in *Instance) enterLocked(ctx context.Context, c market.Candle, d Decision) error {
	if p := in.state.Phase; p != Watching && p != Candidate {
		return in.failLocked(ctx, fmt.Errorf("%w: entry requested while %s", ErrInvalidStateAccess, p))
	}

	e := d.Entry
	key, err := in.ledger.CreateOrder(ctx, ledger.OrderSpec{
		Tradestrategy: in.ts.ID,
		Action:        e.Action,
		Kind:          e.Kind,
		LimitPrice:    e.LimitPrice,
		StopPrice:     e.StopPrice,
		Quantity:      e.Quantity,
		AllOrNone:     e.AllOrNone,
		Transmit:      true,
	})
	if err != nil {
		return in.ledgerFailedLocked(ctx, d, err)
	}

	in.state.LastError = ""
	in.state.EntryOrderKey = key
	in.transitionLocked(PositionPending, d.Reason)
	return nil
}

func (in *Instance) moveStopLocked(ctx context.Context, d Decision) error {
	if _, mine := in.ownPositionLocked(); mine {
		key, err := in.ledger.SetProtectiveStop(ctx, in.ts.ID, d.StopPrice)
		if err != nil {
			return in.ledgerFailedLocked(ctx, d, err)
		}
		in.state.StopOrderKey = key
		in.state.LastError = ""
		return nil
	}

	if entry, ok := in.ledger.Order(in.state.EntryOrderKey); ok && entry.Active() {
		err := in.ledger.UpdateOrder(ctx, entry.Key, ledger.OrderSpec{
			StopPrice:  d.StopPrice,
			LimitPrice: d.LimitPrice,
			Transmit:   true,
		})
		if err != nil {
			return in.ledgerFailedLocked(ctx, d, err)
		}
		in.state.LastError = ""
		return nil
	}

	return in.failLocked(ctx, fmt.Errorf("%w: no order to move the stop of", ErrInvalidStateAccess))
}

// ledgerFailedLocked applies the decision's error policy.
func (in *Instance) ledgerFailedLocked(ctx context.Context, d Decision, err error) error {
	in.state.LastError = err.Error()
	in.log.WithError(err).WithField("decision", d.Kind).Warn("order request failed")
	if d.OnError == Terminate {
		return in.closeOutLocked(ctx, "order request failed")
	}
	return nil
}

func (in *Instance) ruleFailedLocked(ctx context.Context, c market.Candle, err error) error {
	rerr := &RuleEvaluationError{
		Rule:          in.rule.Name(),
		Tradestrategy: in.ts.ID,
		Symbol:        in.ts.Instrument.Symbol,
		Period:        c.Start,
		Err:           err,
	}

	switch {
	case errors.Is(err, ErrInvalidStateAccess):
		return in.failLocked(ctx, rerr)
	case errors.Is(err, store.ErrPersistenceUnavailable):
		in.log.WithError(rerr).Warn("history unavailable, bar skipped")
	default:
		in.log.WithError(rerr).Error("rule error")
	}
	return nil
}

// failLocked force-terminates the instance after a bug-class error. An own
// open position is still flattened on a best-effort basis.
func (in *Instance) failLocked(ctx context.Context, err error) error {
	in.log.WithError(err).Error("terminating tradestrategy")
	if _, mine := in.ownPositionLocked(); mine {
		if _, cerr := in.ledger.CancelOrdersClosePosition(ctx, in.ts.ID); cerr != nil {
			in.log.WithError(cerr).Error("flatten after failure")
		}
	} else if cerr := in.cancelOwnOrdersLocked(ctx); cerr != nil {
		in.log.WithError(cerr).Error("cancel after failure")
	}
	in.transitionLocked(Terminated, err.Error())
	return err
}

// evaluate runs a rule callback, turning a panic into an error.
func (in *Instance) evaluate(ctx context.Context, rc *RuleContext, fn func(context.Context, *RuleContext) (Decision, error)) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, rc)
}

func (in *Instance) transitionLocked(to Phase, reason string) {
	from := in.state.Phase
	if from == to || from.Terminal() {
		return
	}
	in.state.Phase = to
	in.state.Reason = reason
	in.phase.Store(int32(to))

	in.log.WithFields(logrus.Fields{"from": from, "to": to, "reason": reason}).Info("state transition")
	if err := in.journal.RecordTransition(journal.TransitionRecord{
		Time:          in.now(),
		Tradestrategy: in.ts.ID,
		Symbol:        in.ts.Instrument.Symbol,
		From:          from.String(),
		To:            to.String(),
		Reason:        reason,
	}); err != nil {
		in.log.WithError(err).Warn("journal transition")
	}
}

func (in *Instance) ruleContextLocked(c, prev market.Candle, isNewBar bool) *RuleContext {
	rc := &RuleContext{
		Tradestrategy: in.ts,
		Current:       c,
		Previous:      prev,
		NewBar:        isNewBar,
		State:         in.state,
		Session:       in.beforeLocked(c.Start),
		History:       in.history,
		Position:      in.ledger.Position(),
		priorDay:      in.priorDayLocked,
	}
	if o, ok := in.ledger.OpenPositionOrder(); ok {
		rc.OpenOrder = &o
	}
	if in.state.EntryOrderKey != "" {
		if o, ok := in.ledger.Order(in.state.EntryOrderKey); ok {
			rc.Entry = &o
		}
	}
	return rc
}

func (in *Instance) priorDayLocked(ctx context.Context) ([]market.Candle, error) {
	if in.priorOK {
		return in.prior, nil
	}
	if in.history == nil {
		return nil, nil
	}
	d := in.ts.TradingDay
	cs, err := store.PriorSession(ctx, in.history, in.ts.Instrument.ID, d.Open, d.Close, in.ts.BarSize)
	if err != nil {
		return nil, err
	}
	in.prior, in.priorOK = cs, true
	return cs, nil
}

// rememberLocked keeps the latest version of each session bar.
func (in *Instance) rememberLocked(c market.Candle) {
	i := sort.Search(len(in.session), func(i int) bool {
		return !in.session[i].Start.Before(c.Start)
	})
	if i < len(in.session) && in.session[i].Start.Equal(c.Start) {
		in.session[i] = c
		return
	}
	in.session = append(in.session, market.Candle{})
	copy(in.session[i+1:], in.session[i:])
	in.session[i] = c
}

func (in *Instance) beforeLocked(t time.Time) []market.Candle {
	i := sort.Search(len(in.session), func(i int) bool {
		return !in.session[i].Start.Before(t)
	})
	return append([]market.Candle(nil), in.session[:i]...)
}

func (in *Instance) previousLocked(t time.Time) market.Candle {
	i := sort.Search(len(in.session), func(i int) bool {
		return !in.session[i].Start.Before(t)
	})
	if i == 0 {
		return market.Candle{}
	}
	return in.session[i-1]
}
