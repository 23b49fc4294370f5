// Package registry keeps the running tradestrategy instances and routes
// bars to them. Bars for one tradestrategy are handled one at a time;
// different tradestrategies never wait on each other.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/intraday/ledger"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/strategy"
)

var (
	ErrNotFound  = errors.New("registry: tradestrategy not found")
	ErrDuplicate = errors.New("registry: tradestrategy already registered")
	ErrActive    = errors.New("registry: tradestrategy still running")
)

// Checkpointer saves and restores instance snapshots.
type Checkpointer interface {
	Save(strategy.Snapshot) error
	Load(id string) (strategy.Snapshot, bool, error)
	Delete(id string) error
}

// Status is a point-in-time view of one tradestrategy.
type Status struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Kind          string          `json:"kind"`
	Phase         strategy.Phase  `json:"phase"`
	Candidate     bool            `json:"candidate"`
	EntryOrderKey string          `json:"entry_order_key,omitempty"`
	StopOrderKey  string          `json:"stop_order_key,omitempty"`
	LastBar       time.Time       `json:"last_bar,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Fatal         string          `json:"fatal,omitempty"`
	Position      ledger.Position `json:"position"`
}

type entry struct {
	mu   sync.Mutex // serializes bars and cancel
	inst *strategy.Instance

	errMu sync.Mutex
	fatal error
}

type Option func(*Registry)

func WithCheckpoint(c Checkpointer) Option {
	return func(r *Registry) { r.ckpt = c }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	ckpt Checkpointer
	log  logrus.FieldLogger
}

func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds inst. A checkpoint saved for the same id is restored first
// and the ledger is reconciled with the broker.
func (r *Registry) Register(ctx context.Context, inst *strategy.Instance) error {
	id := inst.ID()

	r.mu.RLock()
	_, dup := r.entries[id]
	r.mu.RUnlock()
	if dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	if r.ckpt != nil {
		snap, ok, err := r.ckpt.Load(id)
		if err != nil {
			return err
		}
		if ok {
			if err := inst.Restore(snap); err != nil {
				return err
			}
			if err := inst.Ledger().RefreshPositionOrders(ctx); err != nil {
				r.log.WithError(err).WithField("tradestrategy", id).Warn("reconcile restored ledger")
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[id]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	r.entries[id] = &entry{inst: inst}
	r.log.WithFields(logrus.Fields{
		"tradestrategy": id,
		"symbol":        inst.Tradestrategy().Instrument.Symbol,
		"phase":         inst.Phase(),
	}).Info("tradestrategy registered")
	return nil
}

func (r *Registry) get(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// Dispatch hands c to the tradestrategy id. An unknown id is logged and
// ignored. The error is non-nil only when the instance failed fatally.
func (r *Registry) Dispatch(ctx context.Context, id string, c market.Candle, isNewBar bool) error {
	e := r.get(id)
	if e == nil {
		r.log.WithFields(logrus.Fields{"tradestrategy": id, "symbol": c.Instrument}).Warn("bar for unknown tradestrategy")
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	err := r.onBar(ctx, e, c, isNewBar)
	if err != nil {
		e.errMu.Lock()
		e.fatal = err
		e.errMu.Unlock()
		r.log.WithError(err).WithField("tradestrategy", id).Error("tradestrategy failed")
	}
	r.saveLocked(e)
	return err
}

func (r *Registry) onBar(ctx context.Context, e *entry, c market.Candle, isNewBar bool) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic on bar %s: %v", strategy.ErrInvalidStateAccess, c.Start.Format(time.RFC3339), p)
		}
	}()
	return e.inst.OnBar(ctx, c, isNewBar)
}

// DispatchAll hands c to every tradestrategy trading its instrument, each
// in its own goroutine, and waits for them.
func (r *Registry) DispatchAll(ctx context.Context, c market.Candle, isNewBar bool) error {
	var ids []string
	r.mu.RLock()
	for id, e := range r.entries {
		if e.inst.Tradestrategy().Instrument.Symbol == c.Instrument {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = r.Dispatch(ctx, id, c, isNewBar)
		}(i, id)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Cancel stops the tradestrategy. The cancel flag is raised before waiting
// for a bar in progress, so that bar is the last one the rule sees.
func (r *Registry) Cancel(ctx context.Context, id string) error {
	e := r.get(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.inst.RequestCancel()

	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.inst.Cancel(ctx)
	r.saveLocked(e)
	return err
}

func (r *Registry) Status(id string) (Status, error) {
	e := r.get(id)
	if e == nil {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.status(), nil
}

// List returns the status of every tradestrategy ordered by id.
func (r *Registry) List() []Status {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove drops a finished tradestrategy and its checkpoint.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !e.inst.Phase().Terminal() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrActive, id, e.inst.Phase())
	}
	delete(r.entries, id)
	r.mu.Unlock()

	if r.ckpt != nil {
		return r.ckpt.Delete(id)
	}
	return nil
}

func (r *Registry) saveLocked(e *entry) {
	if r.ckpt == nil {
		return
	}
	if err := r.ckpt.Save(e.inst.Snapshot()); err != nil {
		r.log.WithError(err).WithField("tradestrategy", e.inst.ID()).Warn("save checkpoint")
	}
}

func (e *entry) status() Status {
	ts := e.inst.Tradestrategy()
	st := e.inst.State()
	s := Status{
		ID:            ts.ID,
		Symbol:        ts.Instrument.Symbol,
		Kind:          ts.Kind,
		Phase:         st.Phase,
		Candidate:     st.Candidate,
		EntryOrderKey: st.EntryOrderKey,
		StopOrderKey:  st.StopOrderKey,
		LastBar:       st.LastBar,
		Reason:        st.Reason,
		LastError:     st.LastError,
		Position:      e.inst.Ledger().Position(),
	}
	e.errMu.Lock()
	if e.fatal != nil {
		s.Fatal = e.fatal.Error()
	}
	e.errMu.Unlock()
	return s
}
