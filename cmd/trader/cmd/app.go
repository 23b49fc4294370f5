package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/broker/paper"
	"github.com/rustyeddy/intraday/checkpoint"
	"github.com/rustyeddy/intraday/config"
	"github.com/rustyeddy/intraday/feed"
	"github.com/rustyeddy/intraday/journal"
	"github.com/rustyeddy/intraday/ledger"
	"github.com/rustyeddy/intraday/logging"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/registry"
	"github.com/rustyeddy/intraday/store"
	"github.com/rustyeddy/intraday/strategy"
	"github.com/rustyeddy/intraday/strategy/rules"
)

// app is one trader process wired from a config file.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	paper    *paper.Gateway
	ledgers  map[string]*ledger.Ledger
	journal  journal.Journal
	history  store.CandleStore
	recorder feed.Recorder
	reg      *registry.Registry

	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, ledgers: make(map[string]*ledger.Ledger)}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	cfg := a.cfg
	log, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	a.log = log
	a.closers = append(a.closers, closer)

	if cfg.Journal.DBPath != "" {
		j, err := journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		a.journal = j
		a.closers = append(a.closers, j)
	} else {
		a.journal = journal.Nop{}
	}

	if cfg.Store.DSN != "" {
		db, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		a.closers = append(a.closers, db)
		a.recorder = db
		a.history = &store.Resilient{
			Store:   db,
			Timeout: cfg.Store.TimeoutDuration(),
			Backoff: cfg.Store.BackoffDuration(),
			Log:     log.WithField("component", "store"),
		}
	} else {
		mem := store.NewMemory()
		a.history = mem
		a.recorder = mem
	}

	var opts []registry.Option
	opts = append(opts, registry.WithLogger(log.WithField("component", "registry")))
	if cfg.Checkpoint.Path != "" || cfg.Checkpoint.InMemory {
		cp, err := checkpoint.Open(checkpoint.Options{Path: cfg.Checkpoint.Path, InMemory: cfg.Checkpoint.InMemory})
		if err != nil {
			return fmt.Errorf("open checkpoints: %w", err)
		}
		a.closers = append(a.closers, cp)
		opts = append(opts, registry.WithCheckpoint(cp))
	}
	a.reg = registry.New(opts...)

	a.paper = paper.New(paper.WithFillRatio(cfg.Broker.FillRatio))
	gw := broker.WithTimeout(a.paper, cfg.Broker.TimeoutDuration())
	for _, inst := range cfg.Instruments {
		l := ledger.New(inst, gw,
			ledger.WithJournal(a.journal),
			ledger.WithLogger(log.WithField("symbol", inst.Symbol)),
		)
		a.paper.Subscribe(l.Apply)
		a.ledgers[inst.Symbol] = l
	}

	for _, tc := range cfg.Tradestrategies {
		if err := a.add(ctx, tc); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) add(ctx context.Context, tc config.TradestrategyConfig) error {
	ts, err := a.cfg.Tradestrategy(tc)
	if err != nil {
		return err
	}
	rule, err := rules.New(ts.Kind)
	if err != nil {
		return err
	}
	inst, err := strategy.NewInstance(ts, rule, a.ledgers[ts.Instrument.Symbol],
		strategy.WithHistory(a.history),
		strategy.WithJournal(a.journal),
		strategy.WithLogger(a.log.WithFields(logrus.Fields{"tradestrategy": ts.ID, "rule": ts.Kind})),
	)
	if err != nil {
		return fmt.Errorf("tradestrategy %q: %w", ts.ID, err)
	}
	return a.reg.Register(ctx, inst)
}

func (a *app) instruments() map[string]market.Instrument {
	m := make(map[string]market.Instrument, len(a.cfg.Instruments))
	for _, inst := range a.cfg.Instruments {
		m[inst.Symbol] = inst
	}
	return m
}

// Close releases in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(ctx, cfg)
}
