package feed

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/intraday/market"
)

// Source yields candles in time order.
type Source interface {
	Next() (market.Candle, bool, error)
}

// Sink sees each bar before it is dispatched, e.g. the paper gateway.
type Sink interface {
	OnCandle(market.Candle)
}

type Dispatcher interface {
	DispatchAll(ctx context.Context, c market.Candle, isNewBar bool) error
}

// Recorder keeps replayed bars so later sessions can look them up.
type Recorder interface {
	SaveCandles(ctx context.Context, instrumentID int64, barSize time.Duration, cs []market.Candle) error
}

// Replay pushes every bar of Source through Sink and Dispatcher.
type Replay struct {
	Source      Source
	Sink        Sink
	Dispatcher  Dispatcher
	Recorder    Recorder
	Instruments map[string]market.Instrument
	BarSize     time.Duration
	Log         logrus.FieldLogger
}

// Result counts what a replay did.
type Result struct {
	Bars     int
	Skipped  int
	Failures int
	First    time.Time
	Last     time.Time
}

// Run replays until the source is exhausted or ctx is done. Tradestrategy
// failures are counted and logged; they do not stop the replay.
func (r *Replay) Run(ctx context.Context) (Result, error) {
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		c, ok, err := r.Source.Next()
		if err != nil {
			return res, err
		}
		if !ok {
			break
		}

		inst, known := r.Instruments[c.Instrument]
		if r.Instruments != nil && !known {
			res.Skipped++
			continue
		}

		if r.Sink != nil {
			r.Sink.OnCandle(c)
		}
		if err := r.Dispatcher.DispatchAll(ctx, c, true); err != nil {
			res.Failures++
			log.WithError(err).WithFields(logrus.Fields{
				"symbol": c.Instrument,
				"period": c.Start.Format(time.RFC3339),
			}).Error("dispatch failed")
		}
		if r.Recorder != nil && known {
			if err := r.Recorder.SaveCandles(ctx, inst.ID, r.BarSize, []market.Candle{c}); err != nil {
				log.WithError(err).WithField("symbol", c.Instrument).Warn("record candle")
			}
		}

		if res.Bars == 0 {
			res.First = c.Start
		}
		res.Last = c.Start
		res.Bars++
	}

	log.WithFields(logrus.Fields{
		"bars":     res.Bars,
		"skipped":  res.Skipped,
		"failures": res.Failures,
	}).Info("replay finished")
	return res, nil
}
