package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/intraday/market"
)

// Resilient bounds each lookup by Timeout and retries a failed one once
// after Backoff. When both attempts fail the error wraps
// ErrPersistenceUnavailable.
type Resilient struct {
	Store   CandleStore
	Timeout time.Duration
	Backoff time.Duration
	Log     logrus.FieldLogger
}

var _ CandleStore = (*Resilient)(nil)

const attempts = 2

func (r *Resilient) FindCandles(ctx context.Context, instrumentID int64, start, end time.Time, barSize time.Duration) ([]market.Candle, error) {
	var last error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			r.logger().WithError(last).WithField("instrument_id", instrumentID).Warn("candle lookup failed, retrying")
			select {
			case <-time.After(r.Backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("find candles: %w: %w", ErrPersistenceUnavailable, ctx.Err())
			}
		}

		cs, err := r.once(ctx, instrumentID, start, end, barSize)
		if err == nil {
			return cs, nil
		}
		last = err
	}
	return nil, fmt.Errorf("find candles: %w: %w", ErrPersistenceUnavailable, last)
}

func (r *Resilient) once(ctx context.Context, instrumentID int64, start, end time.Time, barSize time.Duration) ([]market.Candle, error) {
	if r.Timeout <= 0 {
		return r.Store.FindCandles(ctx, instrumentID, start, end, barSize)
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	type result struct {
		cs  []market.Candle
		err error
	}
	ch := make(chan result, 1)
	go func() {
		cs, err := r.Store.FindCandles(ctx, instrumentID, start, end, barSize)
		ch <- result{cs, err}
	}()

	select {
	case res := <-ch:
		return res.cs, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("lookup after %s: %w", r.Timeout, ctx.Err())
	}
}

func (r *Resilient) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}
