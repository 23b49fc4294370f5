package journal

import (
	"context"
	"database/sql"
	"time"
)

const orderColumns = `time, order_key, tradestrategy, symbol, event, action, kind, status,
	limit_price, stop_price, quantity, filled_quantity, avg_filled_price`

const transitionColumns = `time, tradestrategy, symbol, from_phase, to_phase, reason`

// OrderHistory returns every record for key, oldest first.
func (j *SQLite) OrderHistory(ctx context.Context, key string) ([]OrderRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE order_key = ? ORDER BY id`, key)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

// OrdersBetween returns order records with time in [start, end).
func (j *SQLite) OrdersBetween(ctx context.Context, start, end time.Time) ([]OrderRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE time >= ? AND time < ?
		ORDER BY id`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

// Transitions returns the phase changes of a tradestrategy, oldest first.
func (j *SQLite) Transitions(ctx context.Context, tradestrategy string) ([]TransitionRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+transitionColumns+`
		FROM transitions WHERE tradestrategy = ? ORDER BY id`, tradestrategy)
	if err != nil {
		return nil, err
	}
	return scanTransitions(rows)
}

// TransitionsBetween returns phase changes with time in [start, end).
func (j *SQLite) TransitionsBetween(ctx context.Context, start, end time.Time) ([]TransitionRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+transitionColumns+`
		FROM transitions
		WHERE time >= ? AND time < ?
		ORDER BY id`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return scanTransitions(rows)
}

func scanOrders(rows *sql.Rows) ([]OrderRecord, error) {
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var o OrderRecord
		if err := rows.Scan(&o.Time, &o.OrderKey, &o.Tradestrategy, &o.Symbol, &o.Event,
			&o.Action, &o.Kind, &o.Status, &o.LimitPrice, &o.StopPrice,
			&o.Quantity, &o.FilledQuantity, &o.AverageFilledPrice); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanTransitions(rows *sql.Rows) ([]TransitionRecord, error) {
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var t TransitionRecord
		if err := rows.Scan(&t.Time, &t.Tradestrategy, &t.Symbol, &t.From, &t.To, &t.Reason); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
