package journal

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// a single writer keeps sqlite from returning SQLITE_BUSY under load
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordOrder(o OrderRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`
		INSERT INTO orders
		(time, order_key, tradestrategy, symbol, event, action, kind, status,
		 limit_price, stop_price, quantity, filled_quantity, avg_filled_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Time.UTC(), o.OrderKey, o.Tradestrategy, o.Symbol, o.Event, o.Action, o.Kind, o.Status,
		o.LimitPrice, o.StopPrice, o.Quantity, o.FilledQuantity, o.AverageFilledPrice,
	)
	return err
}

func (j *SQLite) RecordTransition(t TransitionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`
		INSERT INTO transitions
		(time, tradestrategy, symbol, from_phase, to_phase, reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.Time.UTC(), t.Tradestrategy, t.Symbol, t.From, t.To, t.Reason,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
