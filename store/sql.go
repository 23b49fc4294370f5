package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/intraday/market"
)

const Schema = `
CREATE TABLE IF NOT EXISTS candles (
	instrument_id BIGINT           NOT NULL,
	symbol        TEXT             NOT NULL,
	bar_seconds   BIGINT           NOT NULL,
	start_unix    BIGINT           NOT NULL,
	end_unix      BIGINT           NOT NULL,
	open          DOUBLE PRECISION NOT NULL,
	high          DOUBLE PRECISION NOT NULL,
	low           DOUBLE PRECISION NOT NULL,
	close         DOUBLE PRECISION NOT NULL,
	volume        DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (instrument_id, bar_seconds, start_unix)
);
`

// SQL is a CandleStore backed by database/sql. Driver is "sqlite3" or "pgx".
type SQL struct {
	db     *sql.DB
	driver string
}

var _ CandleStore = (*SQL)(nil)

func Open(driver, dsn string) (*SQL, error) {
	switch driver {
	case "sqlite3", "pgx":
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQL{db: db, driver: driver}, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// rebind turns ? placeholders into $n for Postgres.
func (s *SQL) rebind(q string) string {
	if s.driver != "pgx" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveCandles upserts cs for one instrument and bar size.
func (s *SQL) SaveCandles(ctx context.Context, instrumentID int64, barSize time.Duration, cs []market.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
INSERT INTO candles (instrument_id, symbol, bar_seconds, start_unix, end_unix, open, high, low, close, volume)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (instrument_id, bar_seconds, start_unix) DO UPDATE SET
	end_unix = excluded.end_unix,
	open = excluded.open,
	high = excluded.high,
	low = excluded.low,
	close = excluded.close,
	volume = excluded.volume`))
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	secs := int64(barSize / time.Second)
	for _, c := range cs {
		end := c.End
		if end.IsZero() {
			end = c.Start.Add(barSize)
		}
		if _, err := stmt.ExecContext(ctx,
			instrumentID, c.Instrument, secs, c.Start.Unix(), end.Unix(),
			c.Open, c.High, c.Low, c.Close, c.Volume,
		); err != nil {
			return fmt.Errorf("store: save candle %s %s: %w", c.Instrument, c.Start.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

func (s *SQL) FindCandles(ctx context.Context, instrumentID int64, start, end time.Time, barSize time.Duration) ([]market.Candle, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT symbol, start_unix, end_unix, open, high, low, close, volume
FROM candles
WHERE instrument_id = ? AND bar_seconds = ? AND start_unix >= ? AND start_unix <= ?
ORDER BY start_unix`),
		instrumentID, int64(barSize/time.Second), start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: find candles: %w", err)
	}
	defer rows.Close()

	var out []market.Candle
	for rows.Next() {
		var (
			c            market.Candle
			startU, endU int64
		)
		if err := rows.Scan(&c.Instrument, &startU, &endU, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("store: scan candle: %w", err)
		}
		c.Start = time.Unix(startU, 0).UTC()
		c.End = time.Unix(endU, 0).UTC()
		c.Final = true
		out = append(out, c)
	}
	return out, rows.Err()
}
