package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('orders','transitions')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["orders"])
	assert.True(t, found["transitions"])
}

func TestSQLiteRecordOrder(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	at := time.Date(2024, 1, 2, 14, 35, 0, 0, time.UTC)

	rec := OrderRecord{
		Time:          at,
		OrderKey:      "AAPL-1",
		Tradestrategy: "ts-1",
		Symbol:        "AAPL",
		Event:         "create",
		Action:        "BUY",
		Kind:          "STPLMT",
		Status:        "SUBMITTED",
		LimitPrice:    10.04,
		StopPrice:     10.00,
		Quantity:      100,
	}
	require.NoError(t, j.RecordOrder(rec))

	fill := rec
	fill.Event = "ack"
	fill.Status = "PARTIALFILLED"
	fill.FilledQuantity = 40
	fill.AverageFilledPrice = 10.03
	require.NoError(t, j.RecordOrder(fill))

	got, err := j.OrderHistory(context.Background(), "AAPL-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "create", got[0].Event)
	assert.True(t, got[0].Time.Equal(at))
	assert.Equal(t, int64(100), got[0].Quantity)
	assert.Equal(t, "PARTIALFILLED", got[1].Status)
	assert.Equal(t, int64(40), got[1].FilledQuantity)
	assert.InDelta(t, 10.03, got[1].AverageFilledPrice, 1e-9)
}

func TestSQLiteRecordTransition(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	at := time.Date(2024, 1, 2, 15, 55, 0, 0, time.UTC)

	require.NoError(t, j.RecordTransition(TransitionRecord{
		Time: at, Tradestrategy: "ts-1", Symbol: "AAPL", From: "PositionOpen", To: "Closing", Reason: "session cutoff",
	}))
	require.NoError(t, j.RecordTransition(TransitionRecord{
		Time: at.Add(5 * time.Minute), Tradestrategy: "ts-1", Symbol: "AAPL", From: "Closing", To: "Terminated", Reason: "flat",
	}))
	require.NoError(t, j.RecordTransition(TransitionRecord{
		Time: at, Tradestrategy: "ts-2", Symbol: "MSFT", From: "Idle", To: "Watching",
	}))

	got, err := j.Transitions(context.Background(), "ts-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Closing", got[0].To)
	assert.Equal(t, "Terminated", got[1].To)
	assert.Equal(t, "session cutoff", got[0].Reason)
}

func TestNop(t *testing.T) {
	t.Parallel()

	var j Journal = Nop{}
	assert.NoError(t, j.RecordOrder(OrderRecord{}))
	assert.NoError(t, j.RecordTransition(TransitionRecord{}))
	assert.NoError(t, j.Close())
}
