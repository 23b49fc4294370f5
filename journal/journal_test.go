package journal

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrders(at time.Time) []OrderRecord {
	return []OrderRecord{
		{Time: at, OrderKey: "01HQENTRY000", Tradestrategy: "ts-1", Symbol: "ACME", Event: "create",
			Action: "BUY", Kind: "STPLMT", Status: "Submitted", LimitPrice: 10.04, StopPrice: 10.00, Quantity: 100},
		{Time: at.Add(5 * time.Minute), OrderKey: "01HQENTRY000", Tradestrategy: "ts-1", Symbol: "ACME", Event: "ack",
			Action: "BUY", Kind: "STPLMT", Status: "Filled", LimitPrice: 10.04, StopPrice: 10.00, Quantity: 100,
			FilledQuantity: 100, AverageFilledPrice: 10.02},
		{Time: at.Add(time.Hour), OrderKey: "01HQFLAT0000", Tradestrategy: "ts-1", Symbol: "ACME", Event: "flatten",
			Action: "SELL", Kind: "MKT", Status: "Submitted", Quantity: 100},
	}
}

func TestOrdersBetween(t *testing.T) {
	t.Parallel()
	j, _ := newTestSQLite(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	for _, o := range sampleOrders(at) {
		require.NoError(t, j.RecordOrder(o))
	}

	recs, err := j.OrdersBetween(ctx, at, at.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "create", recs[0].Event)
	assert.Equal(t, "ack", recs[1].Event)

	hist, err := j.OrderHistory(ctx, "01HQFLAT0000")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "flatten", hist[0].Event)
}

func TestTransitionsBetween(t *testing.T) {
	t.Parallel()
	j, _ := newTestSQLite(t)
	at := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	require.NoError(t, j.RecordTransition(TransitionRecord{Time: at, Tradestrategy: "ts-1", Symbol: "ACME", From: "idle", To: "watching"}))
	require.NoError(t, j.RecordTransition(TransitionRecord{Time: at.AddDate(0, 0, 1), Tradestrategy: "ts-1", Symbol: "ACME", From: "watching", To: "terminated"}))

	recs, err := j.TransitionsBetween(context.Background(), at, at.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "watching", recs[0].To)
}

func TestFormatOrdersOrg(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	out, err := FormatOrdersOrg(sampleOrders(at))
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(out, "** Order:"))
	assert.Contains(t, out, "** Order: ACME BUY STPLMT (01HQENTR)")
	assert.Contains(t, out, ":ORDER_KEY:     01HQENTRY000")
	assert.Contains(t, out, ":FILLED:        100")
	assert.Contains(t, out, ":AVG_FILL:      10.0200")
	assert.Contains(t, out, ":STATUS:        Filled")
	assert.Contains(t, out, "| 2024-03-05 14:35:00 | ack | Filled | 10.0400 | 10.0000 | 100 |")
	assert.Contains(t, out, "** Order: ACME SELL MKT (01HQFLAT)")
}

func TestFormatTransitionsOrg(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	out, err := FormatTransitionsOrg([]TransitionRecord{
		{Time: at, Tradestrategy: "ts-1", Symbol: "ACME", From: "idle", To: "watching", Reason: "session open"},
		{Time: at.Add(time.Minute), Tradestrategy: "ts-1", Symbol: "ACME", From: "watching", To: "candidate"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "- [2024-03-05 14:30:00] ts-1 ACME: idle -> watching (session open)\n")
	assert.Contains(t, out, "- [2024-03-05 14:31:00] ts-1 ACME: watching -> candidate\n")
}

func TestWriteOrdersCSV(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, WriteOrdersCSV(&buf, sampleOrders(at)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "time,order_key,tradestrategy"))
	assert.Equal(t, "2024-03-05T14:35:00Z,01HQENTRY000,ts-1,ACME,ack,BUY,STPLMT,Filled,10.0400,10.0000,100,100,10.0200", lines[2])
}
