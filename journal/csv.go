package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var orderHeader = []string{
	"time", "order_key", "tradestrategy", "symbol", "event", "action", "kind", "status",
	"limit_price", "stop_price", "quantity", "filled_quantity", "avg_filled_price",
}

// WriteOrdersCSV writes recs with a header row.
func WriteOrdersCSV(w io.Writer, recs []OrderRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(orderHeader); err != nil {
		return err
	}
	for _, o := range recs {
		err := cw.Write([]string{
			o.Time.UTC().Format(time.RFC3339Nano),
			o.OrderKey,
			o.Tradestrategy,
			o.Symbol,
			o.Event,
			o.Action,
			o.Kind,
			o.Status,
			f(o.LimitPrice),
			f(o.StopPrice),
			strconv.FormatInt(o.Quantity, 10),
			strconv.FormatInt(o.FilledQuantity, 10),
			f(o.AverageFilledPrice),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 4, 64)
}
