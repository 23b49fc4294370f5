package journal

import (
	"bytes"
	"text/template"
	"time"
)

var orgFuncs = template.FuncMap{
	"stamp": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05") },
	"short": func(s string) string {
		if len(s) > 8 {
			return s[:8]
		}
		return s
	},
}

// orderGroup is one order with its records in time order.
type orderGroup struct {
	Key     string
	First   OrderRecord
	Last    OrderRecord
	Records []OrderRecord
}

const ordersOrgTemplate = `{{range .}}** Order: {{.First.Symbol}} {{.First.Action}} {{.First.Kind}} ({{short .Key}})
:PROPERTIES:
:ORDER_KEY:     {{.Key}}
:TRADESTRATEGY: {{.First.Tradestrategy}}
:SYMBOL:        {{.First.Symbol}}
:QUANTITY:      {{.Last.Quantity}}
:FILLED:        {{.Last.FilledQuantity}}
:AVG_FILL:      {{printf "%.4f" .Last.AverageFilledPrice}}
:STATUS:        {{.Last.Status}}
:END:
| time | event | status | limit | stop | filled |
|------+-------+--------+-------+------+--------|
{{range .Records}}| {{stamp .Time}} | {{.Event}} | {{.Status}} | {{printf "%.4f" .LimitPrice}} | {{printf "%.4f" .StopPrice}} | {{.FilledQuantity}} |
{{end}}
{{end}}`

const transitionsOrgTemplate = `{{range .}}- [{{stamp .Time}}] {{.Tradestrategy}} {{.Symbol}}: {{.From}} -> {{.To}}{{if .Reason}} ({{.Reason}}){{end}}
{{end}}`

var (
	ordersOrg      = template.Must(template.New("orders").Funcs(orgFuncs).Parse(ordersOrgTemplate))
	transitionsOrg = template.Must(template.New("transitions").Funcs(orgFuncs).Parse(transitionsOrgTemplate))
)

// FormatOrdersOrg renders recs as org-mode headings, one per order key in
// order of first appearance.
func FormatOrdersOrg(recs []OrderRecord) (string, error) {
	var groups []*orderGroup
	byKey := map[string]*orderGroup{}
	for _, r := range recs {
		g, ok := byKey[r.OrderKey]
		if !ok {
			g = &orderGroup{Key: r.OrderKey, First: r}
			byKey[r.OrderKey] = g
			groups = append(groups, g)
		}
		g.Last = r
		g.Records = append(g.Records, r)
	}

	var buf bytes.Buffer
	if err := ordersOrg.Execute(&buf, groups); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatTransitionsOrg renders recs as an org-mode list.
func FormatTransitionsOrg(recs []TransitionRecord) (string, error) {
	var buf bytes.Buffer
	if err := transitionsOrg.Execute(&buf, recs); err != nil {
		return "", err
	}
	return buf.String(), nil
}
