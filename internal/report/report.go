// Package report aggregates a day's worth of triage logs into the daily
// KPI summary, rendered as HTML (via a Liquid template) and as CSV for
// spreadsheet consumption.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/osteele/liquid"

	"github.com/ignite/apex-triage/internal/config"
)

// Store is the subset of the log repository the report needs.
type Store interface {
	LogsBetween(ctx context.Context, start, end time.Time) ([]LogSummary, error)
}

// LogSummary is the slice of a LogRow the report aggregates over; it
// avoids importing domain.LogRow's full PII-bearing fields into reporting.
type LogSummary struct {
	Category           string
	RoutedTo           string
	Intervention       bool
	CostUSD            float64
	TurnaroundSeconds  float64
	ClassificationFail bool
	AutoresponseSent   bool
}

// KPIs is the aggregated daily summary.
type KPIs struct {
	Date                string
	TotalProcessed      int
	ByCategory          map[string]int
	ByDestination       map[string]int
	InterventionCount   int
	TotalCostUSD        float64
	AvgTurnaroundSecs   float64
	ClassificationFails int
	AutoresponsesSent   int
}

// Aggregate computes KPIs from a day's log summaries.
func Aggregate(date time.Time, logs []LogSummary) KPIs {
	k := KPIs{
		Date:          date.Format("2006-01-02"),
		ByCategory:    map[string]int{},
		ByDestination: map[string]int{},
	}
	var turnaroundSum float64
	for _, l := range logs {
		k.TotalProcessed++
		k.ByCategory[l.Category]++
		k.ByDestination[l.RoutedTo]++
		k.TotalCostUSD += l.CostUSD
		turnaroundSum += l.TurnaroundSeconds
		if l.Intervention {
			k.InterventionCount++
		}
		if l.ClassificationFail {
			k.ClassificationFails++
		}
		if l.AutoresponseSent {
			k.AutoresponsesSent++
		}
	}
	if k.TotalProcessed > 0 {
		k.AvgTurnaroundSecs = turnaroundSum / float64(k.TotalProcessed)
	}
	return k
}

const reportTemplate = `<html>
<head><title>Daily Triage Report — {{ date }}</title></head>
<body>
<h1>Daily Triage Report — {{ date }}</h1>
<p>Total processed: {{ total }}</p>
<p>Total cost: ${{ cost }}</p>
<p>Average turnaround: {{ turnaround }}s</p>
<p>Router interventions: {{ interventions }}</p>
<p>Classification failures: {{ failures }}</p>
<p>Autoresponses sent: {{ autoresponses }}</p>
<h2>By category</h2>
<ul>
{% for row in categories %}<li>{{ row.name }}: {{ row.count }}</li>
{% endfor %}
</ul>
<h2>By destination</h2>
<ul>
{% for row in destinations %}<li>{{ row.name }}: {{ row.count }}</li>
{% endfor %}
</ul>
</body>
</html>`

// RenderHTML renders the KPI summary as an HTML document using a Liquid
// template (the email templates in templatestore do not use Liquid).
func RenderHTML(k KPIs) (string, error) {
	engine := liquid.NewEngine()
	tpl, err := engine.ParseString(reportTemplate)
	if err != nil {
		return "", fmt.Errorf("report: parse template: %w", err)
	}

	bindings := map[string]any{
		"date":          k.Date,
		"total":         k.TotalProcessed,
		"cost":          strconv.FormatFloat(k.TotalCostUSD, 'f', 5, 64),
		"turnaround":    strconv.FormatFloat(k.AvgTurnaroundSecs, 'f', 2, 64),
		"interventions": k.InterventionCount,
		"failures":      k.ClassificationFails,
		"autoresponses": k.AutoresponsesSent,
		"categories":    toRows(k.ByCategory),
		"destinations":  toRows(k.ByDestination),
	}

	out, err := tpl.Render(bindings)
	if err != nil {
		return "", fmt.Errorf("report: render template: %w", err)
	}
	return string(out), nil
}

func toRows(counts map[string]int) []map[string]any {
	rows := make([]map[string]any, 0, len(counts))
	for name, count := range counts {
		rows = append(rows, map[string]any{"name": name, "count": count})
	}
	return rows
}

// RenderCSV renders the same KPI summary as a flat CSV, one row per
// category, for spreadsheet consumption.
func RenderCSV(k KPIs) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"date", "category", "count"}); err != nil {
		return "", err
	}
	for name, count := range k.ByCategory {
		if err := w.Write([]string{k.Date, name, strconv.Itoa(count)}); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("report: write csv: %w", err)
	}
	return buf.String(), nil
}

// IsTestSubject reports whether a subject line carries the configured test
// prefix, so the report can exclude synthetic UAT traffic from KPIs.
func IsTestSubject(cfg config.ReportConfig, subject string) bool {
	if cfg.TestSubjectPrefix == "" {
		return false
	}
	return len(subject) >= len(cfg.TestSubjectPrefix) && subject[:len(cfg.TestSubjectPrefix)] == cfg.TestSubjectPrefix
}
