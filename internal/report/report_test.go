package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/apex-triage/internal/config"
)

func sampleLogs() []LogSummary {
	return []LogSummary{
		{Category: "claims", RoutedTo: "claims@insurer.com", Intervention: false, CostUSD: 0.01, TurnaroundSeconds: 4.0, AutoresponseSent: true},
		{Category: "claims", RoutedTo: "claims@insurer.com", Intervention: true, CostUSD: 0.02, TurnaroundSeconds: 6.0, ClassificationFail: true},
		{Category: "assist", RoutedTo: "policyservices@insurer.com", CostUSD: 0.015, TurnaroundSeconds: 5.0, AutoresponseSent: true},
	}
}

func TestAggregate(t *testing.T) {
	date := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	k := Aggregate(date, sampleLogs())

	assert.Equal(t, "2026-07-28", k.Date)
	assert.Equal(t, 3, k.TotalProcessed)
	assert.Equal(t, 2, k.ByCategory["claims"])
	assert.Equal(t, 1, k.ByCategory["assist"])
	assert.Equal(t, 2, k.ByDestination["claims@insurer.com"])
	assert.Equal(t, 1, k.InterventionCount)
	assert.Equal(t, 1, k.ClassificationFails)
	assert.Equal(t, 2, k.AutoresponsesSent)
	assert.InDelta(t, 0.045, k.TotalCostUSD, 0.0001)
	assert.InDelta(t, 5.0, k.AvgTurnaroundSecs, 0.0001)
}

func TestAggregateEmpty(t *testing.T) {
	k := Aggregate(time.Now(), nil)
	assert.Equal(t, 0, k.TotalProcessed)
	assert.Equal(t, 0.0, k.AvgTurnaroundSecs)
}

func TestRenderHTML(t *testing.T) {
	k := Aggregate(time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC), sampleLogs())
	html, err := RenderHTML(k)
	require.NoError(t, err)
	assert.Contains(t, html, "2026-07-28")
	assert.Contains(t, html, "claims: 2")
	assert.Contains(t, html, "Total processed: 3")
}

func TestRenderCSV(t *testing.T) {
	k := Aggregate(time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC), sampleLogs())
	csv, err := RenderCSV(k)
	require.NoError(t, err)
	assert.Contains(t, csv, "date,category,count")
	assert.Contains(t, csv, "2026-07-28,claims,2")
}

func TestIsTestSubject(t *testing.T) {
	cfg := config.ReportConfig{TestSubjectPrefix: "[TEST]"}
	assert.True(t, IsTestSubject(cfg, "[TEST] my claim"))
	assert.False(t, IsTestSubject(cfg, "my claim"))
	assert.False(t, IsTestSubject(config.ReportConfig{}, "[TEST] my claim"))
}
