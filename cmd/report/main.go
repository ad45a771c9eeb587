// Command report generates the previous day's triage KPI summary as HTML
// and CSV files.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/apex-triage/internal/config"
	"github.com/ignite/apex-triage/internal/pkg/logger"
	"github.com/ignite/apex-triage/internal/report"
	"github.com/ignite/apex-triage/internal/repository/postgres"
)

func main() {
	configPath := os.Getenv("TRIAGE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	store := postgres.NewLogRepo(db)

	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day()-1, 0, 0, 0, 0, now.Location())
	end := start.Add(24 * time.Hour)

	ctx := context.Background()
	summaries, err := store.LogsBetween(ctx, start, end)
	if err != nil {
		log.Fatalf("load logs: %v", err)
	}

	kpis := report.Aggregate(start, summaries)

	html, err := report.RenderHTML(kpis)
	if err != nil {
		log.Fatalf("render html: %v", err)
	}
	csvOut, err := report.RenderCSV(kpis)
	if err != nil {
		log.Fatalf("render csv: %v", err)
	}

	htmlPath := "daily_report_" + kpis.Date + ".html"
	csvPath := "daily_report_" + kpis.Date + ".csv"
	if err := os.WriteFile(htmlPath, []byte(html), 0644); err != nil {
		log.Fatalf("write html: %v", err)
	}
	if err := os.WriteFile(csvPath, []byte(csvOut), 0644); err != nil {
		log.Fatalf("write csv: %v", err)
	}

	logger.Info("daily report generated", "date", kpis.Date, "total_processed", kpis.TotalProcessed)
}
