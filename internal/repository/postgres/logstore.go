package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/apex-triage/internal/domain"
	"github.com/ignite/apex-triage/internal/report"
	"github.com/ignite/apex-triage/internal/service/logstore"
)

// insertMaxAttempts bounds how many times an audit-log insert is retried on
// a transient database error, mirroring the backoff-with-jitter policy
// internal/pkg/httpretry applies to external HTTP calls.
const insertMaxAttempts = 3

// withInsertRetry runs exec up to insertMaxAttempts times, backing off
// between attempts, and gives up immediately on a canceled/expired context.
func withInsertRetry(ctx context.Context, exec func() error) error {
	var lastErr error
	for attempt := 1; attempt <= insertMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = exec()
		if lastErr == nil {
			return nil
		}
		if attempt == insertMaxAttempts {
			break
		}
		delay := retryDelay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

// retryDelay mirrors httpretry.RetryClient.calculateDelay: exponential
// backoff with full jitter, floored at 100ms.
func retryDelay(attempt int) time.Duration {
	const base = 200 * time.Millisecond
	const max = 2 * time.Second
	expDelay := float64(base) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(max) {
		expDelay = float64(max)
	}
	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}

// LogRepo implements logstore.Repository against PostgreSQL.
type LogRepo struct{ db *sql.DB }

// NewLogRepo creates a Postgres-backed audit log repository.
func NewLogRepo(db *sql.DB) *LogRepo { return &LogRepo{db: db} }

func (r *LogRepo) IsProcessed(ctx context.Context, internetMessageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM triage_logs WHERE internet_message_id = $1)`,
		internetMessageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("is processed: %w", err)
	}
	return exists, nil
}

func (r *LogRepo) InsertLog(ctx context.Context, row domain.LogRow) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	topCategories, err := json.Marshal(row.TopCategories)
	if err != nil {
		return fmt.Errorf("marshal top categories: %w", err)
	}

	var rowsAffected int64
	err = withInsertRetry(ctx, func() error {
		result, execErr := r.db.ExecContext(ctx, `
			INSERT INTO triage_logs (
				id, internet_message_id, received_at, processed_at, end_at, turnaround_seconds,
				eml_from, eml_to, eml_cc, eml_subject, eml_body,
				category, reason, action_required, sentiment, cost_usd, top_categories, region_used,
				primary_prompt_tokens, primary_completion_tokens, primary_total_tokens, primary_cached_tokens,
				cheap_prompt_tokens, cheap_completion_tokens, cheap_total_tokens, cheap_cached_tokens,
				routed_to, intervention,
				classification_status, routing_status, read_status, autoresponse_status, skip_reason
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8, $9, $10, $11,
				$12, $13, $14, $15, $16, $17, $18,
				$19, $20, $21, $22,
				$23, $24, $25, $26,
				$27, $28,
				$29, $30, $31, $32, $33
			)
			ON CONFLICT (internet_message_id) DO NOTHING
		`,
			row.ID, row.InternetMessageID, row.ReceivedAt, row.ProcessedAt, row.EndAt, row.TurnaroundSeconds,
			row.From, row.To, row.CC, row.Subject, truncate(row.Body, 8000),
			string(row.Category), row.Reason, row.ActionRequired, string(row.Sentiment), row.CostUSD, topCategories, string(row.RegionUsed),
			row.PrimaryModelTokens.PromptTokens, row.PrimaryModelTokens.CompletionTokens, row.PrimaryModelTokens.TotalTokens, row.PrimaryModelTokens.CachedTokens,
			row.CheapModelTokens.PromptTokens, row.CheapModelTokens.CompletionTokens, row.CheapModelTokens.TotalTokens, row.CheapModelTokens.CachedTokens,
			row.RoutedTo, row.Intervention,
			string(row.ClassificationStatus), string(row.RoutingStatus), string(row.ReadStatus), string(row.AutoresponseStatus), row.SkipReason,
		)
		if execErr != nil {
			return execErr
		}
		rowsAffected, execErr = result.RowsAffected()
		return execErr
	})
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	if rowsAffected == 0 {
		return logstore.ErrAlreadyProcessed
	}
	return nil
}

func (r *LogRepo) InsertSkipped(ctx context.Context, row domain.SkippedRow) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	err := withInsertRetry(ctx, func() error {
		_, execErr := r.db.ExecContext(ctx, `
			INSERT INTO triage_skipped (id, internet_message_id, subject, eml_from, eml_to, skip_type, skip_reason, processing_time_ms, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, row.ID, row.InternetMessageID, row.Subject, row.From, row.To, row.SkipType, row.SkipReason, row.ProcessingTime.Milliseconds(), row.OccurredAt)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("insert skipped: %w", err)
	}
	return nil
}

func (r *LogRepo) InsertSystemLog(ctx context.Context, row domain.SystemLogRow) error {
	entries, err := json.Marshal(row.Entries)
	if err != nil {
		return fmt.Errorf("marshal system log entries: %w", err)
	}
	autoresponse, err := json.Marshal(row.Autoresponse)
	if err != nil {
		return fmt.Errorf("marshal autoresponse details: %w", err)
	}

	err = withInsertRetry(ctx, func() error {
		_, execErr := r.db.ExecContext(ctx, `
			INSERT INTO triage_system_logs (
				email_id, internet_message_id, subject, started_at, ended_at,
				entries, error_count, warning_count, autoresponse_details
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, row.EmailID, row.InternetMessageID, row.Subject, row.StartedAt, row.EndedAt,
			entries, row.ErrorCount, row.WarningCount, autoresponse,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("insert system log: %w", err)
	}
	return nil
}

// LogsBetween returns the subset of each log row the daily report
// aggregates over, for rows processed within [start, end).
func (r *LogRepo) LogsBetween(ctx context.Context, start, end time.Time) ([]report.LogSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, routed_to, intervention, cost_usd, turnaround_seconds,
		       classification_status, autoresponse_status
		FROM triage_logs
		WHERE processed_at >= $1 AND processed_at < $2
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("logs between: %w", err)
	}
	defer rows.Close()

	var out []report.LogSummary
	for rows.Next() {
		var s report.LogSummary
		var classificationStatus, autoresponseStatus string
		if err := rows.Scan(&s.Category, &s.RoutedTo, &s.Intervention, &s.CostUSD, &s.TurnaroundSeconds,
			&classificationStatus, &autoresponseStatus); err != nil {
			return nil, fmt.Errorf("scan log summary: %w", err)
		}
		s.ClassificationFail = classificationStatus == string(domain.StatusError)
		s.AutoresponseSent = autoresponseStatus == string(domain.AutoresponseSuccess)
		out = append(out, s)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... [truncated]"
}

var (
	_ logstore.Repository = (*LogRepo)(nil)
	_ report.Store        = (*LogRepo)(nil)
)
