// Package logstore defines the durable audit-log contract the engine
// writes to exactly once per processed message.
package logstore

import (
	"context"
	"errors"

	"github.com/ignite/apex-triage/internal/domain"
)

// ErrAlreadyProcessed is returned by InsertLog when a row for the given
// internet_message_id already exists — the idempotency guard that makes
// the engine safe to retry after a crash.
var ErrAlreadyProcessed = errors.New("logstore: message already processed")

// Repository is the pure contract for the relational audit store. It has
// no net/http or LLM dependency — only domain types and context.
type Repository interface {
	// IsProcessed reports whether a LogRow for this internet_message_id
	// already exists, so the engine can skip reprocessing a message it
	// handled in a prior run.
	IsProcessed(ctx context.Context, internetMessageID string) (bool, error)

	// InsertLog writes the full audit row for a fully processed message.
	// Returns ErrAlreadyProcessed if a row for the same internet_message_id
	// already exists (upsert is deliberately not used here: a duplicate
	// insert means two goroutines raced on the same message, which is a
	// bug worth surfacing, not silently overwriting).
	InsertLog(ctx context.Context, row domain.LogRow) error

	// InsertSkipped records a message that was never classified — a
	// duplicate or an Exchange-system message.
	InsertSkipped(ctx context.Context, row domain.SkippedRow) error

	// InsertSystemLog writes the structured per-message log capture,
	// including the emergency rows synthesized when a worker goroutine
	// recovers from a panic.
	InsertSystemLog(ctx context.Context, row domain.SystemLogRow) error
}
