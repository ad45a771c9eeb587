package triageengine

import (
	"context"
	"time"

	"github.com/ignite/apex-triage/internal/autoresponder"
	"github.com/ignite/apex-triage/internal/domain"
)

// messageLog is the explicit per-message logging context spec.md §9 calls
// for in place of an ambient thread-local "current email" handle: it is
// constructed fresh for each Process call, owns the entries and the
// autoresponse-detail sub-object for that one message, and is flushed
// exactly once, in a defer, so a SystemLogRow is written even when the
// main LogRow write fails (spec.md §4.7, §7 StorageFailure).
type messageLog struct {
	emailID           string
	internetMessageID string
	subject           string
	startedAt         time.Time
	entries           []domain.SystemLogEntry
	errorCount        int
	warningCount      int
}

func newMessageLog(emailID, internetMessageID, subject string) *messageLog {
	return &messageLog{emailID: emailID, internetMessageID: internetMessageID, subject: subject, startedAt: time.Now()}
}

func (m *messageLog) info(category, msg string)  { m.add("INFO", category, msg) }
func (m *messageLog) warn(category, msg string)  { m.add("WARNING", category, msg) }
func (m *messageLog) error(category, msg string) { m.add("ERROR", category, msg) }

func (m *messageLog) add(level, category, msg string) {
	m.entries = append(m.entries, domain.SystemLogEntry{
		Timestamp: time.Now(), Level: level, Category: category, Message: msg,
	})
	switch level {
	case "WARNING":
		m.warningCount++
	case "ERROR", "CRITICAL":
		m.errorCount++
	}
}

// flush writes the accumulated entries as one SystemLogRow. Failures are
// swallowed: this is itself the best-effort fallback, there is nowhere
// lower to report to.
func (m *messageLog) flush(ctx context.Context, logs interface {
	InsertSystemLog(ctx context.Context, row domain.SystemLogRow) error
}, autoResult autoresponder.Result) {
	_ = logs.InsertSystemLog(ctx, domain.SystemLogRow{
		EmailID:           m.emailID,
		InternetMessageID: m.internetMessageID,
		Subject:           m.subject,
		StartedAt:         m.startedAt,
		EndedAt:           time.Now(),
		Entries:           m.entries,
		ErrorCount:        m.errorCount,
		WarningCount:      m.warningCount,
		Autoresponse: domain.AutoresponseDetails{
			Attempted:      autoResult.Attempted,
			Successful:     autoResult.Successful,
			SkipReason:     autoResult.SkipReason,
			TemplateFolder: autoResult.TemplateFolder,
			SubjectLine:    autoResult.SubjectLine,
			ErrorMessage:   autoResult.ErrorMessage,
		},
	})
}
