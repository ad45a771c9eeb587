package triageengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/apex-triage/internal/autoresponder"
)

func TestMessageLogTracksErrorAndWarningCounts(t *testing.T) {
	m := newMessageLog("p1", "<a@b.com>", "subject")
	m.info("dedupe", "noop")
	m.warn("forward", "retrying")
	m.error("classify", "failed")

	assert.Equal(t, 1, m.warningCount)
	assert.Equal(t, 1, m.errorCount)
	require.Len(t, m.entries, 3)
	assert.Equal(t, "INFO", m.entries[0].Level)
	assert.Equal(t, "WARNING", m.entries[1].Level)
	assert.Equal(t, "ERROR", m.entries[2].Level)
}

func TestMessageLogFlushWritesAutoresponseDetails(t *testing.T) {
	m := newMessageLog("p1", "<a@b.com>", "subject")
	logs := newFakeLogs()

	m.flush(context.Background(), logs, autoresponder.Result{
		Attempted: true, Successful: true, TemplateFolder: "claims", SubjectLine: "Auto Response",
	})

	require.Len(t, logs.insertedSysLogs, 1)
	row := logs.insertedSysLogs[0]
	assert.Equal(t, "p1", row.EmailID)
	assert.Equal(t, "<a@b.com>", row.InternetMessageID)
	assert.True(t, row.Autoresponse.Successful)
	assert.Equal(t, "claims", row.Autoresponse.TemplateFolder)
}
