package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriphim/watcher/internal/verdict"
)

func TestLinesFormatAndCut(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	events := []verdict.AuditEvent{
		{EventType: "EXECUTION_BLOCKED", Message: "short", CreatedAt: at},
		{EventType: "EXECUTION_BLOCKED", Message: strings.Repeat("m", 300), CreatedAt: at},
	}
	lines := Lines(events)
	require.Len(t, lines, 2)
	assert.Equal(t, "[2026-03-04T05:06:07Z] EXECUTION_BLOCKED: short", lines[0])
	assert.Len(t, []rune(lines[1]), lineLimit)
}

func TestAuditPDFProducesDocument(t *testing.T) {
	now := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	events := make([]verdict.AuditEvent, 0, 80)
	for i := 0; i < 80; i++ {
		events = append(events, verdict.AuditEvent{
			EventType: "EXECUTION_BLOCKED",
			Message:   "Execution blocked due to constraint violation: Leverage ratio exceeds hard limit. Context reset required.",
			CreatedAt: now,
		})
	}
	data, err := AuditPDFBytes("", events, now)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	assert.True(t, bytes.Contains(data, []byte("%%EOF")))
}

func TestAuditPDFEmptyLedger(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, AuditPDF(&buf, "Ledger", nil, time.Now()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}
