// Package export renders the audit ledger as a PDF document.
package export

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/oriphim/watcher/internal/verdict"
)

const (
	DefaultTitle = "Watcher Audit Report"
	EmptyLedger  = "No audit events found."
	lineLimit    = 120
)

// AuditPDF writes one line per event, "[created_at] event_type: message",
// each cut to 120 characters, under a title stamped with now in UTC.
func AuditPDF(w io.Writer, title string, events []verdict.AuditEvent, now time.Time) error {
	if title == "" {
		title = DefaultTitle
	}

	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("watcher", true)
	pdf.SetAutoPageBreak(true, 60)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 20, tr(title+" - "+now.UTC().Format(time.RFC3339)), "", 1, "L", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 10)
	lines := Lines(events)
	if len(lines) == 0 {
		lines = []string{EmptyLedger}
	}
	for _, line := range lines {
		pdf.CellFormat(0, 16, tr(line), "", 1, "L", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render audit pdf: %w", err)
	}
	return nil
}

// AuditPDFBytes is AuditPDF into memory.
func AuditPDFBytes(title string, events []verdict.AuditEvent, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := AuditPDF(&buf, title, events, now); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Lines formats events in ledger order.
func Lines(events []verdict.AuditEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		line := fmt.Sprintf("[%s] %s: %s", ev.CreatedAt.UTC().Format(time.RFC3339), ev.EventType, ev.Message)
		out = append(out, cut(line, lineLimit))
	}
	return out
}

func cut(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
