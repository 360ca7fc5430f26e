// Package report renders operator-facing tables for the CLI.
package report

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
	"github.com/JakeFAU/mse-history-crawler/internal/runner"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// RunSummary prints the end-of-run counters.
func RunSummary(w io.Writer, s runner.Summary) {
	t := newTable(w)
	t.SetTitle("run " + s.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"entities", len(s.Entities)},
		{"prior checkpoints", s.PriorCheckpoints},
		{"windows fetched", s.Stats.Fetched},
		{"windows skipped", s.Stats.Skipped},
		{"windows deferred", s.Stats.Deferred},
		{"windows abandoned", s.Stats.Abandoned},
		{"fallbacks", s.Stats.Fallbacks},
		{"fetch attempts", s.Stats.Attempts},
		{"rows extracted", s.Stats.Rows},
		{"new checkpoints", s.NewCheckpoints},
		{"records flushed", s.RowsFlushed},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"duration", s.Duration().Round(time.Millisecond).String()})
	t.AppendRow(table.Row{"result", result(s)})
	t.Render()
}

func result(s runner.Summary) string {
	switch {
	case s.FlushErr != nil:
		return "flush failed: " + s.FlushErr.Error()
	case s.Interrupted:
		return "interrupted"
	default:
		return "completed"
	}
}

// Windows prints a window plan, one row per window. Windows ending on or after
// deferFrom are marked deferred; a zero deferFrom marks none.
func Windows(w io.Writer, title string, windows []crawler.Window, deferFrom time.Time) {
	t := newTable(w)
	t.SetTitle(title)
	t.AppendHeader(table.Row{"#", "From", "To", "Status"})
	for i, win := range windows {
		status := "ready"
		if !deferFrom.IsZero() && !win.To.Before(deferFrom) {
			status = "deferred"
		}
		t.AppendRow(table.Row{i + 1, win.FromText(), win.ToText(), status})
	}
	t.Render()
}
