// Package report renders run and audit results as terminal tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/roundup-crawler/internal/audit"
	"github.com/JakeFAU/roundup-crawler/internal/processor"
	"github.com/JakeFAU/roundup-crawler/internal/roundup"
)

func newWriter(w io.Writer, title string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(title)
	return tw
}

// Run writes the summary of a finished run.
func Run(w io.Writer, s processor.Summary) {
	tw := newWriter(w, "Roundup run "+s.RunID)
	tw.AppendHeader(table.Row{"Metric", "Value"})
	tw.AppendRows([]table.Row{
		{"Status", status(s)},
		{"Pending", s.Pending},
		{"Processed", s.Processed},
		{"Errored", s.Errored},
		{"Remaining", s.Remaining},
		{"Links fetched", s.LinksFetched},
		{"Links failed", s.LinksFailed},
		{"Workers created", s.WorkersCreated},
		{"Worker rotations", s.Rotations},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	tw.Render()
}

// Audit writes per-bias counts of unusable entries.
func Audit(w io.Writer, rep audit.Report) {
	tw := newWriter(w, fmt.Sprintf("Article audit (%d records)", rep.Records))
	tw.AppendHeader(table.Row{"Bias", "Flagged", "Total", "Share"})
	for _, bias := range roundup.Biases {
		c := rep.ByBias[bias]
		tw.AppendRow(table.Row{string(bias), c.Flagged, c.Total, percent(c)})
	}
	tw.AppendFooter(table.Row{"all", rep.Total.Flagged, rep.Total.Total, percent(rep.Total)})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 3, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 4, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	tw.Render()

	if len(rep.ByPrefix) == 0 {
		return
	}
	prefixes := make([]string, 0, len(rep.ByPrefix))
	for p := range rep.ByPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if rep.ByPrefix[prefixes[i]] != rep.ByPrefix[prefixes[j]] {
			return rep.ByPrefix[prefixes[i]] > rep.ByPrefix[prefixes[j]]
		}
		return prefixes[i] < prefixes[j]
	})
	pw := newWriter(w, "Flagged by prefix")
	pw.AppendHeader(table.Row{"Prefix", "Count"})
	for _, p := range prefixes {
		pw.AppendRow(table.Row{p, rep.ByPrefix[p]})
	}
	pw.Render()
}

func status(s processor.Summary) string {
	switch {
	case s.Aborted:
		return "aborted"
	case s.Interrupted:
		return "interrupted"
	default:
		return "complete"
	}
}

func percent(c audit.Counts) string {
	return fmt.Sprintf("%.1f%%", c.Ratio()*100)
}
