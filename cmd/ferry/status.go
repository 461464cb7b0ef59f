package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/bamsammich/ferry/internal/config"
	"github.com/bamsammich/ferry/internal/ledger"
)

const timeLayout = "2006-01-02 15:04:05"

// writeStatus prints one row per mapping in declared order followed by any
// ledger records no current mapping accounts for. format is table, csv or
// markdown.
func writeStatus(w io.Writer, mappings []config.Mapping, records map[string]ledger.Record, format string) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "directory", "state", "updated"})

	var completed int
	known := make(map[string]bool, len(mappings))
	for i, m := range mappings {
		id := ledger.DirID(m.Source)
		known[id] = true
		state, when := "not started", ""
		if rec, ok := records[id]; ok {
			state = string(rec.State)
			when = rec.Updated.Format(timeLayout)
			if rec.State == ledger.Completed {
				completed++
			}
		}
		t.AppendRow(table.Row{i + 1, m.DisplayName(), state, when})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Align: text.AlignRight}})
	if err := render(t, format); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d/%d directories completed\n", completed, len(mappings))

	var orphans []ledger.Record
	for id, rec := range records {
		if !known[id] {
			orphans = append(orphans, rec)
		}
	}
	if len(orphans) == 0 {
		return nil
	}
	slices.SortFunc(orphans, func(a, b ledger.Record) int { return a.Updated.Compare(b.Updated) })
	fmt.Fprintf(w, "%d records not matching any configured mapping:\n", len(orphans))

	o := table.NewWriter()
	o.SetOutputMirror(w)
	o.AppendHeader(table.Row{"id", "state", "updated", "original path"})
	for _, rec := range orphans {
		o.AppendRow(table.Row{rec.ID, string(rec.State), rec.Updated.Format(timeLayout), rec.OriginalPath})
	}
	return render(o, format)
}

func render(t table.Writer, format string) error {
	switch strings.ToLower(format) {
	case "", "table":
		t.SetStyle(table.StyleLight)
		t.Render()
	case "csv":
		t.RenderCSV()
	case "md", "markdown":
		t.RenderMarkdown()
	default:
		return fmt.Errorf("unknown format %q (use table, csv or markdown)", format)
	}
	return nil
}
