package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"navigatum_sync/internal/app"
	"navigatum_sync/internal/domain"
)

// maxListed bounds the keys shown per category in the table view.
const maxListed = 10

func printStatus(w io.Writer, rep app.StatusReport, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Category", "Count", "Keys"})
	for _, c := range []struct {
		name string
		keys []domain.RecordKey
	}{
		{"changed", rep.Changed},
		{"added", rep.Added},
		{"unchanged", rep.Unchanged},
		{"orphaned", rep.Orphaned},
	} {
		t.AppendRow(table.Row{c.name, len(c.keys), listKeys(c.keys)})
	}
	t.AppendFooter(table.Row{"upstream / stored", fmt.Sprintf("%d / %d", rep.Upstream, rep.Stored), ""})
	t.Render()
	return nil
}

func listKeys(keys []domain.RecordKey) string {
	n := min(len(keys), maxListed)
	parts := make([]string, 0, n+1)
	for _, k := range keys[:n] {
		parts = append(parts, string(k))
	}
	if len(keys) > n {
		parts = append(parts, fmt.Sprintf("(+%d more)", len(keys)-n))
	}
	return strings.Join(parts, ", ")
}
