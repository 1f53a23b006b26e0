package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"

	"github.com/agentic-research/vgrid/internal/grouping"
	"github.com/agentic-research/vgrid/internal/row"
)

var (
	headerStyle  = color.New(color.Bold, color.Underline)
	groupStyle   = color.New(color.Bold)
	summaryStyle = color.New(color.Faint, color.Italic)
	pendingStyle = color.New(color.Faint)
)

// renderRows writes rows as a table; start is the index of rows[0].
func renderRows(w io.Writer, rows []row.Row, start int, cols []row.Column, reg *grouping.Registry) {
	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 40

	header := []any{headerStyle.Sprint("#"), headerStyle.Sprint("row")}
	for _, c := range cols {
		header = append(header, headerStyle.Sprint(headerText(c)))
	}
	tbl.AddRow(header...)

	for i, r := range rows {
		cells := []any{start + i, rowLabel(r, len(cols) == 0)}
		for _, c := range cols {
			cells = append(cells, cellText(r, c, reg))
		}
		tbl.AddRow(cells...)
	}
	tbl.RightAlign(0)
	_, _ = fmt.Fprintln(w, tbl)
}

func headerText(c row.Column) string {
	if c.Header != "" {
		return c.Header
	}
	return c.Key
}

// rowLabel renders the tree column. Bare leaves have no other columns and
// show their item inline.
func rowLabel(r row.Row, bare bool) string {
	indent := strings.Repeat("  ", r.Level)
	switch {
	case r.IsPlaceholder:
		return pendingStyle.Sprint(indent + "…")
	case r.Group != nil:
		marker := "▸"
		if r.IsExpanded {
			marker = "▾"
		}
		return groupStyle.Sprintf("%s%s %s (%d)", indent, marker, r.Group.Label, r.Group.ItemCount)
	case r.Summary != nil:
		if r.Summary.Scope == row.ScopeGrid {
			return summaryStyle.Sprint(indent + "Σ total")
		}
		return summaryStyle.Sprint(indent + "Σ")
	}
	marker := " "
	if r.HasChildren {
		marker = "▸"
		if r.IsExpanded {
			marker = "▾"
		}
	}
	if !bare {
		return indent + marker
	}
	item := r.Item
	if d, ok := item.(grouping.Dataer); ok {
		item = d.Data()
	}
	return indent + marker + " " + grouping.KeyText(item)
}

func cellText(r row.Row, c row.Column, reg *grouping.Registry) string {
	switch {
	case r.IsPlaceholder, r.Group != nil:
		return ""
	case r.Summary != nil:
		return summaryStyle.Sprint(r.Summary.Values[c.Key])
	}
	return grouping.FormatValue(reg.Value(c.Key)(r.Item))
}
