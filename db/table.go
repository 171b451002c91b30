package db

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/w4cha/csv-manager/core"
)

// SimpleTable renders rows as an ASCII grid. Aggregate summaries go in a
// block of their own below the rows, since their shape differs from the
// header. Rows may be shorter or longer than the header. Numeric cells are
// right-aligned.
type SimpleTable struct {
	writer  io.Writer
	header  []string
	rows    [][]string
	summary [][]string
}

func NewTable(w io.Writer) *SimpleTable {
	return &SimpleTable{writer: w}
}

func (t *SimpleTable) Header(header []string) {
	t.header = header
}

func (t *SimpleTable) Row(row []string) {
	t.rows = append(t.rows, row)
}

func (t *SimpleTable) Bulk(rows [][]string) {
	t.rows = append(t.rows, rows...)
}

// Summary adds rows such as ["COUNT", "3"] or ["SUM", "AGE", "152.0"].
func (t *SimpleTable) Summary(rows ...[]string) {
	t.summary = append(t.summary, rows...)
}

func (t *SimpleTable) Render() {
	if len(t.header) > 0 || len(t.rows) > 0 {
		renderBlock(t.writer, t.header, t.rows)
	}
	if len(t.summary) > 0 {
		renderBlock(t.writer, nil, t.summary)
	}
}

func renderBlock(w io.Writer, header []string, rows [][]string) {
	widths := columnWidths(header, rows)
	separator := separatorLine(widths)

	fmt.Fprintln(w, separator)
	if len(header) > 0 {
		fmt.Fprintln(w, formatRow(header, widths, false))
		fmt.Fprintln(w, separator)
	}
	for _, row := range rows {
		fmt.Fprintln(w, formatRow(row, widths, true))
	}
	fmt.Fprintln(w, separator)
}

// columnWidths returns the display width of every column, at least 1.
func columnWidths(header []string, rows [][]string) []int {
	n := len(header)
	for _, row := range rows {
		n = max(n, len(row))
	}

	widths := make([]int, n)
	for i := range widths {
		widths[i] = 1
	}
	for _, row := range append([][]string{header}, rows...) {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}
	return widths
}

func separatorLine(widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("-", w+2)
	}
	return "+" + strings.Join(parts, "+") + "+"
}

func formatRow(row []string, widths []int, alignNumbers bool) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		if _, numeric := core.ParseFloat(cell); alignNumbers && numeric {
			cell = runewidth.FillLeft(cell, w)
		} else {
			cell = runewidth.FillRight(cell, w)
		}
		parts[i] = " " + cell + " "
	}
	return "|" + strings.Join(parts, "|") + "|"
}
