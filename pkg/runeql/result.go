// Package runeql - result tables.
package runeql

import (
	"strconv"
	"strings"
)

// Result is the outcome of one submission: the projection of the last
// RETURN clause (empty columns when the submission only mutates) plus
// mutation counters.
type Result struct {
	Columns []string
	Rows    [][]any
	Stats   Stats
}

// Stats counts the mutations a submission performed.
type Stats struct {
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	PropertiesSet        int
	LabelsRemoved        int
}

func (s Stats) empty() bool { return s == Stats{} }

// Value returns the cell at (row, column name), or nil when out of range.
func (r *Result) Value(row int, column string) any {
	if row < 0 || row >= len(r.Rows) {
		return nil
	}
	for i, name := range r.Columns {
		if name == column {
			return r.Rows[row][i]
		}
	}
	return nil
}

// String renders the result as an aligned text table for the shell.
func (r *Result) String() string {
	if len(r.Columns) == 0 {
		return r.statsLine()
	}

	widths := make([]int, len(r.Columns))
	for i, name := range r.Columns {
		widths[i] = len(name)
	}
	cells := make([][]string, len(r.Rows))
	for ri, row := range r.Rows {
		cells[ri] = make([]string, len(row))
		for ci, v := range row {
			s := formatValue(v)
			cells[ri][ci] = s
			if len(s) > widths[ci] {
				widths[ci] = len(s)
			}
		}
	}

	var sb strings.Builder
	writeRow := func(row []string) {
		sb.WriteString("|")
		for i, cell := range row {
			sb.WriteString(" ")
			sb.WriteString(cell)
			sb.WriteString(strings.Repeat(" ", widths[i]-len(cell)))
			sb.WriteString(" |")
		}
		sb.WriteString("\n")
	}
	rule := func() {
		sb.WriteString("+")
		for _, w := range widths {
			sb.WriteString(strings.Repeat("-", w+2))
			sb.WriteString("+")
		}
		sb.WriteString("\n")
	}

	rule()
	writeRow(r.Columns)
	rule()
	for _, row := range cells {
		writeRow(row)
	}
	rule()

	if stats := r.statsLine(); stats != "" {
		sb.WriteString(stats)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (r *Result) statsLine() string {
	if r.Stats.empty() {
		return ""
	}
	var parts []string
	add := func(n int, what string) {
		if n > 0 {
			parts = append(parts, pluralize(n, what))
		}
	}
	add(r.Stats.NodesCreated, "node created")
	add(r.Stats.NodesDeleted, "node deleted")
	add(r.Stats.RelationshipsCreated, "relationship created")
	add(r.Stats.RelationshipsDeleted, "relationship deleted")
	add(r.Stats.PropertiesSet, "property set")
	add(r.Stats.LabelsRemoved, "label removed")
	return strings.Join(parts, ", ")
}

func pluralize(n int, what string) string {
	if n == 1 {
		return "1 " + what
	}
	// "2 nodes created" from "node created"
	head, tail, _ := strings.Cut(what, " ")
	return strconv.Itoa(n) + " " + head + "s " + tail
}
