// Package cliutil holds small terminal-output helpers shared by cconnectctl
// subcommands: column-aligned tables and color helpers that degrade when
// stdout isn't a terminal.
package cliutil

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// Table prints column-aligned rows, computing each column's width from its
// header and all rows before writing anything.
type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

func (t *Table) Row(values ...string) {
	t.rows = append(t.rows, values)
}

// Flush writes the accumulated rows to stdout. A table with no rows prints
// nothing, not an empty header.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, v := range row {
			if i < len(widths) && len(v) > widths[i] {
				widths[i] = len(v)
			}
		}
	}

	print := func(row []string) {
		parts := make([]string, len(widths))
		for i, w := range widths {
			val := ""
			if i < len(row) {
				val = row[i]
			}
			parts[i] = val + strings.Repeat(" ", w-len(val))
		}
		fmt.Fprintln(os.Stdout, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	print(t.headers)
	dividers := make([]string, len(t.headers))
	for i, w := range widths {
		dividers[i] = strings.Repeat("-", w)
	}
	print(dividers)
	for _, row := range t.rows {
		print(row)
	}
}

// IsTerminal reports whether stdout is an interactive terminal, for callers
// that want to skip color codes or table framing when piped.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func colorize(code, s string) string {
	if !IsTerminal() {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func Green(s string) string  { return colorize("32", s) }
func Yellow(s string) string { return colorize("33", s) }
func Red(s string) string    { return colorize("31", s) }
