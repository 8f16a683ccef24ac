package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	evenRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	oddRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E0E0E0"))

	// Cell colors keyed by migration state.
	stateStyles = map[string]lipgloss.Style{
		"verified": lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		"skipped":  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500")),
		"failed":   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
	}
)

// Table represents a table with headers and rows
type Table struct {
	Headers []string
	Rows    [][]string
	// StateColumn is colored by value when >= 0.
	StateColumn int
}

// NewTable creates a new table
func NewTable(headers ...string) *Table {
	return &Table{
		Headers:     headers,
		Rows:        make([][]string, 0),
		StateColumn: -1,
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

func (t *Table) widths() []int {
	colWidths := make([]int, len(t.Headers))
	for i, header := range t.Headers {
		colWidths[i] = lipgloss.Width(header)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(colWidths) && lipgloss.Width(cell) > colWidths[i] {
				colWidths[i] = lipgloss.Width(cell)
			}
		}
	}
	return colWidths
}

// Render renders the table with colors.
func (t *Table) Render() string {
	if len(t.Headers) == 0 {
		return ""
	}
	colWidths := t.widths()

	var sb strings.Builder
	for i, header := range t.Headers {
		sb.WriteString(headerStyle.Render(padRight(header, colWidths[i])))
		if i < len(t.Headers)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("\n")

	for rowIdx, row := range t.Rows {
		rowStyle := evenRowStyle
		if rowIdx%2 == 1 {
			rowStyle = oddRowStyle
		}

		for i, cell := range row {
			if i >= len(colWidths) {
				break
			}
			style := rowStyle
			if i == t.StateColumn {
				if s, ok := stateStyles[cell]; ok {
					style = s
				}
			}
			sb.WriteString(style.Render(cellStyle.Render(padRight(cell, colWidths[i]))))
			if i < len(row)-1 {
				sb.WriteString(" ")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// RenderSimple renders a plain table for logs and non-terminal output.
func (t *Table) RenderSimple() string {
	if len(t.Headers) == 0 {
		return ""
	}
	colWidths := t.widths()

	var sb strings.Builder
	writeRow := func(cells []string) {
		var line strings.Builder
		for i := range colWidths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i > 0 {
				line.WriteString("  ")
			}
			line.WriteString(padRight(cell, colWidths[i]))
		}
		sb.WriteString(strings.TrimRight(line.String(), " "))
		sb.WriteString("\n")
	}

	writeRow(t.Headers)
	rule := make([]string, len(colWidths))
	for i, w := range colWidths {
		rule[i] = strings.Repeat("-", w)
	}
	writeRow(rule)
	for _, row := range t.Rows {
		writeRow(row)
	}

	return sb.String()
}

// Print writes the table to Out, styled only on a terminal.
func (t *Table) Print(styled bool) {
	if styled {
		fmt.Fprint(Out, t.Render())
		return
	}
	fmt.Fprint(Out, t.RenderSimple())
}

// padRight pads a string to the right with spaces
func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}
