package presenter

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	tableCellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

// Table renders a simple aligned table with a styled header row. Used by
// status and listing commands.
func (p *TerminalPresenter) Table(headers []string, rows [][]string) {
	if p.quiet {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder
	for i, h := range headers {
		sb.WriteString(tableHeaderStyle.Render(pad(h, widths[i])))
		sb.WriteString("  ")
	}
	fmt.Fprintln(p.output, sb.String())

	for _, row := range rows {
		var rb strings.Builder
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			rb.WriteString(tableCellStyle.Render(pad(cell, widths[i])))
		}
		fmt.Fprintln(p.output, rb.String())
	}
}

// Table renders a table via the default presenter
func Table(headers []string, rows [][]string) { defaultPresenter.Table(headers, rows) }

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
