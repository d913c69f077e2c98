package cmd

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	offlineStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("204"))
)

// renderTable draws a bordered table with a bold header row.
func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, r := range rows {
		t.Row(r...)
	}
	return t.String()
}
