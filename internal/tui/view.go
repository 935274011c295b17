package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5F5FD7")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFF7DB")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Margin(0, 1)
)

func (m MonitorModel) View() string {
	title := titleStyle.Render(fmt.Sprintf("PCIeSpectra - Live capture on %s", m.subject))

	stats := fmt.Sprintf("Records: %d\nRate: %.1f rec/s\nInvalid: %d  Overflows: %d",
		m.total, m.rate, m.invalid, m.overflows)
	statsBox := infoStyle.Render(stats)

	tableBox := infoStyle.Render("Recent TLPs\n" + m.table.View())

	body := lipgloss.JoinVertical(lipgloss.Left, title, statsBox, tableBox)
	return body + "\nPress q to quit."
}
