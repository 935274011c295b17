package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"PCIeSpectra/internal/model"
)

const maxRows = 20

// EntryMsg delivers one decoded export entry to the monitor.
type EntryMsg struct {
	Entry *model.Entry
}

// TickMsg drives the periodic rate refresh.
type TickMsg time.Time

// MonitorModel is the live capture monitor fed from the export subject.
type MonitorModel struct {
	subject string
	table   table.Model

	entries   []*model.Entry
	total     uint64
	invalid   uint64
	overflows uint64
	rate      float64
	lastCount uint64
	lastTick  time.Time
}

// NewMonitorModel builds the monitor for the given export subject.
func NewMonitorModel(subject string) MonitorModel {
	columns := []table.Column{
		{Title: "Seq", Width: 8},
		{Title: "Cycle", Width: 12},
		{Title: "Type", Width: 6},
		{Title: "ReqID", Width: 6},
		{Title: "Tag", Width: 5},
		{Title: "Address", Width: 18},
		{Title: "Len", Width: 5},
		{Title: "Valid", Width: 5},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(maxRows),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return MonitorModel{
		subject:  subject,
		table:    t,
		lastTick: time.Now(),
	}
}

// Init starts the refresh ticker.
func (m MonitorModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
