package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"PCIeSpectra/internal/model"
)

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case EntryMsg:
		m.total++
		if msg.Entry.Kind == model.EntryOverflow {
			m.overflows++
		} else if !msg.Entry.Record.Valid {
			m.invalid++
		}
		m.entries = append(m.entries, msg.Entry)
		if len(m.entries) > maxRows {
			m.entries = m.entries[len(m.entries)-maxRows:]
		}
		m.table.SetRows(m.rows())
		return m, nil

	case TickMsg:
		now := time.Time(msg)
		elapsed := now.Sub(m.lastTick).Seconds()
		if elapsed > 0 {
			m.rate = float64(m.total-m.lastCount) / elapsed
		}
		m.lastCount = m.total
		m.lastTick = now
		return m, tickCmd()
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m MonitorModel) rows() []table.Row {
	rows := make([]table.Row, len(m.entries))
	for i, e := range m.entries {
		if e.Kind == model.EntryOverflow {
			rows[i] = table.Row{
				fmt.Sprintf("%d", e.GapFirst), "-", "OVFL", "-", "-",
				fmt.Sprintf("lost %d-%d", e.GapFirst, e.GapLast), "-", "-",
			}
			continue
		}
		rec := e.Record
		valid := "yes"
		if !rec.Valid {
			valid = "NO"
		}
		rows[i] = table.Row{
			fmt.Sprintf("%d", rec.Seq),
			fmt.Sprintf("%d", rec.Timestamp),
			rec.Header.Type.String(),
			fmt.Sprintf("%04x", rec.Header.RequesterID),
			fmt.Sprintf("%d", rec.Header.Tag),
			fmt.Sprintf("0x%012x", rec.Header.Address),
			fmt.Sprintf("%d", len(rec.Payload)),
			valid,
		}
	}
	return rows
}
