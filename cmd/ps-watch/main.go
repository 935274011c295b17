package main

import (
	"flag"
	"log"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nats-io/nats.go"

	"PCIeSpectra/internal/config"
	"PCIeSpectra/internal/export"
	"PCIeSpectra/internal/tui"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the engine config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	nc, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	m := tui.NewMonitorModel(cfg.NATS.ExportSubject)
	p := tea.NewProgram(m, tea.WithAltScreen())

	sub, err := nc.Subscribe(cfg.NATS.ExportSubject, func(msg *nats.Msg) {
		entry, err := export.Decode(msg.Data)
		if err != nil {
			return
		}
		// Batch drains expect an acknowledgement; answer so a drain can
		// complete while being watched.
		if msg.Reply != "" {
			msg.Respond([]byte("ok"))
		}
		p.Send(tui.EntryMsg{Entry: entry})
	})
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if _, err := p.Run(); err != nil {
		log.Printf("Error running TUI: %v", err)
	}
}
