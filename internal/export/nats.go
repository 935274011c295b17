package export

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"PCIeSpectra/internal/config"
)

// NATSExporter delivers wire entries over a NATS subject. In acknowledged
// mode every entry is a request that must be answered by the host before it
// counts as delivered; in streaming mode entries are published fire-and-
// forget, trading delivery guarantees for liveness.
type NATSExporter struct {
	nc      *nats.Conn
	subject string
	acked   bool
	timeout time.Duration
}

// NewNATSExporter connects to the configured NATS server. acked selects
// request/reply delivery (batch drain) over plain publish (streaming).
func NewNATSExporter(cfg config.NATSConfig, acked bool) (*NATSExporter, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	timeout, err := time.ParseDuration(cfg.AckTimeout)
	if err != nil || timeout <= 0 {
		timeout = 2 * time.Second
	}
	log.Printf("Export channel connected to NATS at %s (subject %s)", cfg.URL, cfg.ExportSubject)
	return &NATSExporter{
		nc:      nc,
		subject: cfg.ExportSubject,
		acked:   acked,
		timeout: timeout,
	}, nil
}

// Send delivers one encoded entry. In acknowledged mode a nil return means
// the host replied; any transport or timeout error surfaces to the drain
// loop for retry.
func (e *NATSExporter) Send(seq uint64, data []byte) error {
	if !e.acked {
		return e.nc.Publish(e.subject, data)
	}
	if _, err := e.nc.Request(e.subject, data, e.timeout); err != nil {
		return fmt.Errorf("host did not acknowledge seq %d: %w", seq, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (e *NATSExporter) Close() {
	if e.nc != nil {
		e.nc.Drain()
	}
}
