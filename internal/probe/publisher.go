package probe

import (
	"log"

	"github.com/nats-io/nats.go"

	"PCIeSpectra/internal/config"
	"PCIeSpectra/pkg/tlpstream"
)

// Publisher moves raw symbol chunks from the interposer link to the engine
// over a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS chunk publisher.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, subject: cfg.ChunkSubject}, nil
}

// Publish serializes a chunk and publishes it to the configured subject.
func (p *Publisher) Publish(chunk *tlpstream.Chunk) error {
	return p.nc.Publish(p.subject, chunk.Encode())
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
