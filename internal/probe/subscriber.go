package probe

import (
	"log"

	"github.com/nats-io/nats.go"

	"PCIeSpectra/internal/config"
	"PCIeSpectra/pkg/tlpstream"
)

// ChunkHandler is a function that processes a received symbol chunk.
type ChunkHandler func(chunk *tlpstream.Chunk)

// Subscriber receives symbol chunks published by a probe and hands them to
// the pipeline.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber creates a new NATS chunk subscriber.
func NewSubscriber(cfg config.NATSConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Subscriber{nc: nc, subject: cfg.ChunkSubject}, nil
}

// Start subscribes and processes messages with the provided handler. Decode
// errors are logged and the message dropped; a corrupt chunk must not stop
// the stream.
func (s *Subscriber) Start(handler ChunkHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		chunk, err := tlpstream.DecodeChunk(msg.Data)
		if err != nil {
			log.Printf("Error decoding chunk: %v", err)
			return
		}
		handler(chunk)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for chunks...", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}
