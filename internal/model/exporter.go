package model

// Exporter delivers a single encoded capture entry to the host. Send must
// not return nil unless the host has acknowledged the entry; the drain loop
// relies on this to resume from the last acknowledged sequence number after
// a failure.
type Exporter interface {
	Send(seq uint64, data []byte) error
	Close()
}

// Sink persists a fully drained batch of capture entries, e.g. to a capture
// file or a database. Sinks run after host export and are best-effort.
type Sink interface {
	WriteBatch(sessionID string, entries []*Entry) error
	Close() error
}
