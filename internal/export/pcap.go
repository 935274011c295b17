package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"PCIeSpectra/internal/model"
)

// linkTypeTLP is DLT_USER0; each packet body is one wire-format entry, so
// standard pcap tooling can carry captures even though it cannot decode
// them without a dissector.
const linkTypeTLP = layers.LinkType(147)

const pcapSnapLen = 65536

// PcapSink writes drained sessions as pcap files, one file per session,
// named after the session ID.
type PcapSink struct {
	dir string
}

// NewPcapSink ensures the output directory exists.
func NewPcapSink(dir string) (*PcapSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pcap directory: %w", err)
	}
	return &PcapSink{dir: dir}, nil
}

// WriteBatch writes all entries of a drained session to a new pcap file.
// The cycle-counter timestamp is carried as nanoseconds; the host converts
// with the link clock rate.
func (s *PcapSink) WriteBatch(sessionID string, entries []*model.Entry) error {
	f, err := os.Create(filepath.Join(s.dir, sessionID+".pcap"))
	if err != nil {
		return fmt.Errorf("failed to create pcap file: %w", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(pcapSnapLen, linkTypeTLP); err != nil {
		return fmt.Errorf("failed to write pcap header: %w", err)
	}

	for _, e := range entries {
		data := Encode(e)
		var ts time.Time
		if e.Kind == model.EntryRecord {
			ts = time.Unix(0, int64(e.Record.Timestamp))
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			return fmt.Errorf("failed to write pcap record: %w", err)
		}
	}
	return nil
}

// Close is a no-op; each batch owns its file.
func (s *PcapSink) Close() error {
	return nil
}
