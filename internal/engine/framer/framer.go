// Package framer reconstructs transaction layer packet boundaries from the
// raw symbol stream delivered by the link layer. It recognizes the STP/SDP
// start symbols and END/EDB terminators, strips the data link sequence
// prefix and LCRC, and emits decoded records in strict arrival order.
// Malformed input never stalls the framer: a broken frame is emitted with
// Valid=false and scanning resumes at the next start symbol.
package framer

import (
	"encoding/binary"
	"fmt"

	"PCIeSpectra/internal/model"
	"PCIeSpectra/pkg/tlpstream"
)

const (
	// DefaultMaxPayload matches the largest payload a PCIe TLP can carry.
	DefaultMaxPayload = 4096

	linkSeqSize = 2
	lcrcSize    = 4
	minHeader   = 12
	maxHeader   = 16
)

type state int

const (
	stateIdle state = iota
	stateTLP
	stateDLLP
)

// Framer is the per-session frame reconstruction state machine. It is not
// safe for concurrent use; the pipeline runs exactly one goroutine through
// it.
type Framer struct {
	state      state
	buf        []byte
	startCycle uint64
	cycle      uint64
	maxFrame   int

	framed    uint64
	malformed uint64
	dllps     uint64
}

// New returns a framer accepting payloads up to maxPayload bytes. Values
// <= 0 fall back to DefaultMaxPayload.
func New(maxPayload int) *Framer {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Framer{maxFrame: linkSeqSize + maxHeader + maxPayload + lcrcSize}
}

// Reset discards any partial frame and zeroes the counters. Called on arm so
// each session starts from a clean framing state.
func (f *Framer) Reset() {
	f.state = stateIdle
	f.buf = f.buf[:0]
	f.framed, f.malformed, f.dllps = 0, 0, 0
}

// Stats returns the framed, malformed and DLLP counters.
func (f *Framer) Stats() (framed, malformed, dllps uint64) {
	return f.framed, f.malformed, f.dllps
}

// Feed consumes one symbol chunk and returns all records completed by it,
// in arrival order. Records for malformed or nullified frames carry
// Valid=false.
func (f *Framer) Feed(c *tlpstream.Chunk) []*model.TLPRecord {
	var out []*model.TLPRecord
	f.cycle = c.Cycle
	for _, sym := range c.Symbols {
		if rec := f.step(sym); rec != nil {
			out = append(out, rec)
		}
		f.cycle++
	}
	return out
}

func (f *Framer) step(sym tlpstream.Symbol) *model.TLPRecord {
	if !sym.K {
		if f.state == stateTLP {
			f.buf = append(f.buf, sym.Data)
			if len(f.buf) > f.maxFrame {
				// Runaway frame, terminator lost. Give up and resync.
				rec := f.finish(false)
				f.state = stateIdle
				return rec
			}
		}
		// Data symbols outside a frame are logical idle; DLLP bodies are
		// skipped wholesale.
		return nil
	}

	switch sym.Data {
	case tlpstream.KSTP:
		var rec *model.TLPRecord
		if f.state == stateTLP {
			rec = f.finish(false) // previous frame truncated
		}
		f.state = stateTLP
		f.buf = f.buf[:0]
		f.startCycle = f.cycle
		return rec
	case tlpstream.KSDP:
		var rec *model.TLPRecord
		if f.state == stateTLP {
			rec = f.finish(false)
		}
		f.state = stateDLLP
		f.dllps++
		return rec
	case tlpstream.KEND:
		switch f.state {
		case stateTLP:
			f.state = stateIdle
			return f.finish(true)
		case stateDLLP:
			f.state = stateIdle
		}
		return nil
	case tlpstream.KEDB:
		if f.state == stateTLP {
			f.state = stateIdle
			return f.finish(false) // nullified by the transmitter
		}
		f.state = stateIdle
		return nil
	case tlpstream.KSKP, tlpstream.KCOM:
		// Clock compensation sets are transparent, even mid-frame.
		return nil
	default:
		if f.state == stateTLP {
			// Unexpected control symbol inside a frame.
			f.state = stateIdle
			return f.finish(false)
		}
		return nil
	}
}

// finish closes the frame being accumulated and builds its record. good
// marks frames terminated by a clean END symbol; everything else is emitted
// with Valid=false.
func (f *Framer) finish(good bool) *model.TLPRecord {
	body := f.buf
	f.buf = f.buf[:0]
	f.framed++

	rec := &model.TLPRecord{Timestamp: f.startCycle}

	if len(body) < linkSeqSize+minHeader+lcrcSize {
		f.malformed++
		return rec
	}

	payloadEnd := len(body) - lcrcSize
	crcOK := binary.LittleEndian.Uint32(body[payloadEnd:]) == tlpstream.LCRC(body[:payloadEnd])

	hdr, hdrSize, err := decodeHeader(body[linkSeqSize:payloadEnd])
	if err != nil {
		f.malformed++
		return rec
	}
	payload := body[linkSeqSize+hdrSize : payloadEnd]
	if len(payload) > 0 {
		rec.Payload = append([]byte(nil), payload...)
		hdr.Length = uint16(len(payload))
	}
	rec.Header = hdr
	rec.Valid = good && crcOK
	if !rec.Valid {
		f.malformed++
	}
	return rec
}

// decodeHeader parses the TLP header fields from the start of b and returns
// the decoded fields and the header size consumed.
func decodeHeader(b []byte) (model.TLPHeader, int, error) {
	var h model.TLPHeader
	if len(b) < minHeader {
		return h, 0, fmt.Errorf("header truncated: %d bytes", len(b))
	}

	fmtBits := b[0] >> 5
	typeBits := b[0] & 0x1F
	hasData := fmtBits&0x2 != 0
	h.Is4DW = fmtBits&0x1 != 0
	h.TrafficClass = b[1] >> 4 & 0x7

	switch {
	case typeBits == 0x00:
		h.Type = model.TLPMemory
	case typeBits == 0x02:
		h.Type = model.TLPIO
	case typeBits == 0x04 || typeBits == 0x05:
		h.Type = model.TLPConfig
	case typeBits == 0x0A || typeBits == 0x0B:
		h.Type = model.TLPCompletion
	case typeBits >= 0x10:
		h.Type = model.TLPMessage
	default:
		return h, 0, fmt.Errorf("unknown TLP type bits %#02x", typeBits)
	}

	size := minHeader
	if h.Is4DW {
		size = maxHeader
	}
	if len(b) < size {
		return h, 0, fmt.Errorf("header truncated: have %d bytes, need %d", len(b), size)
	}

	lenDW := uint16(b[2]&0x3)<<8 | uint16(b[3])
	if lenDW == 0 && h.Type != model.TLPMessage {
		// The 10-bit length field encodes 1024 DW as zero. Messages without
		// data leave the field reserved, so they are exempt.
		lenDW = 1024
	}

	if h.Type == model.TLPCompletion {
		h.CplStatus = b[6] >> 5
		h.RequesterID = binary.BigEndian.Uint16(b[8:10])
		h.Tag = b[10]
		h.Address = uint64(b[11] & 0x7F)
		if !hasData {
			h.Length = uint16(b[7])
		}
		return h, size, nil
	}

	h.IsWrite = hasData
	h.RequesterID = binary.BigEndian.Uint16(b[4:6])
	h.Tag = b[6]
	if h.Is4DW {
		h.Address = binary.BigEndian.Uint64(b[8:16]) &^ 3
	} else {
		h.Address = uint64(binary.BigEndian.Uint32(b[8:12]) &^ 3)
	}
	if !hasData {
		h.Length = lenDW * 4
	}
	return h, size, nil
}
