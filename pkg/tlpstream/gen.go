package tlpstream

import (
	"encoding/binary"

	"PCIeSpectra/internal/model"
)

// Generator produces well-formed framed TLPs as symbol runs. It tracks the
// data link sequence number prefix so generated streams look like a live
// link. Used by the stream generator tool and by tests.
type Generator struct {
	linkSeq uint16
}

// NewGenerator returns a generator starting at link sequence 0.
func NewGenerator() *Generator {
	return &Generator{}
}

func headerFmtByte(h *model.TLPHeader, hasData bool) byte {
	var fmtBits byte
	if hasData {
		fmtBits |= 0x2
	}
	if h.Is4DW {
		fmtBits |= 0x1
	}
	var typeBits byte
	switch h.Type {
	case model.TLPMemory:
		typeBits = 0x00
	case model.TLPIO:
		typeBits = 0x02
	case model.TLPConfig:
		typeBits = 0x04
	case model.TLPCompletion:
		typeBits = 0x0A
	case model.TLPMessage:
		typeBits = 0x10
		fmtBits |= 0x1 // messages always use the 4DW header
	}
	return fmtBits<<5 | typeBits
}

// EncodeHeader lays out the TLP header bytes for the given decoded fields.
// 3DW headers are 12 bytes, 4DW headers 16.
func EncodeHeader(h *model.TLPHeader, payloadLen int) []byte {
	size := 12
	if h.Is4DW || h.Type == model.TLPMessage {
		size = 16
	}
	buf := make([]byte, size)
	buf[0] = headerFmtByte(h, payloadLen > 0)
	buf[1] = h.TrafficClass << 4 & 0x70
	lenDW := (int(h.Length) + 3) / 4
	if payloadLen > 0 {
		lenDW = (payloadLen + 3) / 4
	}
	buf[2] = byte(lenDW >> 8 & 0x3)
	buf[3] = byte(lenDW)
	if h.Type == model.TLPCompletion {
		// Completer ID, status, byte count, then requester ID and tag.
		binary.BigEndian.PutUint16(buf[4:6], 0x0100)
		buf[6] = h.CplStatus << 5
		buf[7] = byte(h.Length)
		binary.BigEndian.PutUint16(buf[8:10], h.RequesterID)
		buf[10] = h.Tag
		buf[11] = byte(h.Address & 0x7F)
		return buf
	}
	binary.BigEndian.PutUint16(buf[4:6], h.RequesterID)
	buf[6] = h.Tag
	buf[7] = 0xFF // byte enables
	if size == 16 {
		binary.BigEndian.PutUint64(buf[8:16], h.Address&^uint64(3))
	} else {
		binary.BigEndian.PutUint32(buf[8:12], uint32(h.Address)&^uint32(3))
	}
	return buf
}

// Frame wraps a header and payload in STP/END delimiters with the link
// sequence prefix and a valid LCRC, advancing the generator's link sequence.
func (g *Generator) Frame(h *model.TLPHeader, payload []byte) []Symbol {
	body := make([]byte, 0, 2+16+len(payload)+4)
	body = append(body, byte(g.linkSeq>>8&0x0F), byte(g.linkSeq))
	g.linkSeq = (g.linkSeq + 1) & 0x0FFF
	body = append(body, EncodeHeader(h, len(payload))...)
	body = append(body, payload...)

	var lcrc [4]byte
	binary.LittleEndian.PutUint32(lcrc[:], LCRC(body))

	syms := make([]Symbol, 0, len(body)+6)
	syms = append(syms, Symbol{Data: KSTP, K: true})
	for _, b := range body {
		syms = append(syms, Symbol{Data: b})
	}
	for _, b := range lcrc {
		syms = append(syms, Symbol{Data: b})
	}
	syms = append(syms, Symbol{Data: KEND, K: true})
	return syms
}

// MemWrite frames a 3DW memory write request.
func (g *Generator) MemWrite(addr uint64, requester uint16, tag uint8, payload []byte) []Symbol {
	return g.Frame(&model.TLPHeader{
		Type:        model.TLPMemory,
		IsWrite:     true,
		RequesterID: requester,
		Tag:         tag,
		Address:     addr,
	}, payload)
}

// MemRead frames a 3DW memory read request for length bytes.
func (g *Generator) MemRead(addr uint64, requester uint16, tag uint8, length uint16) []Symbol {
	return g.Frame(&model.TLPHeader{
		Type:        model.TLPMemory,
		RequesterID: requester,
		Tag:         tag,
		Address:     addr,
		Length:      length,
	}, nil)
}

// Completion frames a completion with data for the given requester/tag.
func (g *Generator) Completion(requester uint16, tag uint8, status uint8, payload []byte) []Symbol {
	return g.Frame(&model.TLPHeader{
		Type:        model.TLPCompletion,
		RequesterID: requester,
		Tag:         tag,
		CplStatus:   status,
	}, payload)
}

// DLLP frames a 6-byte data link layer packet. The capture engine skips
// these, but real streams are full of them.
func (g *Generator) DLLP() []Symbol {
	syms := make([]Symbol, 0, 8)
	syms = append(syms, Symbol{Data: KSDP, K: true})
	for i := 0; i < 6; i++ {
		syms = append(syms, Symbol{Data: byte(i)})
	}
	syms = append(syms, Symbol{Data: KEND, K: true})
	return syms
}

// Idle returns n logical-idle data symbols.
func Idle(n int) []Symbol {
	return make([]Symbol, n)
}

// SkipSet returns a COM+SKP clock compensation ordered set.
func SkipSet() []Symbol {
	return []Symbol{
		{Data: KCOM, K: true},
		{Data: KSKP, K: true},
		{Data: KSKP, K: true},
		{Data: KSKP, K: true},
	}
}
