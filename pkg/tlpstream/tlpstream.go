// Package tlpstream models the deserialized PCIe symbol stream delivered by
// the interposer's link layer: bytes paired with control (K-symbol) flags,
// annotated with a cycle counter and link status. It also carries the chunk
// wire codec used to move that stream between probe and engine.
package tlpstream

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"PCIeSpectra/internal/model"
)

// 8b/10b control symbols relevant to transaction layer framing.
const (
	KCOM byte = 0xBC // comma, ordered set lead-in
	KSKP byte = 0x1C // skip, clock compensation
	KSTP byte = 0xFB // start of TLP
	KSDP byte = 0x5C // start of DLLP
	KEND byte = 0xFD // good end of packet
	KEDB byte = 0xFE // end bad, nullified TLP
)

// Symbol is one byte of the link stream with its control flag.
type Symbol struct {
	Data byte
	K    bool
}

// Chunk is a run of consecutive symbols as delivered by the transceiver,
// stamped with the cycle counter of its first symbol and the link status at
// that time.
type Chunk struct {
	Cycle   uint64
	Link    model.LinkStatus
	Symbols []Symbol
}

// LCRC computes the link CRC over a framed TLP's bytes (sequence prefix,
// header and payload). PCIe's LCRC uses the IEEE 802.3 polynomial.
func LCRC(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

const chunkHeaderSize = 14

// linkFlagUp is bit 0 of the chunk flag byte.
const linkFlagUp = 0x01

// Encode serializes the chunk into the fixed little-endian layout:
// cycle u64, flags u8, lanes u8, speed u8, reserved u8, count u16,
// data bytes, ctrl bitmask.
func (c *Chunk) Encode() []byte {
	n := len(c.Symbols)
	buf := make([]byte, chunkHeaderSize+n+(n+7)/8)
	binary.LittleEndian.PutUint64(buf[0:8], c.Cycle)
	if c.Link.Up {
		buf[8] = linkFlagUp
	}
	buf[9] = c.Link.Lanes
	buf[10] = c.Link.Speed
	binary.LittleEndian.PutUint16(buf[12:14], uint16(n))
	for i, s := range c.Symbols {
		buf[chunkHeaderSize+i] = s.Data
		if s.K {
			buf[chunkHeaderSize+n+i/8] |= 1 << (i % 8)
		}
	}
	return buf
}

// DecodeChunk parses a chunk previously produced by Encode.
func DecodeChunk(buf []byte) (*Chunk, error) {
	if len(buf) < chunkHeaderSize {
		return nil, fmt.Errorf("chunk too short: %d bytes", len(buf))
	}
	n := int(binary.LittleEndian.Uint16(buf[12:14]))
	if len(buf) < chunkHeaderSize+n+(n+7)/8 {
		return nil, fmt.Errorf("chunk truncated: have %d bytes, need %d", len(buf), chunkHeaderSize+n+(n+7)/8)
	}
	c := &Chunk{
		Cycle: binary.LittleEndian.Uint64(buf[0:8]),
		Link: model.LinkStatus{
			Up:    buf[8]&linkFlagUp != 0,
			Lanes: buf[9],
			Speed: buf[10],
		},
		Symbols: make([]Symbol, n),
	}
	for i := 0; i < n; i++ {
		c.Symbols[i] = Symbol{
			Data: buf[chunkHeaderSize+i],
			K:    buf[chunkHeaderSize+n+i/8]&(1<<(i%8)) != 0,
		}
	}
	return c, nil
}
