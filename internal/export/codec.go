// Package export serializes capture entries into the host wire format and
// moves them to the host: streamed live over NATS while capturing, or
// batch-drained with per-record acknowledgement and retry.
package export

import (
	"encoding/binary"
	"fmt"

	"PCIeSpectra/internal/model"
)

// Wire format constants. Every field is fixed width, little-endian, so the
// host decoder needs no schema.
const (
	wireMagic0  = 0x54 // 'T'
	wireMagic1  = 0x4C // 'L'
	WireVersion = 1

	kindRecord   = 0
	kindOverflow = 1

	flagValid = 0x01
	flagWrite = 0x02
	flag4DW   = 0x04

	recordHeaderSize = 36 // magic..payload length, before payload bytes
	overflowSize     = 36 // fixed: header fields replaced by the gap range
)

// Encode serializes one entry. Layout: magic(2) version(1) kind(1) seq(8)
// timestamp(8); records follow with type(1) flags(1) requester(2) tag(1)
// status(1) address(8) payload-length(2) payload(n); overflow markers follow
// with gap-first(8) gap-last(8). A marker's seq slot carries gap-last, the
// same key the drain resume watermark acknowledges it under.
func Encode(e *model.Entry) []byte {
	if e.Kind == model.EntryOverflow {
		buf := make([]byte, overflowSize)
		buf[0], buf[1], buf[2], buf[3] = wireMagic0, wireMagic1, WireVersion, kindOverflow
		binary.LittleEndian.PutUint64(buf[4:12], e.GapLast)
		binary.LittleEndian.PutUint64(buf[20:28], e.GapFirst)
		binary.LittleEndian.PutUint64(buf[28:36], e.GapLast)
		return buf
	}

	rec := e.Record
	buf := make([]byte, recordHeaderSize+len(rec.Payload))
	buf[0], buf[1], buf[2], buf[3] = wireMagic0, wireMagic1, WireVersion, kindRecord
	binary.LittleEndian.PutUint64(buf[4:12], rec.Seq)
	binary.LittleEndian.PutUint64(buf[12:20], rec.Timestamp)
	buf[20] = byte(rec.Header.Type)
	var flags byte
	if rec.Valid {
		flags |= flagValid
	}
	if rec.Header.IsWrite {
		flags |= flagWrite
	}
	if rec.Header.Is4DW {
		flags |= flag4DW
	}
	buf[21] = flags
	binary.LittleEndian.PutUint16(buf[22:24], rec.Header.RequesterID)
	buf[24] = rec.Header.Tag
	buf[25] = rec.Header.CplStatus
	binary.LittleEndian.PutUint64(buf[26:34], rec.Header.Address)
	binary.LittleEndian.PutUint16(buf[34:36], uint16(len(rec.Payload)))
	copy(buf[recordHeaderSize:], rec.Payload)
	return buf
}

// Decode parses a wire entry produced by Encode. Host-side tooling links
// against this; the engine itself only encodes.
func Decode(buf []byte) (*model.Entry, error) {
	if len(buf) < overflowSize {
		return nil, fmt.Errorf("wire entry too short: %d bytes", len(buf))
	}
	if buf[0] != wireMagic0 || buf[1] != wireMagic1 {
		return nil, fmt.Errorf("bad wire magic %#02x%02x", buf[0], buf[1])
	}
	if buf[2] != WireVersion {
		return nil, fmt.Errorf("unsupported wire version %d", buf[2])
	}

	if buf[3] == kindOverflow {
		return &model.Entry{
			Kind:     model.EntryOverflow,
			GapFirst: binary.LittleEndian.Uint64(buf[20:28]),
			GapLast:  binary.LittleEndian.Uint64(buf[28:36]),
		}, nil
	}

	rec := &model.TLPRecord{
		Seq:       binary.LittleEndian.Uint64(buf[4:12]),
		Timestamp: binary.LittleEndian.Uint64(buf[12:20]),
	}
	flags := buf[21]
	rec.Valid = flags&flagValid != 0
	rec.Header = model.TLPHeader{
		Type:        model.TLPType(buf[20]),
		IsWrite:     flags&flagWrite != 0,
		Is4DW:       flags&flag4DW != 0,
		RequesterID: binary.LittleEndian.Uint16(buf[22:24]),
		Tag:         buf[24],
		CplStatus:   buf[25],
		Address:     binary.LittleEndian.Uint64(buf[26:34]),
	}
	n := int(binary.LittleEndian.Uint16(buf[34:36]))
	if len(buf) < recordHeaderSize+n {
		return nil, fmt.Errorf("wire entry payload truncated: have %d, need %d", len(buf)-recordHeaderSize, n)
	}
	if n > 0 {
		rec.Payload = append([]byte(nil), buf[recordHeaderSize:recordHeaderSize+n]...)
		rec.Header.Length = uint16(n)
	}
	return &model.Entry{Kind: model.EntryRecord, Record: rec}, nil
}
