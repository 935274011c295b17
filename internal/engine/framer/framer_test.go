package framer

import (
	"testing"

	"PCIeSpectra/internal/model"
	"PCIeSpectra/pkg/tlpstream"
)

func feed(f *Framer, syms []tlpstream.Symbol) []*model.TLPRecord {
	return f.Feed(&tlpstream.Chunk{
		Link:    model.LinkStatus{Up: true, Lanes: 1, Speed: 1},
		Symbols: syms,
	})
}

func TestFrameMemWrite(t *testing.T) {
	gen := tlpstream.NewGenerator()
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}
	syms := gen.MemWrite(0x1000, 0x0100, 7, payload)

	f := New(0)
	recs := feed(f, syms)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if !rec.Valid {
		t.Fatal("Expected a valid record")
	}
	h := rec.Header
	if h.Type != model.TLPMemory || !h.IsWrite {
		t.Errorf("Expected a memory write, got type=%s write=%v", h.Type, h.IsWrite)
	}
	if h.Address != 0x1000 {
		t.Errorf("Address mismatch: got %#x, want 0x1000", h.Address)
	}
	if h.RequesterID != 0x0100 || h.Tag != 7 {
		t.Errorf("Requester/tag mismatch: got %04x/%d", h.RequesterID, h.Tag)
	}
	if len(rec.Payload) != len(payload) {
		t.Fatalf("Payload length mismatch: got %d, want %d", len(rec.Payload), len(payload))
	}
	for i := range payload {
		if rec.Payload[i] != payload[i] {
			t.Fatalf("Payload byte %d mismatch", i)
		}
	}
}

func TestFrameMemRead(t *testing.T) {
	gen := tlpstream.NewGenerator()
	syms := gen.MemRead(0x2000, 0x0203, 11, 64)

	f := New(0)
	recs := feed(f, syms)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if !rec.Valid {
		t.Fatal("Expected a valid record")
	}
	if rec.Header.IsWrite {
		t.Error("Read request decoded as a write")
	}
	if rec.Header.Length != 64 {
		t.Errorf("Request length mismatch: got %d, want 64", rec.Header.Length)
	}
	if len(rec.Payload) != 0 {
		t.Errorf("Read request should carry no payload, got %d bytes", len(rec.Payload))
	}
}

// A length field of zero encodes the maximum request size of 1024 DW.
func TestMaxLengthReadDecodesAs1024DW(t *testing.T) {
	gen := tlpstream.NewGenerator()
	syms := gen.MemRead(0x4000, 0x0100, 1, 4096)

	f := New(0)
	recs := feed(f, syms)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if !recs[0].Valid {
		t.Fatal("Expected a valid record")
	}
	if recs[0].Header.Length != 4096 {
		t.Errorf("Request length mismatch: got %d, want 4096", recs[0].Header.Length)
	}
}

func TestFrameCompletion(t *testing.T) {
	gen := tlpstream.NewGenerator()
	syms := gen.Completion(0x0405, 3, 0, []byte{1, 2, 3, 4})

	f := New(0)
	recs := feed(f, syms)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if !rec.Valid || rec.Header.Type != model.TLPCompletion {
		t.Fatalf("Expected a valid completion, got valid=%v type=%s", rec.Valid, rec.Header.Type)
	}
	if rec.Header.RequesterID != 0x0405 || rec.Header.Tag != 3 {
		t.Errorf("Requester/tag mismatch: got %04x/%d", rec.Header.RequesterID, rec.Header.Tag)
	}
	if rec.Header.CplStatus != 0 {
		t.Errorf("Completion status mismatch: got %d, want 0", rec.Header.CplStatus)
	}
}

func TestBadLCRCMarksInvalid(t *testing.T) {
	gen := tlpstream.NewGenerator()
	syms := gen.MemWrite(0x1000, 0x0100, 1, []byte{1, 2, 3, 4})
	syms[len(syms)/2].Data ^= 0xFF // flip a body byte

	f := New(0)
	recs := feed(f, syms)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if recs[0].Valid {
		t.Error("Record with a corrupted body should be invalid")
	}
	_, malformed, _ := f.Stats()
	if malformed != 1 {
		t.Errorf("Expected 1 malformed frame, got %d", malformed)
	}
}

func TestNullifiedFrameMarksInvalid(t *testing.T) {
	gen := tlpstream.NewGenerator()
	syms := gen.MemWrite(0x1000, 0x0100, 1, []byte{1, 2, 3, 4})
	syms[len(syms)-1] = tlpstream.Symbol{Data: tlpstream.KEDB, K: true}

	f := New(0)
	recs := feed(f, syms)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if recs[0].Valid {
		t.Error("Nullified frame should be invalid")
	}
}

// Malformed runs must never stall framing: interleaving corrupted frames
// with good ones yields exactly the good records, in order, plus
// invalid-marked entries for the bad runs.
func TestCorruptRunsDoNotStallFraming(t *testing.T) {
	gen := tlpstream.NewGenerator()

	var syms []tlpstream.Symbol
	tags := []uint8{1, 2, 3}
	for i, tag := range tags {
		syms = append(syms, gen.MemWrite(0x1000, 0x0100, tag, []byte{1, 2, 3, 4})...)
		if i < 2 {
			// A truncated frame: start symbol, a few bytes, no terminator
			// before the next frame begins.
			syms = append(syms, tlpstream.Symbol{Data: tlpstream.KSTP, K: true})
			syms = append(syms, tlpstream.Idle(5)...)
		}
	}

	f := New(0)
	recs := feed(f, syms)

	var valid, invalid []*model.TLPRecord
	for _, r := range recs {
		if r.Valid {
			valid = append(valid, r)
		} else {
			invalid = append(invalid, r)
		}
	}
	if len(valid) != len(tags) {
		t.Fatalf("Expected %d valid records, got %d", len(tags), len(valid))
	}
	for i, tag := range tags {
		if valid[i].Header.Tag != tag {
			t.Errorf("Valid record %d out of order: got tag %d, want %d", i, valid[i].Header.Tag, tag)
		}
	}
	if len(invalid) != 2 {
		t.Errorf("Expected 2 invalid entries for the corrupted runs, got %d", len(invalid))
	}
}

func TestDLLPsAreSkipped(t *testing.T) {
	gen := tlpstream.NewGenerator()
	var syms []tlpstream.Symbol
	syms = append(syms, gen.DLLP()...)
	syms = append(syms, gen.MemWrite(0x1000, 0x0100, 1, []byte{1, 2, 3, 4})...)
	syms = append(syms, gen.DLLP()...)

	f := New(0)
	recs := feed(f, syms)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	_, _, dllps := f.Stats()
	if dllps != 2 {
		t.Errorf("Expected 2 DLLPs skipped, got %d", dllps)
	}
}

func TestSkipSetsTransparentMidFrame(t *testing.T) {
	gen := tlpstream.NewGenerator()
	frame := gen.MemWrite(0x1000, 0x0100, 9, []byte{1, 2, 3, 4})
	// Inject a clock compensation set in the middle of the frame.
	mid := len(frame) / 2
	var syms []tlpstream.Symbol
	syms = append(syms, frame[:mid]...)
	syms = append(syms, tlpstream.SkipSet()...)
	syms = append(syms, frame[mid:]...)

	f := New(0)
	recs := feed(f, syms)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if !recs[0].Valid {
		t.Error("Skip set inside a frame should not corrupt it")
	}
}

func TestTimestampIsStartCycle(t *testing.T) {
	gen := tlpstream.NewGenerator()
	var syms []tlpstream.Symbol
	syms = append(syms, tlpstream.Idle(10)...)
	syms = append(syms, gen.MemWrite(0x1000, 0x0100, 1, []byte{1, 2, 3, 4})...)

	f := New(0)
	recs := f.Feed(&tlpstream.Chunk{
		Cycle:   1000,
		Link:    model.LinkStatus{Up: true},
		Symbols: syms,
	})
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if recs[0].Timestamp != 1010 {
		t.Errorf("Timestamp mismatch: got %d, want 1010", recs[0].Timestamp)
	}
}

func TestFrameSplitAcrossChunks(t *testing.T) {
	gen := tlpstream.NewGenerator()
	frame := gen.MemWrite(0x1000, 0x0100, 1, []byte{1, 2, 3, 4})
	mid := len(frame) / 2

	f := New(0)
	recs := f.Feed(&tlpstream.Chunk{Cycle: 0, Link: model.LinkStatus{Up: true}, Symbols: frame[:mid]})
	if len(recs) != 0 {
		t.Fatalf("Expected no record from a partial frame, got %d", len(recs))
	}
	recs = f.Feed(&tlpstream.Chunk{Cycle: uint64(mid), Link: model.LinkStatus{Up: true}, Symbols: frame[mid:]})
	if len(recs) != 1 || !recs[0].Valid {
		t.Fatalf("Expected 1 valid record after the second chunk, got %+v", recs)
	}
}

func TestResetDiscardsPartialFrame(t *testing.T) {
	gen := tlpstream.NewGenerator()
	frame := gen.MemWrite(0x1000, 0x0100, 1, []byte{1, 2, 3, 4})

	f := New(0)
	f.Feed(&tlpstream.Chunk{Link: model.LinkStatus{Up: true}, Symbols: frame[:len(frame)/2]})
	f.Reset()
	recs := f.Feed(&tlpstream.Chunk{Link: model.LinkStatus{Up: true}, Symbols: frame[len(frame)/2:]})
	if len(recs) != 0 {
		t.Fatalf("Expected no record after reset, got %d", len(recs))
	}
	framed, _, _ := f.Stats()
	if framed != 0 {
		t.Errorf("Expected counters reset, framed=%d", framed)
	}
}
