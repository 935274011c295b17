package main

import (
	"flag"
	"log"
	"math/rand"

	"PCIeSpectra/internal/model"
	"PCIeSpectra/pkg/tlpstream"
)

// tlpgen generates a synthetic TLP symbol stream file for replay and bench
// runs: a mix of memory traffic, completions, DLLPs, skip sets and
// optionally corrupted frames.
func main() {
	outputFile := flag.String("o", "test.tlps", "Output stream file path")
	tlpCount := flag.Int("c", 1000, "Number of TLPs to generate")
	corruptEvery := flag.Int("corrupt", 0, "Corrupt every Nth TLP (0 disables)")
	chunkSyms := flag.Int("chunk", 256, "Symbols per chunk")
	seed := flag.Int64("seed", 1, "PRNG seed")
	flag.Parse()

	w, err := tlpstream.NewFileWriter(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer w.Close()

	rng := rand.New(rand.NewSource(*seed))
	gen := tlpstream.NewGenerator()

	var syms []tlpstream.Symbol
	var cycle uint64

	flush := func(force bool) {
		for len(syms) >= *chunkSyms || (force && len(syms) > 0) {
			n := *chunkSyms
			if n > len(syms) {
				n = len(syms)
			}
			chunk := &tlpstream.Chunk{
				Cycle:   cycle,
				Link:    model.LinkStatus{Up: true, Lanes: 1, Speed: 1},
				Symbols: syms[:n],
			}
			if err := w.WriteChunk(chunk); err != nil {
				log.Fatalf("Failed to write chunk: %v", err)
			}
			cycle += uint64(n)
			syms = syms[n:]
		}
	}

	log.Printf("Generating %d TLPs into %s...", *tlpCount, *outputFile)
	for i := 0; i < *tlpCount; i++ {
		if rng.Intn(4) == 0 {
			syms = append(syms, tlpstream.SkipSet()...)
		}
		if rng.Intn(3) == 0 {
			syms = append(syms, gen.DLLP()...)
		}

		addr := uint64(rng.Intn(1<<30)) &^ 3
		requester := uint16(rng.Intn(1 << 16))
		tag := uint8(rng.Intn(32))

		var frame []tlpstream.Symbol
		switch rng.Intn(3) {
		case 0:
			payload := make([]byte, (rng.Intn(32)+1)*4)
			rng.Read(payload)
			frame = gen.MemWrite(addr, requester, tag, payload)
		case 1:
			frame = gen.MemRead(addr, requester, tag, uint16((rng.Intn(32)+1)*4))
		default:
			payload := make([]byte, (rng.Intn(32)+1)*4)
			rng.Read(payload)
			frame = gen.Completion(requester, tag, 0, payload)
		}

		if *corruptEvery > 0 && (i+1)%*corruptEvery == 0 {
			// Flip a payload byte so the LCRC check fails.
			frame[len(frame)/2].Data ^= 0xFF
		}
		syms = append(syms, frame...)
		syms = append(syms, tlpstream.Idle(rng.Intn(8))...)
		flush(false)
	}
	flush(true)

	log.Printf("Done, wrote %d TLPs (%d cycles).", *tlpCount, cycle)
}
