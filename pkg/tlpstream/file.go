package tlpstream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
)

var fileMagic = [4]byte{'T', 'L', 'P', 'S'}

// FileWriter writes a stream of chunks to a capture stream file for offline
// replay.
type FileWriter struct {
	f *os.File
	w *bufio.Writer
}

// NewFileWriter creates the file and writes the stream header.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream file: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(fileMagic[:]); err != nil {
		f.Close()
		return nil, err
	}
	return &FileWriter{f: f, w: w}, nil
}

// WriteChunk appends one length-prefixed chunk.
func (fw *FileWriter) WriteChunk(c *Chunk) error {
	data := c.Encode()
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := fw.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := fw.w.Write(data)
	return err
}

// Close flushes and closes the file.
func (fw *FileWriter) Close() error {
	if err := fw.w.Flush(); err != nil {
		fw.f.Close()
		return err
	}
	return fw.f.Close()
}

// Reader reads chunks from a capture stream file.
type Reader struct {
	f *os.File
	r *bufio.Reader
}

// NewReader opens a stream file and validates its header.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReader(f)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read stream header: %w", err)
	}
	if magic != fileMagic {
		f.Close()
		return nil, fmt.Errorf("not a TLP stream file")
	}
	return &Reader{f: f, r: r}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() {
	r.f.Close()
}

// ReadChunks reads all chunks from the file and sends them to the provided
// channel, closing it when done. Decode errors are logged and skipped so one
// bad chunk does not end the replay.
func (r *Reader) ReadChunks(out chan<- *Chunk) {
	defer close(out)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r.r, lenBuf[:]); err != nil {
			if err != io.EOF {
				log.Printf("Error reading chunk length: %v", err)
			}
			return
		}
		data := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(r.r, data); err != nil {
			log.Printf("Error reading chunk body: %v", err)
			return
		}
		chunk, err := DecodeChunk(data)
		if err != nil {
			log.Printf("Error decoding chunk: %v", err)
			continue
		}
		out <- chunk
	}
}
