package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/valyala/bytebufferpool"
)

var bufferPool bytebufferpool.Pool

func encodeTo(buf *bytebufferpool.ByteBuffer, m Message) error {
	w, err := toWire(m)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return nil
}

// FrameReader yields one non-empty line per call.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// ReadFrame returns the next line that holds anything but whitespace. A final
// line without terminator is returned before io.EOF.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		line, err := fr.r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// flusher is implemented by buffered writers.
type flusher interface {
	Flush() error
}

// FrameWriter writes whole frames. Concurrent writers never interleave.
type FrameWriter struct {
	mu  sync.Mutex
	w   *bufio.Writer
	out io.Writer
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: bufio.NewWriter(w), out: w}
}

// WriteMessage encodes m and writes and flushes it as a single line.
func (fw *FrameWriter) WriteMessage(m Message) error {
	buf := bufferPool.Get()
	defer bufferPool.Put(buf)

	if err := encodeTo(buf, m); err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(buf.B); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := fw.w.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	if f, ok := fw.out.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush frame: %w", err)
		}
	}
	return nil
}

// Close closes the underlying writer when it is closable. It does not wait
// for a write in progress: closing the stream is what unblocks a write stuck
// on a peer that stopped reading.
func (fw *FrameWriter) Close() error {
	if c, ok := fw.out.(io.Closer); ok {
		if err := c.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
			return err
		}
	}
	return nil
}
