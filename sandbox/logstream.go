package sandbox

import (
	"bytes"
	"io"
	"sync"
)

// LineWriter forwards guest output to dst one prefixed line at a time.
// Input is split only on line boundaries: bytes after the last terminator
// stay buffered until their terminator arrives and are never flushed as a
// partial line. Empty lines are suppressed. Each full line goes out as a
// single dst.Write under the shared mutex, so lines from concurrent
// sandboxes never interleave.
type LineWriter struct {
	dst    io.Writer
	mu     *sync.Mutex // shared by every writer on dst
	prefix string
	buf    bytes.Buffer
}

// NewLineWriter returns a writer tagging every line with prefix before
// forwarding to dst. mu must be the same mutex for all writers sharing dst.
func NewLineWriter(dst io.Writer, mu *sync.Mutex, prefix string) *LineWriter {
	return &LineWriter{dst: dst, mu: mu, prefix: prefix}
}

// Write implements io.Writer. It never reports an error to the guest;
// logging failures must not fail the sandboxed program's own writes.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			return len(p), nil
		}
		line := w.buf.Next(idx + 1)
		if idx == 0 {
			continue
		}
		msg := make([]byte, 0, len(w.prefix)+idx+1)
		msg = append(msg, w.prefix...)
		msg = append(msg, line[:idx]...)
		msg = append(msg, '\n')
		w.mu.Lock()
		_, _ = w.dst.Write(msg)
		w.mu.Unlock()
	}
}
