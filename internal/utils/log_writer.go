package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"
)

// SequencedWriter prefixes every complete line with a sequence number and a
// timestamp before passing it on. An unterminated line is held until it is
// completed or the writer is closed.
type SequencedWriter struct {
	mu      sync.Mutex
	target  io.Writer
	seq     uint64
	pending []byte
	now     func() time.Time
}

func NewSequencedWriter(target io.Writer) *SequencedWriter {
	return &SequencedWriter{target: target, now: time.Now}
}

func (w *SequencedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(w.pending[:idx], []byte{'\r'})
		if err := w.writeLine(line); err != nil {
			return 0, err
		}
		w.pending = w.pending[idx+1:]
	}
	if len(w.pending) == 0 {
		w.pending = nil
	}
	return len(p), nil
}

// Close flushes a pending partial line.
func (w *SequencedWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return nil
	}
	err := w.writeLine(w.pending)
	w.pending = nil
	return err
}

func (w *SequencedWriter) writeLine(line []byte) error {
	w.seq++
	var buf bytes.Buffer
	buf.WriteString(slog.Uint64("line", w.seq).String())
	buf.WriteByte(' ')
	buf.WriteString(slog.String("time", w.now().Format(time.RFC3339)).String())
	buf.WriteByte(' ')
	buf.Write(line)
	buf.WriteByte('\n')
	_, err := w.target.Write(buf.Bytes())
	return err
}
