package wire

import (
	"fmt"
	"io"
	"sync"

	"github.com/itohio/godmf/pkg/feedback"
)

// Writer writes window results as lines. It implements feedback.ResultSink.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

var _ feedback.ResultSink = (*Writer)(nil)

// NewWriter creates a line writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, 32)}
}

// Emit writes one result line.
func (w *Writer) Emit(r feedback.WindowResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(AppendResult(w.buf[:0], r), '\n')
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

// Done writes the end of measurement line.
func (w *Writer) Done(completed int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(AppendDone(w.buf[:0], completed), '\n')
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("failed to write done: %w", err)
	}
	return nil
}
