package sse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Writer serialises events onto an HTTP response. Writes and flushes are
// serialised so that a heartbeat goroutine may share the Writer with the
// goroutine delivering events. Once ctx is done every write fails with
// ctx.Err().
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	f   http.Flusher
	ctx context.Context
}

// NewWriter wraps w. If w implements http.Flusher each frame is flushed
// after it is written.
func NewWriter(ctx context.Context, w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, f: f, ctx: ctx}
}

// WriteEvent writes ev as one frame. An empty Type is omitted so the client
// sees DefaultEventType.
func (w *Writer) WriteEvent(ev Event) error {
	if strings.ContainsAny(ev.Type, "\r\n") || strings.ContainsAny(ev.ID, "\r\n") {
		return ErrInvalidField
	}

	var b strings.Builder
	if ev.ID != "" {
		b.WriteString("id: ")
		b.WriteString(ev.ID)
		b.WriteByte('\n')
	}
	if ev.Type != "" {
		b.WriteString("event: ")
		b.WriteString(ev.Type)
		b.WriteByte('\n')
	}
	if ev.Retry > 0 {
		b.WriteString("retry: ")
		b.WriteString(strconv.FormatInt(ev.Retry.Milliseconds(), 10))
		b.WriteByte('\n')
	}
	for _, line := range splitLines(ev.Data) {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	return w.writeFrame(b.String())
}

// WriteComment writes a comment frame, typically used as a keep-alive.
func (w *Writer) WriteComment(text string) error {
	var b strings.Builder
	for _, line := range splitLines(text) {
		b.WriteString(": ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return w.writeFrame(b.String())
}

func (w *Writer) writeFrame(frame string) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ctx.Err(); err != nil {
		return err
	}
	if _, err := io.WriteString(w.w, frame); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}
	if w.f != nil {
		w.f.Flush()
	}
	return nil
}

// Flush flushes the underlying response if it supports flushing.
func (w *Writer) Flush() {
	if w.f == nil || w.ctx.Err() != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.f.Flush()
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}
