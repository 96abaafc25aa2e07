// Package streamtest provides in-memory streamauth fakes for tests.
package streamtest

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/humanneeded-go/sse"
	"github.com/ggoodman/humanneeded-go/streamauth"
)

type item struct {
	ev  sse.Event
	err error
}

// Stream is a streamauth.Stream fed by the test. Events are buffered so
// they can be queued before the consumer starts reading.
type Stream struct {
	items      chan item
	closed     chan struct{}
	once       sync.Once
	closeCalls atomic.Int32

	mu      sync.Mutex
	termErr error
}

var _ streamauth.Stream = (*Stream)(nil)

// NewStream returns an open Stream.
func NewStream() *Stream {
	return &Stream{items: make(chan item, 64), closed: make(chan struct{})}
}

// Emit queues an event with the given type and data. It reports false if
// the stream was already closed.
func (s *Stream) Emit(eventType, data string) bool {
	return s.Send(sse.Event{Type: eventType, Data: data})
}

// Send queues ev.
func (s *Stream) Send(ev sse.Event) bool {
	if s.Closed() {
		return false
	}
	select {
	case <-s.closed:
		return false
	case s.items <- item{ev: ev}:
		return true
	}
}

// Fail queues a terminal read error.
func (s *Stream) Fail(err error) bool {
	if s.Closed() {
		return false
	}
	select {
	case <-s.closed:
		return false
	case s.items <- item{err: err}:
		return true
	}
}

// Next implements streamauth.Stream.
func (s *Stream) Next(ctx context.Context) (sse.Event, error) {
	s.mu.Lock()
	termErr := s.termErr
	s.mu.Unlock()
	if termErr != nil {
		return sse.Event{}, termErr
	}

	select {
	case <-s.closed:
		return sse.Event{}, streamauth.ErrStreamClosed
	default:
	}

	select {
	case <-ctx.Done():
		return sse.Event{}, ctx.Err()
	case <-s.closed:
		return sse.Event{}, streamauth.ErrStreamClosed
	case it := <-s.items:
		if it.err != nil {
			s.mu.Lock()
			s.termErr = it.err
			s.mu.Unlock()
		}
		return it.ev, it.err
	}
}

// Close implements streamauth.Stream.
func (s *Stream) Close() error {
	s.closeCalls.Add(1)
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// CloseCalls returns how many times Close was invoked.
func (s *Stream) CloseCalls() int { return int(s.closeCalls.Load()) }

// Call records one Open invocation.
type Call struct {
	URL    string
	Header http.Header
}

// Opener is a streamauth.Opener that hands out a fixed Stream and records
// what it was asked to open.
type Opener struct {
	Stream *Stream
	Err    error

	mu    sync.Mutex
	calls []Call
}

var _ streamauth.Opener = (*Opener)(nil)

// NewOpener returns an Opener serving s.
func NewOpener(s *Stream) *Opener { return &Opener{Stream: s} }

// Open implements streamauth.Opener.
func (o *Opener) Open(ctx context.Context, url string, header http.Header) (streamauth.Stream, error) {
	o.mu.Lock()
	o.calls = append(o.calls, Call{URL: url, Header: header.Clone()})
	o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Stream, nil
}

// Calls returns a copy of the recorded invocations.
func (o *Opener) Calls() []Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Call(nil), o.calls...)
}
