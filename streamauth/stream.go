package streamauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ggoodman/humanneeded-go/sse"
)

var (
	// ErrStreamClosed is returned by Next once Close has been called.
	ErrStreamClosed = errors.New("streamauth: stream closed")
	// ErrNotEventStream is returned when the server answers with a content
	// type other than text/event-stream.
	ErrNotEventStream = errors.New("streamauth: response is not an event stream")
)

// Stream is one open event stream. A Stream is owned by a single consumer;
// Next must not be called concurrently. Close may be called from any
// goroutine, any number of times.
type Stream interface {
	// Next blocks until the next event is available, the stream fails, or
	// ctx is done. Read failures are terminal: every later call returns the
	// same error.
	Next(ctx context.Context) (sse.Event, error)
	// Close releases the connection. It is idempotent.
	Close() error
}

// Opener opens a Stream for a URL. Implementations connect eagerly: a nil
// error means the server accepted the stream.
type Opener interface {
	Open(ctx context.Context, url string, header http.Header) (Stream, error)
}

// StatusError reports a non-2xx response to the stream request.
type StatusError struct {
	StatusCode int
	// WWWAuthenticate carries the server's bearer challenge, if any.
	WWWAuthenticate string
}

func (e *StatusError) Error() string {
	if e.WWWAuthenticate != "" {
		return fmt.Sprintf("streamauth: unexpected status %d (%s)", e.StatusCode, e.WWWAuthenticate)
	}
	return fmt.Sprintf("streamauth: unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}
