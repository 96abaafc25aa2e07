package streamauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/humanneeded-go/sse"
)

var eventStreamMediaType = contenttype.NewMediaType("text/event-stream")

// HTTPOpener opens streams with a plain HTTP GET.
type HTTPOpener struct {
	// Client is used for the request. http.DefaultClient when nil. The
	// client should not set a Timeout since streams are long lived.
	Client *http.Client
}

var _ Opener = HTTPOpener{}

// Open issues the request and waits for the response headers. The stream
// stays open until Close is called, the server ends it, or ctx is done.
func (o HTTPOpener) Open(ctx context.Context, url string, header http.Header) (Stream, error) {
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("streamauth: build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", eventStreamMediaType.String())
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("streamauth: connect: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, &StatusError{StatusCode: resp.StatusCode, WWWAuthenticate: resp.Header.Get("WWW-Authenticate")}
	}
	if !isEventStream(resp.Header.Get("Content-Type")) {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: got %q", ErrNotEventStream, resp.Header.Get("Content-Type"))
	}

	return newHTTPStream(resp.Body, cancel), nil
}

func isEventStream(ct string) bool {
	if ct == "" {
		return false
	}
	mt := contenttype.NewMediaType(ct)
	return mt.Type == eventStreamMediaType.Type && mt.Subtype == eventStreamMediaType.Subtype
}

// httpStream decodes the response body on a dedicated goroutine so that
// Next can honour its context and Close can interrupt a blocked read.
type httpStream struct {
	body    io.ReadCloser
	cancel  context.CancelFunc
	events  chan sse.Event
	closed  chan struct{}
	once    sync.Once
	readErr error // written before events is closed
}

func newHTTPStream(body io.ReadCloser, cancel context.CancelFunc) *httpStream {
	s := &httpStream{
		body:   body,
		cancel: cancel,
		events: make(chan sse.Event),
		closed: make(chan struct{}),
	}
	go s.pump(sse.NewDecoder(body))
	return s
}

func (s *httpStream) pump(dec *sse.Decoder) {
	defer close(s.events)
	for {
		ev, err := dec.Next()
		if err != nil {
			s.readErr = err
			return
		}
		select {
		case s.events <- ev:
		case <-s.closed:
			s.readErr = ErrStreamClosed
			return
		}
	}
}

func (s *httpStream) Next(ctx context.Context) (sse.Event, error) {
	select {
	case <-s.closed:
		return sse.Event{}, ErrStreamClosed
	default:
	}

	select {
	case <-ctx.Done():
		return sse.Event{}, ctx.Err()
	case <-s.closed:
		return sse.Event{}, ErrStreamClosed
	case ev, ok := <-s.events:
		if !ok {
			select {
			case <-s.closed:
				return sse.Event{}, ErrStreamClosed
			default:
			}
			return sse.Event{}, s.readErr
		}
		return ev, nil
	}
}

func (s *httpStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.cancel()
		_ = s.body.Close()
	})
	return nil
}
