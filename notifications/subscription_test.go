package notifications_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/humanneeded-go/notifications"
	"github.com/ggoodman/humanneeded-go/streamauth"
	"github.com/ggoodman/humanneeded-go/streamauth/streamtest"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
	errs []error
	got  chan struct{}
}

func newRecorder() *recorder { return &recorder{got: make(chan struct{}, 64)} }

func (r *recorder) onMessage(_ context.Context, m notifications.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m.String())
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) onError(_ context.Context, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for callback %d of %d", i+1, n)
		}
	}
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func newClient(t *testing.T, op streamauth.Opener, caps streamauth.Capabilities) *notifications.Client {
	t.Helper()
	c, err := notifications.New("https://api.example.com", notifications.WithOpener(op), notifications.WithCapabilities(caps))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestSubscribe_InitialThenUpdateScenario(t *testing.T) {
	stream := streamtest.NewStream()
	op := streamtest.NewOpener(stream)
	c := newClient(t, op, streamauth.Capabilities{HeaderStreams: true})
	rec := newRecorder()

	sub, err := c.Subscribe(context.Background(), notifications.Request{
		Token:       "t",
		AssistantID: "1",
		OnMessage:   rec.onMessage,
		OnError:     rec.onError,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	stream.Emit("initial", "2")
	stream.Emit("update", "3")
	rec.wait(t, 2)

	if got := rec.messages(); fmt.Sprint(got) != fmt.Sprint([]string{"initial:2", "update:3"}) {
		t.Fatalf("unexpected messages: %v", got)
	}

	calls := op.Calls()
	if len(calls) != 1 {
		t.Fatalf("want exactly one open, got %d", len(calls))
	}
	if !strings.HasSuffix(calls[0].URL, "/notifications/sse/human-needed?assistant_id=1") {
		t.Fatalf("unexpected url %s", calls[0].URL)
	}
	if calls[0].Header.Get("Authorization") != "Bearer t" {
		t.Fatalf("missing bearer header: %v", calls[0].Header)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !sub.Closed() || !stream.Closed() {
		t.Fatalf("subscription and stream must be closed")
	}
	if errs := rec.errors(); len(errs) != 0 {
		t.Fatalf("close must not report errors, got %v", errs)
	}
}

func TestSubscribe_CloseIsIdempotentAndStopsDispatch(t *testing.T) {
	stream := streamtest.NewStream()
	op := streamtest.NewOpener(stream)
	c := newClient(t, op, streamauth.Capabilities{HeaderStreams: true})
	rec := newRecorder()

	sub, err := c.Subscribe(context.Background(), notifications.Request{OnMessage: rec.onMessage, OnError: rec.onError})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	stream.Emit("initial", "a")
	rec.wait(t, 1)

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	<-sub.Done()

	if stream.Emit("update", "late") {
		t.Fatalf("stream should refuse events after close")
	}
	if got := rec.messages(); len(got) != 1 {
		t.Fatalf("no dispatch after close, got %v", got)
	}
	if len(op.Calls()) != 1 {
		t.Fatalf("close must not reopen the stream")
	}
	if len(rec.errors()) != 0 {
		t.Fatalf("close must not invoke the error handler")
	}
}

func TestSubscribe_CloseDuringHandlerDeliversNothingMore(t *testing.T) {
	stream := streamtest.NewStream()
	c := newClient(t, streamtest.NewOpener(stream), streamauth.Capabilities{HeaderStreams: true})

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var (
		mu  sync.Mutex
		got []string
	)
	sub, err := c.Subscribe(context.Background(), notifications.Request{OnMessage: func(ctx context.Context, m notifications.Message) {
		mu.Lock()
		got = append(got, m.String())
		mu.Unlock()
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	stream.Emit("initial", "1")
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler was not invoked")
	}
	// Queued while the handler is still running.
	stream.Emit("update", "2")
	stream.Emit("update", "3")

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(release)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription did not finish")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "initial:1" {
		t.Fatalf("only the in-flight event may be delivered, got %v", got)
	}
}

func TestSubscribe_CloseFromHandler(t *testing.T) {
	stream := streamtest.NewStream()
	c := newClient(t, streamtest.NewOpener(stream), streamauth.Capabilities{HeaderStreams: true})

	var sub *notifications.Subscription
	ready := make(chan struct{})
	calls := 0
	sub, err := c.Subscribe(context.Background(), notifications.Request{OnMessage: func(ctx context.Context, m notifications.Message) {
		<-ready
		calls++
		_ = sub.Close()
	}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	close(ready)
	stream.Emit("initial", "1")
	stream.Emit("update", "2")

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription did not finish")
	}
	if calls != 1 {
		t.Fatalf("want 1 dispatch, got %d", calls)
	}
}

func TestSubscribe_IgnoresUnknownKinds(t *testing.T) {
	stream := streamtest.NewStream()
	c := newClient(t, streamtest.NewOpener(stream), streamauth.Capabilities{HeaderStreams: true})
	rec := newRecorder()

	sub, err := c.Subscribe(context.Background(), notifications.Request{OnMessage: rec.onMessage, OnError: rec.onError})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	stream.Emit("message", "x")
	stream.Emit("heartbeat", "y")
	stream.Emit("update", "z")
	rec.wait(t, 1)

	if got := rec.messages(); len(got) != 1 || got[0] != "update:z" {
		t.Fatalf("unexpected messages: %v", got)
	}
}

func TestSubscribe_ServerErrorEvent(t *testing.T) {
	stream := streamtest.NewStream()
	c := newClient(t, streamtest.NewOpener(stream), streamauth.Capabilities{HeaderStreams: true})
	rec := newRecorder()

	sub, err := c.Subscribe(context.Background(), notifications.Request{OnMessage: rec.onMessage, OnError: rec.onError})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	stream.Emit("error", "upstream unavailable")
	stream.Emit("update", "still-open")
	rec.wait(t, 2)

	errs := rec.errors()
	var se *notifications.ServerError
	if len(errs) != 1 || !errors.As(errs[0], &se) || se.Data != "upstream unavailable" {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if sub.Closed() {
		t.Fatalf("a server error event must not close the subscription")
	}
}

func TestSubscribe_TransportErrorEndsSubscription(t *testing.T) {
	stream := streamtest.NewStream()
	op := streamtest.NewOpener(stream)
	c := newClient(t, op, streamauth.Capabilities{HeaderStreams: true})
	rec := newRecorder()

	sub, err := c.Subscribe(context.Background(), notifications.Request{OnMessage: rec.onMessage, OnError: rec.onError})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	drop := errors.New("connection reset")
	stream.Fail(drop)
	rec.wait(t, 1)
	<-sub.Done()

	errs := rec.errors()
	if len(errs) != 1 || !errors.Is(errs[0], drop) {
		t.Fatalf("want the transport error verbatim, got %v", errs)
	}
	if !sub.Closed() {
		t.Fatalf("subscription should be closed after a transport failure")
	}
	if len(op.Calls()) != 1 {
		t.Fatalf("no automatic reconnect expected")
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close after failure: %v", err)
	}
}

func TestSubscribe_EndOfStreamReported(t *testing.T) {
	stream := streamtest.NewStream()
	c := newClient(t, streamtest.NewOpener(stream), streamauth.Capabilities{HeaderStreams: true})
	rec := newRecorder()

	sub, err := c.Subscribe(context.Background(), notifications.Request{OnMessage: rec.onMessage, OnError: rec.onError})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	stream.Fail(io.EOF)
	rec.wait(t, 1)
	<-sub.Done()

	if errs := rec.errors(); len(errs) != 1 || !errors.Is(errs[0], notifications.ErrStreamEnded) {
		t.Fatalf("want ErrStreamEnded, got %v", errs)
	}
}

func TestSubscribe_DegradedWithoutHeaderSupport(t *testing.T) {
	stream := streamtest.NewStream()
	op := streamtest.NewOpener(stream)
	c := newClient(t, op, streamauth.Capabilities{HeaderStreams: false})
	rec := newRecorder()

	sub, err := c.Subscribe(context.Background(), notifications.Request{Token: "t", OnMessage: rec.onMessage})
	if err != nil {
		t.Fatalf("subscribe must succeed when degraded: %v", err)
	}
	defer sub.Close()

	stream.Emit("initial", "2")
	stream.Emit("update", "3")
	rec.wait(t, 2)

	if got := rec.messages(); fmt.Sprint(got) != fmt.Sprint([]string{"initial:2", "update:3"}) {
		t.Fatalf("unexpected messages: %v", got)
	}
	if h := op.Calls()[0].Header; len(h) != 0 {
		t.Fatalf("degraded stream must carry no headers, got %v", h)
	}
}

func TestSubscribe_RequiresMessageHandler(t *testing.T) {
	c := newClient(t, streamtest.NewOpener(streamtest.NewStream()), streamauth.Capabilities{HeaderStreams: true})
	if _, err := c.Subscribe(context.Background(), notifications.Request{}); !errors.Is(err, notifications.ErrNoMessageHandler) {
		t.Fatalf("want ErrNoMessageHandler, got %v", err)
	}
}

func TestSubscribe_OpenFailureReturned(t *testing.T) {
	op := streamtest.NewOpener(nil)
	op.Err = &streamauth.StatusError{StatusCode: http.StatusUnauthorized}
	c := newClient(t, op, streamauth.Capabilities{HeaderStreams: true})

	_, err := c.Subscribe(context.Background(), notifications.Request{OnMessage: func(context.Context, notifications.Message) {}})
	var se *streamauth.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("want StatusError, got %v", err)
	}
}

func TestSubscribe_ContextCancellationCloses(t *testing.T) {
	stream := streamtest.NewStream()
	c := newClient(t, streamtest.NewOpener(stream), streamauth.Capabilities{HeaderStreams: true})
	rec := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := c.Subscribe(ctx, notifications.Request{OnMessage: rec.onMessage, OnError: rec.onError})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription did not stop after cancellation")
	}
	if !sub.Closed() || !stream.Closed() {
		t.Fatalf("cancellation should close the subscription")
	}
	if len(rec.errors()) != 0 {
		t.Fatalf("cancellation is not an error")
	}
}

func TestSubscribe_OverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != notifications.EndpointPath || r.URL.Query().Get("assistant_id") != "1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, ": hello\n\nevent: initial\ndata: 2\n\nid: 9\nevent: update\ndata: 3\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := notifications.New(srv.URL, notifications.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rec := newRecorder()
	sub, err := c.Subscribe(context.Background(), notifications.Request{Token: "t", AssistantID: "1", OnMessage: rec.onMessage, OnError: rec.onError})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	rec.wait(t, 2)
	if got := rec.messages(); fmt.Sprint(got) != fmt.Sprint([]string{"initial:2", "update:3"}) {
		t.Fatalf("unexpected messages: %v", got)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	<-sub.Done()
	if len(rec.errors()) != 0 {
		t.Fatalf("unexpected errors: %v", rec.errors())
	}
}
