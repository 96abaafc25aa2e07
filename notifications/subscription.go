package notifications

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/humanneeded-go/streamauth"
)

// Subscription is one open human-needed stream. It moves from open to
// closed exactly once.
type Subscription struct {
	url    string
	stream streamauth.Stream
	cancel context.CancelFunc
	log    *slog.Logger

	closed   atomic.Bool
	once     sync.Once
	closeErr error
	done     chan struct{}
}

func newSubscription(url string, stream streamauth.Stream, cancel context.CancelFunc, log *slog.Logger) *Subscription {
	return &Subscription{url: url, stream: stream, cancel: cancel, log: log, done: make(chan struct{})}
}

// URL returns the endpoint the subscription is connected to.
func (s *Subscription) URL() string { return s.url }

// Closed reports whether the subscription has been closed, either by Close,
// by context cancellation or by a stream failure.
func (s *Subscription) Closed() bool { return s.closed.Load() }

// Done is closed once the dispatch goroutine has exited and no handler will
// be invoked again.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close stops dispatch and releases the stream. It is safe to call more than
// once and from within a handler; later calls return nil and have no effect.
// Close does not wait for the dispatch goroutine: a handler already running
// when Close is called is allowed to finish, and so is one the dispatch
// goroutine had already started for an event read before Close. Receive
// from Done to know that no handler will run again.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.stream.Close()
		s.closeErr = err
	})
	return err
}

func (s *Subscription) run(ctx context.Context, req Request) {
	defer close(s.done)
	defer s.Close()

	for {
		ev, err := s.stream.Next(ctx)
		if s.closed.Load() {
			return
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, streamauth.ErrStreamClosed) {
				s.log.InfoContext(ctx, "sse.subscription.done")
				return
			}
			if errors.Is(err, io.EOF) {
				err = ErrStreamEnded
			}
			s.log.WarnContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
			if req.OnError != nil {
				req.OnError(ctx, err)
			}
			return
		}

		// A Close landing between the closed check above and the handler
		// call leaves this event in flight; it is still delivered.
		switch Kind(ev.Type) {
		case KindInitial, KindUpdate:
			req.OnMessage(ctx, Message{Kind: Kind(ev.Type), Payload: ev.Data, ID: ev.ID})
		case kindError:
			s.log.WarnContext(ctx, "sse.event.error", slog.String("data", ev.Data))
			if req.OnError != nil {
				req.OnError(ctx, &ServerError{Data: ev.Data})
			}
		default:
			s.log.DebugContext(ctx, "sse.event.ignored", slog.String("type", ev.Type))
		}
	}
}
