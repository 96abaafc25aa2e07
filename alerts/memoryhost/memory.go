package memoryhost

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/humanneeded-go/alerts"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 256

// Host is an in-memory implementation of alerts.Host.
type Host struct {
	buffer  int
	counter atomic.Int64

	mu     sync.Mutex
	topics map[string]map[*subscription]struct{}

	alertsMu sync.RWMutex
	alerts   map[string]map[string]alerts.Alert // assistant -> conversation -> alert
}

// Option configures a Host.
type Option func(*Host)

// WithBuffer sets how many unread updates a subscriber may accumulate
// before it is disconnected.
func WithBuffer(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func New(opts ...Option) *Host {
	h := &Host{
		buffer: DefaultBuffer,
		topics: make(map[string]map[*subscription]struct{}),
		alerts: make(map[string]map[string]alerts.Alert),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ alerts.Host = (*Host)(nil)

// --- Messaging ---

type subscription struct {
	h        *Host
	topic    string
	ch       chan alerts.Envelope
	closed   chan struct{}
	once     sync.Once
	overflow atomic.Bool
}

func (h *Host) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Assigned under the lock so ids follow publish order within a topic.
	env := alerts.Envelope{ID: strconv.FormatInt(h.counter.Add(1), 10), Data: append([]byte(nil), data...)}
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- env:
		default:
			sub.overflow.Store(true)
			delete(h.topics[topic], sub)
			close(sub.ch)
		}
	}
	return env.ID, nil
}

func (h *Host) Subscribe(ctx context.Context, topic string) (alerts.UpdateStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscription{
		h:      h,
		topic:  topic,
		ch:     make(chan alerts.Envelope, h.buffer),
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.closed:
		}
	}()

	return sub, nil
}

func (s *subscription) Next(ctx context.Context) (alerts.Envelope, error) {
	select {
	case <-s.closed:
		return alerts.Envelope{}, alerts.ErrStreamClosed
	default:
	}

	select {
	case <-ctx.Done():
		return alerts.Envelope{}, ctx.Err()
	case <-s.closed:
		return alerts.Envelope{}, alerts.ErrStreamClosed
	case env, ok := <-s.ch:
		if !ok {
			if s.overflow.Load() {
				return alerts.Envelope{}, alerts.ErrSlowConsumer
			}
			return alerts.Envelope{}, alerts.ErrStreamClosed
		}
		return env, nil
	}
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.h.mu.Lock()
		if subs, ok := s.h.topics[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.h.topics, s.topic)
			}
		}
		s.h.mu.Unlock()
	})
	return nil
}

// --- Alert state ---

func (h *Host) PutAlert(ctx context.Context, a alerts.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.alertsMu.Lock()
	defer h.alertsMu.Unlock()
	byConv, ok := h.alerts[a.AssistantID]
	if !ok {
		byConv = make(map[string]alerts.Alert)
		h.alerts[a.AssistantID] = byConv
	}
	byConv[a.ConversationID] = a
	return nil
}

func (h *Host) DeleteAlert(ctx context.Context, assistantID, conversationID string) (alerts.Alert, bool, error) {
	if err := ctx.Err(); err != nil {
		return alerts.Alert{}, false, err
	}
	h.alertsMu.Lock()
	defer h.alertsMu.Unlock()
	byConv := h.alerts[assistantID]
	a, ok := byConv[conversationID]
	if !ok {
		return alerts.Alert{}, false, nil
	}
	delete(byConv, conversationID)
	if len(byConv) == 0 {
		delete(h.alerts, assistantID)
	}
	return a, true, nil
}

func (h *Host) ListAlerts(ctx context.Context, assistantID string) ([]alerts.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.alertsMu.RLock()
	defer h.alertsMu.RUnlock()

	var out []alerts.Alert
	for aid, byConv := range h.alerts {
		if assistantID != "" && aid != assistantID {
			continue
		}
		for _, a := range byConv {
			out = append(out, a)
		}
	}
	return out, nil
}
