package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the name of a delivered event.
type Kind string

const (
	// KindInitial is sent once on connect and carries the current snapshot.
	KindInitial Kind = "initial"
	// KindUpdate is sent for each subsequent change.
	KindUpdate Kind = "update"

	kindError = "error"
)

// Message is one event routed to a MessageHandler.
type Message struct {
	Kind    Kind
	Payload string
	// ID is the server-assigned event id, empty when the server sent none.
	ID string
}

// String renders the message as "kind:payload".
func (m Message) String() string { return string(m.Kind) + ":" + m.Payload }

// Decode unmarshals the JSON payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal([]byte(m.Payload), v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Kind, err)
	}
	return nil
}

// MessageHandler receives initial and update events. It runs on the
// subscription's dispatch goroutine and should return quickly.
type MessageHandler func(ctx context.Context, msg Message)

// ErrorHandler receives server error events and transport failures.
type ErrorHandler func(ctx context.Context, err error)

var (
	// ErrNoMessageHandler is returned by Subscribe when Request.OnMessage is nil.
	ErrNoMessageHandler = errors.New("notifications: message handler is required")
	// ErrStreamEnded is reported when the server closes the stream.
	ErrStreamEnded = errors.New("notifications: stream ended")
)

// ServerError is an "error" event sent by the server.
type ServerError struct {
	Data string
}

func (e *ServerError) Error() string { return "notifications: server error: " + e.Data }
