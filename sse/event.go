package sse

import (
	"errors"
	"time"
)

// DefaultEventType is the type reported for frames without an "event" field.
const DefaultEventType = "message"

var (
	// ErrLineTooLong is returned by the Decoder when a single line exceeds the
	// configured maximum. The stream cannot be resynchronised afterwards.
	ErrLineTooLong = errors.New("sse: line too long")

	// ErrInvalidField is returned by the Writer when an event type or id
	// contains a line break.
	ErrInvalidField = errors.New("sse: field contains line break")
)

// Event is a single dispatched server-sent event.
type Event struct {
	// ID is the last event id seen on the stream, which may have been set by
	// an earlier frame.
	ID string
	// Type is the event name, DefaultEventType when the frame had none.
	Type string
	// Data is the frame payload with multiple data lines joined by "\n".
	Data string
	// Retry is the reconnection delay advertised by this frame, zero if
	// the frame did not carry one.
	Retry time.Duration
}
