package alerts

import (
	"context"
	"errors"
	"time"
)

// GlobalTopic receives every update regardless of assistant.
const GlobalTopic = "all"

// TopicFor returns the topic carrying updates for assistantID, or
// GlobalTopic when assistantID is empty.
func TopicFor(assistantID string) string {
	if assistantID == "" {
		return GlobalTopic
	}
	return "assistant:" + assistantID
}

var (
	// ErrInvalidAlert is returned when required alert fields are missing.
	ErrInvalidAlert = errors.New("alerts: invalid alert")
	// ErrAlertNotFound is returned when resolving an alert that is not pending.
	ErrAlertNotFound = errors.New("alerts: alert not found")
	// ErrStreamClosed is returned by UpdateStream.Next after Close.
	ErrStreamClosed = errors.New("alerts: stream closed")
	// ErrSlowConsumer is returned by UpdateStream.Next when the subscriber
	// fell too far behind and updates were dropped.
	ErrSlowConsumer = errors.New("alerts: subscriber too slow")
)

// Alert is a conversation waiting for a human.
type Alert struct {
	ID             string    `json:"id"`
	AssistantID    string    `json:"assistant_id"`
	ConversationID string    `json:"conversation_id"`
	Customer       string    `json:"customer,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Snapshot is the payload of an "initial" event.
type Snapshot struct {
	AssistantID string  `json:"assistant_id,omitempty"`
	Alerts      []Alert `json:"alerts"`
}

// UpdateType tells whether an alert appeared or went away.
type UpdateType string

const (
	UpdateRaised   UpdateType = "raised"
	UpdateResolved UpdateType = "resolved"
)

// Update is the payload of an "update" event.
type Update struct {
	Type  UpdateType `json:"type"`
	Alert Alert      `json:"alert"`
}

// Envelope is one published message.
type Envelope struct {
	// ID is unique and increasing within a topic.
	ID   string
	Data []byte
}

// UpdateStream is a live subscription to one topic. It is used by a single
// consumer; Close may be called concurrently and more than once.
type UpdateStream interface {
	Next(ctx context.Context) (Envelope, error)
	Close() error
}

// Host stores pending alerts and fans out updates.
type Host interface {
	// Publish appends data to topic and returns its event id.
	Publish(ctx context.Context, topic string, data []byte) (eventID string, err error)
	// Subscribe returns a stream of messages published to topic after the
	// call returns. The subscription is registered before Subscribe returns.
	// It ends when ctx is done or Close is called.
	Subscribe(ctx context.Context, topic string) (UpdateStream, error)

	// PutAlert stores a, replacing any alert for the same conversation.
	PutAlert(ctx context.Context, a Alert) error
	// DeleteAlert removes and returns the alert for a conversation. The
	// boolean reports whether it existed.
	DeleteAlert(ctx context.Context, assistantID, conversationID string) (Alert, bool, error)
	// ListAlerts returns pending alerts for assistantID, or for every
	// assistant when assistantID is empty.
	ListAlerts(ctx context.Context, assistantID string) ([]Alert, error)
}
