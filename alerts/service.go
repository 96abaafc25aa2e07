package alerts

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

// WithClock overrides time.Now for alert timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// Service raises and resolves alerts on top of a Host.
type Service struct {
	host Host
	log  *slog.Logger
	now  func() time.Time
}

// NewService returns a Service backed by host.
func NewService(host Host, opts ...ServiceOption) *Service {
	s := &Service{host: host, log: slog.New(slog.NewTextHandler(io.Discard, nil)), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Raise records a as pending and publishes a raised update. ID and
// CreatedAt are filled in when empty. If the update cannot be published the
// alert is removed again, so snapshots only hold announced alerts.
func (s *Service) Raise(ctx context.Context, a Alert) (Alert, error) {
	if a.AssistantID == "" || a.ConversationID == "" {
		return Alert{}, fmt.Errorf("%w: assistant_id and conversation_id are required", ErrInvalidAlert)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}

	if err := s.host.PutAlert(ctx, a); err != nil {
		return Alert{}, fmt.Errorf("store alert: %w", err)
	}
	if err := s.publish(ctx, Update{Type: UpdateRaised, Alert: a}); err != nil {
		if _, _, derr := s.host.DeleteAlert(context.WithoutCancel(ctx), a.AssistantID, a.ConversationID); derr != nil {
			err = errors.Join(err, fmt.Errorf("roll back alert: %w", derr))
		}
		s.log.WarnContext(ctx, "alert.raise.rollback", slog.String("assistant_id", a.AssistantID), slog.String("conversation_id", a.ConversationID))
		return Alert{}, err
	}
	s.log.InfoContext(ctx, "alert.raise", slog.String("assistant_id", a.AssistantID), slog.String("conversation_id", a.ConversationID))
	return a, nil
}

// Resolve removes the pending alert for a conversation and publishes a
// resolved update. If the update cannot be published the alert is stored
// again and stays pending.
func (s *Service) Resolve(ctx context.Context, assistantID, conversationID string) (Alert, error) {
	if assistantID == "" || conversationID == "" {
		return Alert{}, fmt.Errorf("%w: assistant_id and conversation_id are required", ErrInvalidAlert)
	}
	a, ok, err := s.host.DeleteAlert(ctx, assistantID, conversationID)
	if err != nil {
		return Alert{}, fmt.Errorf("delete alert: %w", err)
	}
	if !ok {
		return Alert{}, ErrAlertNotFound
	}
	if err := s.publish(ctx, Update{Type: UpdateResolved, Alert: a}); err != nil {
		if perr := s.host.PutAlert(context.WithoutCancel(ctx), a); perr != nil {
			err = errors.Join(err, fmt.Errorf("roll back resolve: %w", perr))
		}
		s.log.WarnContext(ctx, "alert.resolve.rollback", slog.String("assistant_id", assistantID), slog.String("conversation_id", conversationID))
		return Alert{}, err
	}
	s.log.InfoContext(ctx, "alert.resolve", slog.String("assistant_id", assistantID), slog.String("conversation_id", conversationID))
	return a, nil
}

// Snapshot returns the pending alerts for assistantID (all assistants when
// empty), oldest first.
func (s *Service) Snapshot(ctx context.Context, assistantID string) (Snapshot, error) {
	list, err := s.host.ListAlerts(ctx, assistantID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list alerts: %w", err)
	}
	slices.SortFunc(list, func(a, b Alert) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.AssistantID, b.AssistantID); c != 0 {
			return c
		}
		return cmp.Compare(a.ConversationID, b.ConversationID)
	})
	if list == nil {
		list = []Alert{}
	}
	return Snapshot{AssistantID: assistantID, Alerts: list}, nil
}

// Subscribe streams updates for assistantID, or for every assistant when
// assistantID is empty.
func (s *Service) Subscribe(ctx context.Context, assistantID string) (UpdateStream, error) {
	return s.host.Subscribe(ctx, TopicFor(assistantID))
}

func (s *Service) publish(ctx context.Context, u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	for _, topic := range []string{TopicFor(u.Alert.AssistantID), GlobalTopic} {
		if _, err := s.host.Publish(ctx, topic, data); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}
