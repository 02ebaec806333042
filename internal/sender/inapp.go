package sender

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/taskfleet/notifier/internal/model"
	apperrors "github.com/taskfleet/notifier/pkg/errors"
	"github.com/taskfleet/notifier/pkg/messaging"
)

// InAppEvent is what live clients receive over the broker. The notification
// row itself is the durable inbox; this event only wakes up connected
// sessions.
type InAppEvent struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	TaskID    *uuid.UUID `json:"task_id,omitempty"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

type InAppSender struct {
	broker messaging.Broker
}

func NewInAppSender(broker messaging.Broker) *InAppSender {
	return &InAppSender{broker: broker}
}

func (s *InAppSender) Channel() model.Channel {
	return model.ChannelInApp
}

func (s *InAppSender) Send(ctx context.Context, n *model.Notification, recipient *model.User) (*Result, error) {
	event := &InAppEvent{
		ID:        n.ID,
		UserID:    n.UserID,
		TaskID:    n.TaskID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: time.Now(),
	}

	if err := s.broker.Publish(ctx, messaging.TopicInApp, event); err != nil {
		return nil, apperrors.Transient("failed to publish in-app event", err)
	}

	// The record is the inbox: once published, the notification is in the
	// user's list, which is as delivered as in-app gets.
	return &Result{Delivered: true}, nil
}
