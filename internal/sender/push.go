package sender

import (
	"context"

	"github.com/google/uuid"

	"github.com/taskfleet/notifier/internal/model"
	apperrors "github.com/taskfleet/notifier/pkg/errors"
	"github.com/taskfleet/notifier/pkg/messaging"
)

// PushEvent is handed to the push gateway over the broker; the gateway owns
// device tokens and the provider handshake.
type PushEvent struct {
	NotificationID uuid.UUID `json:"notification_id"`
	UserID         uuid.UUID `json:"user_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Urgency        string    `json:"urgency,omitempty"`
}

type PushSender struct {
	broker messaging.Broker
}

func NewPushSender(broker messaging.Broker) *PushSender {
	return &PushSender{broker: broker}
}

func (s *PushSender) Channel() model.Channel {
	return model.ChannelPush
}

func (s *PushSender) Send(ctx context.Context, n *model.Notification, recipient *model.User) (*Result, error) {
	event := &PushEvent{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Title:          n.Title,
		Body:           n.Message,
	}

	if err := s.broker.Publish(ctx, messaging.TopicPush, event); err != nil {
		return nil, apperrors.Transient("failed to publish push event", err)
	}

	// Handed off to the gateway; no synchronous delivery confirmation.
	return &Result{Delivered: false}, nil
}
