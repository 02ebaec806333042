package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Topics the engine publishes on. Consumers (websocket fan-out, push
// gateway) subscribe on their side; the engine only publishes.
const (
	TopicInApp = "notifications.in_app"
	TopicPush  = "notifications.push"
)
