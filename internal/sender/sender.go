// Package sender holds one delivery implementation per channel. The
// dispatcher is channel-agnostic: every sender exposes the same single
// capability and reports failure as an error, never a panic, so the
// dispatcher's retry bookkeeping stays uniform.
package sender

import (
	"context"

	"github.com/taskfleet/notifier/internal/model"
)

// Result reports what the channel could confirm. Delivered is true only
// when the channel confirms end-user delivery synchronously; channels that
// cannot confirm leave it false and the record stops at "sent".
type Result struct {
	Delivered bool
}

type Sender interface {
	Channel() model.Channel
	// Send attempts delivery of the record's already-rendered content to the
	// recipient. Provider outages come back as errors.
	Send(ctx context.Context, n *model.Notification, recipient *model.User) (*Result, error)
}

// Registry maps channels to their senders.
type Registry map[model.Channel]Sender

func NewRegistry(senders ...Sender) Registry {
	reg := make(Registry, len(senders))
	for _, s := range senders {
		reg[s.Channel()] = s
	}
	return reg
}
