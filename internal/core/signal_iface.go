package core

import (
	"context"

	"github.com/huddle-rtc/huddle/internal/api"
)

// SignalChannel abstracts the room-scoped broadcast bus with presence
// tracking. Delivery is best-effort: no ordering across senders,
// at-least-once is acceptable. Owned by the manager; the manager must
// Close() it on leave.
type SignalChannel interface {
	// Broadcast publishes fire-and-forget to every other subscriber.
	Broadcast(ctx context.Context, msg api.Message) error
	// Events yields decoded broadcasts and presence transitions. Closed
	// when the channel shuts down.
	Events() <-chan api.Event
	Close() error
}
