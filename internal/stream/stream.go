// Package stream provides the durable append-only log the mesh components
// communicate over. Channels are named logs; consumer groups share a cursor
// so a message is delivered to exactly one member, and every message must be
// acknowledged after it has been fully handled.
package stream

import (
	"context"
	"time"
)

// Well-known channels. Agent inboxes are derived with Inbox.
const (
	ChannelUnassigned = "task.to_match"
	ChannelEvents     = "task.events"
	ChannelDispatch   = "task.dispatch"
)

// Inbox returns the per-agent delivery channel.
func Inbox(agentID string) string {
	return agentID + ".inbox"
}

// Message is one log entry handed to a consumer. Ack marks it processed for
// the consumer group it was read through; an unacked message is redelivered.
type Message struct {
	ID      string
	Payload []byte

	ack func(ctx context.Context) error
}

func (m Message) Ack(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

// Log is the transport contract shared by the redis, nats and in-memory
// backends.
type Log interface {
	// EnsureGroup creates the channel and consumer group if either is
	// missing. Calling it for an existing group is not an error.
	EnsureGroup(ctx context.Context, channel, group string) error

	// Publish appends a payload to the channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Consume reads up to count unseen messages for the group, waiting up
	// to block when the channel is empty. An empty result with a nil error
	// means the wait timed out.
	Consume(ctx context.Context, channel, group, consumer string, count int, block time.Duration) ([]Message, error)

	Close() error
}
