package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSLog implements Log on JetStream. A channel maps to a stream plus a
// subject; a consumer group maps to a shared durable pull consumer.
type NATSLog struct {
	conn *nats.Conn
	js   nats.JetStreamContext

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func NewNATSLog(address string) (*NATSLog, error) {
	if address == "" {
		address = nats.DefaultURL
	}
	conn, err := nats.Connect(address)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &NATSLog{
		conn: conn,
		js:   js,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// natsName maps a channel or group name to a valid stream/durable name.
// JetStream forbids dots in both.
func natsName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func (l *NATSLog) EnsureGroup(_ context.Context, channel, group string) error {
	_, err := l.js.AddStream(&nats.StreamConfig{
		Name:      natsName(channel),
		Subjects:  []string{channel},
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("ensure stream %s: %w", channel, err)
	}
	if _, err := l.subscription(channel, group); err != nil {
		return err
	}
	return nil
}

func (l *NATSLog) subscription(channel, group string) (*nats.Subscription, error) {
	key := channel + "/" + group
	l.mu.Lock()
	defer l.mu.Unlock()
	if sub, ok := l.subs[key]; ok {
		return sub, nil
	}
	sub, err := l.js.PullSubscribe(channel, natsName(group))
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s as %s: %w", channel, group, err)
	}
	l.subs[key] = sub
	return sub, nil
}

func (l *NATSLog) Publish(_ context.Context, channel string, payload []byte) error {
	if _, err := l.js.Publish(channel, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (l *NATSLog) Consume(_ context.Context, channel, group, consumer string, count int, block time.Duration) ([]Message, error) {
	sub, err := l.subscription(channel, group)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 1
	}
	raw, err := sub.Fetch(count, nats.MaxWait(block))
	if errors.Is(err, nats.ErrTimeout) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s as %s/%s: %w", channel, group, consumer, err)
	}
	var msgs []Message
	for _, m := range raw {
		msg := m
		meta, err := msg.Metadata()
		id := ""
		if err == nil {
			id = fmt.Sprintf("%d", meta.Sequence.Stream)
		}
		msgs = append(msgs, Message{
			ID:      id,
			Payload: msg.Data,
			ack: func(context.Context) error {
				return msg.Ack()
			},
		})
	}
	return msgs, nil
}

func (l *NATSLog) Close() error {
	l.mu.Lock()
	for _, sub := range l.subs {
		_ = sub.Unsubscribe()
	}
	l.subs = make(map[string]*nats.Subscription)
	l.mu.Unlock()
	l.conn.Close()
	return nil
}
