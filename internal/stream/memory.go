package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrGroupUnknown = errors.New("consumer group does not exist")

type memEntry struct {
	id      string
	payload []byte
}

type memGroup struct {
	cursor  int
	pending map[string]struct{}
}

// MemoryLog is an in-process Log used for tests and single-binary runs. It
// keeps the core consumer-group semantics of the durable backends: one
// delivery per group, with unacked deliveries tracked as pending.
type MemoryLog struct {
	mu       sync.Mutex
	channels map[string][]memEntry
	groups   map[string]map[string]*memGroup
	seq      int64
	closed   bool
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		channels: make(map[string][]memEntry),
		groups:   make(map[string]map[string]*memGroup),
	}
}

func (l *MemoryLog) EnsureGroup(_ context.Context, channel, group string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("memory log is closed")
	}
	if _, ok := l.channels[channel]; !ok {
		l.channels[channel] = nil
	}
	if _, ok := l.groups[channel]; !ok {
		l.groups[channel] = make(map[string]*memGroup)
	}
	if _, ok := l.groups[channel][group]; !ok {
		l.groups[channel][group] = &memGroup{pending: make(map[string]struct{})}
	}
	return nil
}

func (l *MemoryLog) Publish(_ context.Context, channel string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("memory log is closed")
	}
	l.seq++
	entry := memEntry{
		id:      fmt.Sprintf("%d-0", l.seq),
		payload: append([]byte(nil), payload...),
	}
	l.channels[channel] = append(l.channels[channel], entry)
	return nil
}

func (l *MemoryLog) Consume(ctx context.Context, channel, group, consumer string, count int, block time.Duration) ([]Message, error) {
	if count <= 0 {
		count = 1
	}
	deadline := time.Now().Add(block)
	for {
		msgs, err := l.take(channel, group, count)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		if block <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (l *MemoryLog) take(channel, group string, count int) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.New("memory log is closed")
	}
	g, ok := l.groups[channel][group]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrGroupUnknown, group, channel)
	}
	entries := l.channels[channel]
	var msgs []Message
	for g.cursor < len(entries) && len(msgs) < count {
		entry := entries[g.cursor]
		g.cursor++
		g.pending[entry.id] = struct{}{}
		msgs = append(msgs, Message{
			ID:      entry.id,
			Payload: append([]byte(nil), entry.payload...),
			ack:     l.ackFunc(channel, group, entry.id),
		})
	}
	return msgs, nil
}

func (l *MemoryLog) ackFunc(channel, group, id string) func(context.Context) error {
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		g, ok := l.groups[channel][group]
		if !ok {
			return fmt.Errorf("%w: %s on %s", ErrGroupUnknown, group, channel)
		}
		delete(g.pending, id)
		return nil
	}
}

// Pending reports unacked deliveries for a group. Used by tests and the
// monitor to surface stuck consumers.
func (l *MemoryLog) Pending(channel, group string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[channel][group]
	if !ok {
		return 0
	}
	return len(g.pending)
}

func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
