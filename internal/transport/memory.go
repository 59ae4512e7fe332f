package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryBus is an in-process Bus. Publish delivers synchronously to every
// matching subscriber before returning, which keeps tests deterministic.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]MessageHandler
	closed bool
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[string]MessageHandler{}}
}

// Publish delivers payload to every subscriber whose filter matches topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(ErrTimeout, "publish to %s: %v", topic, err)
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	var handlers []MessageHandler
	for filter, h := range b.subs {
		if topicMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		h(topic, buf)
	}
	return nil
}

// Subscribe registers handler for the topic filter, replacing any
// previous handler for the same filter.
func (b *MemoryBus) Subscribe(topic string, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.subs[topic] = handler
	return nil
}

// Unsubscribe removes the handler for the topic filter.
func (b *MemoryBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, topic)
	return nil
}

// Close drops every subscription; later calls fail with ErrClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[string]MessageHandler{}
	return nil
}
