package events

import (
	"fmt"
	"sync"
)

type subscription struct {
	id      string
	handler Handler
	types   map[Type]bool
}

// Bus delivers events synchronously to subscribers in subscription order
type Bus struct {
	subscribers []subscription
	mu          sync.RWMutex
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{}
}

// Publish hands e to every subscriber interested in e.Type. The first handler
// error aborts delivery.
func (b *Bus) Publish(e Event) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		if len(s.types) > 0 && !s.types[e.Type] {
			continue
		}
		if err := s.handler(e); err != nil {
			return fmt.Errorf("subscriber %s: %w", s.id, err)
		}
	}
	return nil
}

// Subscribe registers h under id. With no types the handler receives every event.
func (b *Bus) Subscribe(id string, h Handler, types ...Type) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subscribers {
		if s.id == id {
			return fmt.Errorf("subscriber %s is already registered", id)
		}
	}

	filter := make(map[Type]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	b.subscribers = append(b.subscribers, subscription{id: id, handler: h, types: filter})
	return nil
}

// Unsubscribe removes a subscriber
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subscribers {
		if s.id == id {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("subscriber %s is not registered", id)
}

func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = nil
}
