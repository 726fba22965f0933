package events

import (
	"sync"
	"sync/atomic"
)

// Bus is a lightweight pub/sub broker using channels. Publishing never
// blocks: a subscriber that cannot keep up loses messages, and the drop is
// counted so operators can see it.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Topic][]chan any
	dropped atomic.Int64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan any)}
}

// Subscribe registers a listener for a topic and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

// SubscribeAll registers one listener across several topics. Because Publish
// delivers synchronously, the channel observes events in publish order even
// across topics, which per-topic subscriptions cannot guarantee.
func (b *Bus) SubscribeAll(buffer int, topics ...Topic) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}

	var once sync.Once
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, t := range topics {
			subs := b.subs[t]
			for i, c := range subs {
				if c == ch {
					b.subs[t] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		once.Do(func() { close(ch) })
	}
	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- payload:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many messages were lost to slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
