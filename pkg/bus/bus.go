// Package bus is the in-process publish/subscribe hub that the monitor
// registry publishes every session event on.
//
// Delivery is synchronous: Publish calls each matching handler in
// subscription order on the caller's goroutine and returns when all of
// them have run. Events published from one goroutine therefore reach every
// subscriber in publish order.
package bus

import (
	"log/slog"
	"sync"

	"github.com/modoterra/procwatch/pkg/core"
)

// Handler receives published events. It must not block for long, since it
// runs on the publisher's goroutine.
type Handler func(core.Event)

// Subscription identifies a registered handler.
type Subscription struct {
	kind core.EventKind // empty for wildcard subscriptions
	fn   Handler
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	logger *slog.Logger
}

// New creates an empty bus. Handler panics are logged to logger.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn for events of the given kind.
func (b *Bus) Subscribe(kind core.EventKind, fn Handler) *Subscription {
	return b.add(&Subscription{kind: kind, fn: fn})
}

// SubscribeAll registers fn for every event kind.
func (b *Bus) SubscribeAll(fn Handler) *Subscription {
	return b.add(&Subscription{fn: fn})
}

func (b *Bus) add(sub *Subscription) *Subscription {
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub. It reports false if sub was not registered.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers ev to every matching subscriber. Subscriptions added or
// removed by a handler take effect from the next Publish.
func (b *Bus) Publish(ev core.Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == "" || s.kind == ev.Kind() {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s *Subscription, ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "kind", ev.Kind(), "process", ev.Process(), "panic", r)
		}
	}()
	s.fn(ev)
}
