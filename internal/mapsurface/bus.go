package mapsurface

import (
	"sync"
	"sync/atomic"
)

// Subscription receives published values. Lost reports whether a value was
// dropped because the subscriber fell behind.
type Subscription[T any] struct {
	C    chan T
	lost atomic.Bool
}

// Lost reports and clears the dropped flag.
func (s *Subscription[T]) Lost() bool { return s.lost.Swap(false) }

// Bus is a fan-out pub/sub. Publish never blocks; a full subscriber misses
// the value and gets its Lost flag set.
type Bus[T any] struct {
	mu   sync.RWMutex
	size int
	subs map[*Subscription[T]]struct{}
}

// NewBus creates a bus whose subscriptions buffer size values.
func NewBus[T any](size int) *Bus[T] {
	if size <= 0 {
		size = 16
	}
	return &Bus[T]{size: size, subs: make(map[*Subscription[T]]struct{})}
}

// Publish sends v to all subscribers.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.C <- v:
		default:
			s.lost.Store(true)
		}
	}
}

// Subscribe registers a new subscriber.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{C: make(chan T, b.size)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel. It is safe to
// call more than once.
func (b *Bus[T]) Unsubscribe(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.C)
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
