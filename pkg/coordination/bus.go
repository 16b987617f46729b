package coordination

import "sync"

// subscriptionBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind misses events rather than blocking the
// controller.
const subscriptionBuffer = 128

// Bus is the internal event bus. All listeners observe the same ordered
// stream of typed events; publish never blocks.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]bool
	closed bool
}

// Subscription is one listener's view of the bus.
type Subscription struct {
	C         chan Event
	bus       *Bus
	closeOnce sync.Once
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]bool)}
}

// Subscribe registers a new listener.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{C: make(chan Event, subscriptionBuffer), bus: b}
	if b.closed {
		close(sub.C)
		return sub
	}
	b.subs[sub] = true
	return sub
}

// Publish delivers an event to every subscriber, dropping it for
// subscribers whose buffers are full.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.C <- ev:
		default:
		}
	}
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.markClosed()
	}
	b.subs = nil
}

// Close removes this subscription from the bus.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	if !s.bus.closed {
		delete(s.bus.subs, s)
	}
	s.bus.mu.Unlock()
	s.markClosed()
}

func (s *Subscription) markClosed() {
	s.closeOnce.Do(func() { close(s.C) })
}
