package common

import "sync"

// Subscription is a bounded event stream handed out by a Broadcaster
type Subscription[T any] struct {
	C <-chan T

	ch     chan T
	parent *Broadcaster[T]
	once   sync.Once
}

// Close stops delivery and closes C. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.parent.remove(s)
	})
}

// Broadcaster fans values out to subscribers without ever blocking the publisher: a value is
// dropped for a subscriber whose buffer is full (drop-new).
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	onDrop func()
}

// NewBroadcaster returns a broadcaster; onDrop (optional) is called once per dropped value
func NewBroadcaster[T any](onDrop func()) *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[*Subscription[T]]struct{}), onDrop: onDrop}
}

func (b *Broadcaster[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)
	s := &Subscription[T]{C: ch, ch: ch, parent: b}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broadcaster[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, found := b.subs[s]; found {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Publish delivers v to every subscriber with buffer space and returns the number of drops
func (b *Broadcaster[T]) Publish(v T) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- v:
		default:
			dropped++
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
	return dropped
}

func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// CloseAll closes every subscription
func (b *Broadcaster[T]) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}
