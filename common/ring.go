package common

// Ring is a fixed capacity FIFO buffer (array + head index). Pushing into a full
// ring evicts the oldest element. Ring is not safe for concurrent use; the owner
// guards it and hands out copies.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest element
	size int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. If the ring was full, the evicted oldest element is returned with ok=true.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return evicted, false
	}

	evicted = r.buf[r.head]
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return evicted, true
}

func (r *Ring[T]) Len() int { return r.size }
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Items returns a copy of all elements, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Latest returns a copy of up to n elements, newest first. n <= 0 means all.
func (r *Ring[T]) Latest(n int) []T {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head+r.size-1-i)%len(r.buf)]
	}
	return out
}

// Resize changes the capacity, keeping the newest elements. Elements that no
// longer fit are returned, oldest first.
func (r *Ring[T]) Resize(capacity int) (dropped []T) {
	if capacity < 1 {
		capacity = 1
	}
	if capacity == len(r.buf) {
		return nil
	}

	items := r.Items()
	if len(items) > capacity {
		dropped = items[:len(items)-capacity]
		items = items[len(items)-capacity:]
	}

	r.buf = make([]T, capacity)
	copy(r.buf, items)
	r.head = 0
	r.size = len(items)
	return dropped
}
