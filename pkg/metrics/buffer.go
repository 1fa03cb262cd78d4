package metrics

import "fmt"

// CircularBuffer is a fixed-capacity ring. Push overwrites the oldest entry
// once the buffer is full: inserts are O(1), memory is bounded regardless of
// event rate, and no caller ever blocks. The buffer is not safe for
// concurrent use; the owning collector serializes access.
type CircularBuffer[T any] struct {
	items []T
	head  int // index of the oldest element
	count int
}

// NewCircularBuffer creates a ring with the given capacity.
func NewCircularBuffer[T any](capacity int) (*CircularBuffer[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("circular buffer capacity must be positive, got %d", capacity)
	}
	return &CircularBuffer[T]{items: make([]T, capacity)}, nil
}

// Push appends v, evicting the oldest entry when full.
func (b *CircularBuffer[T]) Push(v T) {
	tail := (b.head + b.count) % len(b.items)
	b.items[tail] = v
	if b.count == len(b.items) {
		b.head = (b.head + 1) % len(b.items)
	} else {
		b.count++
	}
}

// Len returns the number of buffered items.
func (b *CircularBuffer[T]) Len() int { return b.count }

// Cap returns the fixed capacity.
func (b *CircularBuffer[T]) Cap() int { return len(b.items) }

// Items returns the buffered items oldest-first.
func (b *CircularBuffer[T]) Items() []T {
	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Drain returns the buffered items oldest-first and empties the buffer.
func (b *CircularBuffer[T]) Drain() []T {
	out := b.Items()
	b.head = 0
	b.count = 0
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	return out
}
