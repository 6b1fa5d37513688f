package ring

import (
	"sync/atomic"
)

// cacheLinePad keeps the producer and consumer cursors on separate cache lines.
type cacheLinePad [64]byte

// buffer is the storage shared by a Producer and a Consumer.
type buffer[T any] struct {
	_    cacheLinePad
	head atomic.Uint64 // next slot to read, stored by the consumer only
	_    cacheLinePad
	tail atomic.Uint64 // next slot to write, stored by the producer only
	_    cacheLinePad

	abandoned atomic.Bool

	mask  uint64
	slots []T
}

// Producer is the writing half of a ring. It must be used by one goroutine.
type Producer[T any] struct {
	buf *buffer[T]

	// cached copy of the consumer cursor, refreshed only when the ring looks full
	head uint64
}

// Consumer is the reading half of a ring. It must be used by one goroutine.
type Consumer[T any] struct {
	buf *buffer[T]

	// cached copy of the producer cursor, refreshed only when the ring looks empty
	tail uint64
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two that is >= n (1 for n <= 1).
func NextPowerOfTwo(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}

// New allocates a ring with the given capacity and returns its two halves.
// The capacity must be a power of two so slot indices can be masked.
func New[T any](capacity int) (*Producer[T], *Consumer[T], error) {
	if !IsPowerOfTwo(capacity) {
		return nil, nil, ErrCapacity
	}

	b := &buffer[T]{
		mask:  uint64(capacity - 1),
		slots: make([]T, capacity),
	}

	return &Producer[T]{buf: b}, &Consumer[T]{buf: b}, nil
}

// Capacity returns the fixed number of slots in the ring.
func (p *Producer[T]) Capacity() int {
	return len(p.buf.slots)
}

// Slots returns the number of slots currently free for writing.
func (p *Producer[T]) Slots() int {
	tail := p.buf.tail.Load()
	p.head = p.buf.head.Load()
	return len(p.buf.slots) - int(tail-p.head)
}

// TryPush appends v to the ring. It returns false if the ring is full or
// abandoned. It never blocks and never allocates.
func (p *Producer[T]) TryPush(v T) bool {
	b := p.buf
	if b.abandoned.Load() {
		return false
	}

	tail := b.tail.Load()
	if tail-p.head == uint64(len(b.slots)) {
		p.head = b.head.Load()
		if tail-p.head == uint64(len(b.slots)) {
			return false
		}
	}

	b.slots[tail&b.mask] = v
	b.tail.Store(tail + 1)
	return true
}

// PushSlice copies as many leading elements of src as fit and returns how
// many were written.
func (p *Producer[T]) PushSlice(src []T) int {
	n := min(len(src), p.Slots())
	if n == 0 || p.buf.abandoned.Load() {
		return 0
	}

	chunk, err := p.WriteChunk(n)
	if err != nil {
		return 0
	}
	copied := copy(chunk.First, src)
	copy(chunk.Second, src[copied:])
	chunk.Commit(n)
	return n
}

// Fill writes up to n copies of v and returns how many were written.
func (p *Producer[T]) Fill(v T, n int) int {
	n = min(n, p.Slots())
	if n <= 0 || p.buf.abandoned.Load() {
		return 0
	}

	chunk, err := p.WriteChunk(n)
	if err != nil {
		return 0
	}
	for i := range chunk.First {
		chunk.First[i] = v
	}
	for i := range chunk.Second {
		chunk.Second[i] = v
	}
	chunk.Commit(n)
	return n
}

// Close marks the ring abandoned. Both halves fail every later operation.
func (p *Producer[T]) Close() {
	p.buf.abandoned.Store(true)
}

// IsAbandoned reports whether either half has been closed.
func (p *Producer[T]) IsAbandoned() bool {
	return p.buf.abandoned.Load()
}

// Capacity returns the fixed number of slots in the ring.
func (c *Consumer[T]) Capacity() int {
	return len(c.buf.slots)
}

// Slots returns the number of slots currently readable.
func (c *Consumer[T]) Slots() int {
	head := c.buf.head.Load()
	c.tail = c.buf.tail.Load()
	return int(c.tail - head)
}

// TryPop removes the oldest element. The boolean is false if the ring is
// empty or abandoned.
func (c *Consumer[T]) TryPop() (T, bool) {
	var zero T

	b := c.buf
	if b.abandoned.Load() {
		return zero, false
	}

	head := b.head.Load()
	if head == c.tail {
		c.tail = b.tail.Load()
		if head == c.tail {
			return zero, false
		}
	}

	v := b.slots[head&b.mask]
	b.slots[head&b.mask] = zero
	b.head.Store(head + 1)
	return v, true
}

// PopSlice moves up to len(dst) elements into dst and returns how many were read.
func (c *Consumer[T]) PopSlice(dst []T) int {
	n := min(len(dst), c.Slots())
	if n == 0 || c.buf.abandoned.Load() {
		return 0
	}

	chunk, err := c.ReadChunk(n)
	if err != nil {
		return 0
	}
	copied := copy(dst, chunk.First)
	copy(dst[copied:], chunk.Second)
	chunk.Commit(n)
	return n
}

// Discard drops up to n readable elements and returns how many were dropped.
func (c *Consumer[T]) Discard(n int) int {
	n = min(n, c.Slots())
	if n <= 0 {
		return 0
	}
	c.buf.head.Add(uint64(n))
	return n
}

// Close marks the ring abandoned. Both halves fail every later operation.
func (c *Consumer[T]) Close() {
	c.buf.abandoned.Store(true)
}

// IsAbandoned reports whether either half has been closed.
func (c *Consumer[T]) IsAbandoned() bool {
	return c.buf.abandoned.Load()
}
