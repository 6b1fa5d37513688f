package ring

// WriteChunk grants contiguous write access to a run of free slots. When the
// run crosses the end of the storage, Second holds the part that wrapped to
// the start; otherwise Second is empty.
type WriteChunk[T any] struct {
	First  []T
	Second []T

	p    *Producer[T]
	tail uint64
}

// Len returns the total number of slots in the chunk.
func (c WriteChunk[T]) Len() int {
	return len(c.First) + len(c.Second)
}

// Commit publishes the first n slots of the chunk to the consumer. n is
// clamped to the chunk length.
func (c WriteChunk[T]) Commit(n int) {
	n = min(max(n, 0), c.Len())
	c.p.buf.tail.Store(c.tail + uint64(n))
}

// ReadChunk grants contiguous read access to a run of readable slots, split
// at the wrap boundary like WriteChunk.
type ReadChunk[T any] struct {
	First  []T
	Second []T

	c    *Consumer[T]
	head uint64
}

// Len returns the total number of slots in the chunk.
func (c ReadChunk[T]) Len() int {
	return len(c.First) + len(c.Second)
}

// Commit releases the first n slots of the chunk back to the producer.
func (c ReadChunk[T]) Commit(n int) {
	n = min(max(n, 0), c.Len())
	c.c.buf.head.Store(c.head + uint64(n))
}

// split returns the two slices covering n slots starting at cursor pos.
func split[T any](slots []T, mask, pos uint64, n int) ([]T, []T) {
	start := int(pos & mask)
	end := start + n
	if end <= len(slots) {
		return slots[start:end], slots[:0]
	}
	return slots[start:], slots[:end-len(slots)]
}

// WriteChunk reserves n free slots. The slots are not visible to the consumer
// until Commit is called on the returned chunk.
func (p *Producer[T]) WriteChunk(n int) (WriteChunk[T], error) {
	if n < 0 || n > p.Slots() {
		return WriteChunk[T]{}, ErrChunkTooLarge
	}

	b := p.buf
	tail := b.tail.Load()
	first, second := split(b.slots, b.mask, tail, n)
	return WriteChunk[T]{First: first, Second: second, p: p, tail: tail}, nil
}

// ReadChunk exposes n readable slots. They stay owned by the consumer until
// Commit is called on the returned chunk.
func (c *Consumer[T]) ReadChunk(n int) (ReadChunk[T], error) {
	if n < 0 || n > c.Slots() {
		return ReadChunk[T]{}, ErrChunkTooLarge
	}

	b := c.buf
	head := b.head.Load()
	first, second := split(b.slots, b.mask, head, n)
	return ReadChunk[T]{First: first, Second: second, c: c, head: head}, nil
}
