package ring

import "errors"

var (
	// ErrCapacity indicates a capacity that is zero, negative or not a power of two.
	ErrCapacity = errors.New("ring capacity must be a positive power of two")

	// ErrChunkTooLarge indicates a chunk request larger than the available slots.
	ErrChunkTooLarge = errors.New("chunk larger than available slots")
)
