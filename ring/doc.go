// Package ring provides the allocation-free single-producer/single-consumer
// queue used to hand audio samples between the network goroutine and the
// audio callback of an external collaborator.
//
// A ring is created once with New, which returns the two halves of the queue:
//
//	tx, rx, err := ring.New[float32](4096)
//	if err != nil {
//	    return err
//	}
//
//	// producer side (exactly one goroutine)
//	tx.TryPush(0.5)
//
//	// consumer side (exactly one other goroutine)
//	v, ok := rx.TryPop()
//
// # Memory Ordering
//
// The producer owns the tail cursor and the consumer owns the head cursor.
// Each side only ever stores its own cursor and loads the other. Cursor updates
// go through sync/atomic, which gives the release/acquire pairing needed for a
// reader to never observe a slot before the data written into it is visible.
// No mutex is used and no method allocates after construction.
//
// # Segmented Access
//
// WriteChunk and ReadChunk hand out up to two contiguous slices covering a run
// of slots, split at the wrap boundary, so callers can copy whole packets in
// and out without per-sample calls. Nothing becomes visible to the other side
// until Commit is called.
//
// # Teardown
//
// Close marks the ring abandoned. Subsequent pushes and pops fail, and the
// other side can detect the condition through IsAbandoned. Storage is reclaimed
// by the garbage collector once both handles are dropped.
package ring
