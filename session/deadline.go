package session

import (
	"container/heap"
	"time"

	"github.com/opd-ai/pcmlink/protocol"
)

// deadlineEntry is one scheduled expiry. Entries are never updated in place:
// a refresh pushes a new entry and the old one goes stale.
type deadlineEntry struct {
	at time.Time
	id protocol.SessionID
}

type deadlineHeap []deadlineEntry

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)        { *h = append(*h, x.(deadlineEntry)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}

// Scheduler is a min-ordered queue of connection deadlines. The current map
// holds the authoritative expiry per connection; heap entries that disagree
// with it are stale and are discarded when they reach the top.
type Scheduler struct {
	entries deadlineHeap
	current map[protocol.SessionID]time.Time
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{current: make(map[protocol.SessionID]time.Time)}
}

// Schedule sets the expiry of id, replacing any earlier one.
func (s *Scheduler) Schedule(id protocol.SessionID, at time.Time) {
	if cur, ok := s.current[id]; ok && cur.Equal(at) {
		return
	}
	s.current[id] = at
	heap.Push(&s.entries, deadlineEntry{at: at, id: id})
	s.compact()
}

// Cancel forgets id. Its heap entries become stale.
func (s *Scheduler) Cancel(id protocol.SessionID) {
	delete(s.current, id)
	if len(s.current) == 0 {
		s.entries = s.entries[:0]
	}
}

// Deadline returns the authoritative expiry of id.
func (s *Scheduler) Deadline(id protocol.SessionID) (time.Time, bool) {
	at, ok := s.current[id]
	return at, ok
}

// Len returns the number of connections with a live deadline.
func (s *Scheduler) Len() int {
	return len(s.current)
}

// Next returns the earliest live deadline.
func (s *Scheduler) Next() (time.Time, bool) {
	s.discardStale()
	if len(s.entries) == 0 {
		return time.Time{}, false
	}
	return s.entries[0].at, true
}

// PopExpired removes and returns every connection whose authoritative expiry
// lies strictly before now, earliest first.
func (s *Scheduler) PopExpired(now time.Time) []protocol.SessionID {
	var expired []protocol.SessionID
	for {
		s.discardStale()
		if len(s.entries) == 0 || !now.After(s.entries[0].at) {
			return expired
		}
		e := heap.Pop(&s.entries).(deadlineEntry)
		delete(s.current, e.id)
		expired = append(expired, e.id)
	}
}

func (s *Scheduler) discardStale() {
	for len(s.entries) > 0 {
		top := s.entries[0]
		if at, ok := s.current[top.id]; ok && at.Equal(top.at) {
			return
		}
		heap.Pop(&s.entries)
	}
}

// compact rebuilds the heap from the authoritative map when stale entries
// dominate, which happens when deadlines are refreshed faster than they
// surface.
func (s *Scheduler) compact() {
	if len(s.entries) <= 4*len(s.current)+64 {
		return
	}
	s.entries = s.entries[:0]
	for id, at := range s.current {
		s.entries = append(s.entries, deadlineEntry{at: at, id: id})
	}
	heap.Init(&s.entries)
}
