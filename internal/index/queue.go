package index

import (
	"sync"
)

// pathQueue serializes work per source path and merges bursts of requests
// for the same path into the most recent one.
//
// Every request takes a ticket first. When the holder of the path lock
// releases it, waiting requests that are no longer the newest ticket are
// dropped as superseded.
type pathQueue struct {
	mu    sync.Mutex
	slots map[string]*pathSlot
}

type pathSlot struct {
	lock   sync.Mutex
	latest uint64
	refs   int
}

func newPathQueue() *pathQueue {
	return &pathQueue{slots: make(map[string]*pathSlot)}
}

// ticket registers a request for path and returns its generation.
func (q *pathQueue) ticket(path string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.slots[path]
	if s == nil {
		s = &pathSlot{}
		q.slots[path] = s
	}
	s.latest++
	s.refs++
	return s.latest
}

// acquire blocks until the path is free. It returns false, without holding
// the lock, when a newer ticket for the same path exists. Every ticket must
// be passed to exactly one acquire; a true result must be paired with release.
func (q *pathQueue) acquire(path string, gen uint64) bool {
	q.mu.Lock()
	s := q.slots[path]
	q.mu.Unlock()

	s.lock.Lock()

	q.mu.Lock()
	current := s.latest == gen
	q.mu.Unlock()

	if !current {
		s.lock.Unlock()
		q.done(path, s)
		return false
	}
	return true
}

// release frees the path after a successful acquire.
func (q *pathQueue) release(path string) {
	q.mu.Lock()
	s := q.slots[path]
	q.mu.Unlock()

	s.lock.Unlock()
	q.done(path, s)
}

func (q *pathQueue) done(path string, s *pathSlot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(q.slots, path)
	}
}

// active returns the number of paths with outstanding requests.
func (q *pathQueue) active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}
