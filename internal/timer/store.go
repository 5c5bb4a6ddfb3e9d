package timer

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type entry struct {
	id       ID
	kind     Kind
	deadline time.Time
	interval time.Duration
	sched    cron.Schedule // KindCron only
	fn       Func
	repeat   bool

	index   int  // heap position, -1 when not in the heap
	running bool // callback started (in-flight only)
}

// entryHeap orders entries by deadline, then id.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].id < h[j].id
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// store holds pending entries. It is not self-locking: every method runs
// under the owning Scheduler's mutex and never calls user code.
type store struct {
	h      entryHeap
	byID   map[ID]*entry
	lastID ID

	// wake has capacity 1; a pending signal coalesces later ones.
	wake chan struct{}
}

func newStore() *store {
	return &store{
		byID: map[ID]*entry{},
		wake: make(chan struct{}, 1),
	}
}

// insert adds e, assigning a fresh id when e.id is zero, and wakes the
// worker since e may now be the earliest deadline.
func (s *store) insert(e *entry) ID {
	if e.id == 0 {
		s.lastID++
		e.id = s.lastID
	}
	if _, dup := s.byID[e.id]; dup {
		panic(fmt.Sprintf("timer: duplicate id %d in store", e.id))
	}
	s.byID[e.id] = e
	heap.Push(&s.h, e)
	s.signal()
	return e.id
}

// takeDue removes and returns every entry with deadline <= now.
func (s *store) takeDue(now time.Time) []*entry {
	var due []*entry
	for len(s.h) > 0 && !s.h[0].deadline.After(now) {
		e := heap.Pop(&s.h).(*entry)
		delete(s.byID, e.id)
		due = append(due, e)
	}
	return due
}

func (s *store) peekNextDeadline() (time.Time, bool) {
	if len(s.h) == 0 {
		return time.Time{}, false
	}
	return s.h[0].deadline, true
}

func (s *store) remove(id ID) bool {
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	heap.Remove(&s.h, e.index)
	return true
}

func (s *store) len() int { return len(s.h) }

// issued reports whether id was ever handed out by this store.
func (s *store) issued(id ID) bool { return id != 0 && id <= s.lastID }

func (s *store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
