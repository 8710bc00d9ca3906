// Package timing schedules one-shot callbacks by deadline. The
// endpoint core uses it for its connect-deadline timer (§4.1); the
// dead interval is a stored deadline, not a scheduled task. Adapted from the
// teacher's heap-based TimerManager, generalized so a caller can
// cancel a pending deadline by ID — the endpoint needs this to drop
// its 250ms connect timer the instant a connection becomes Ready.
package timing

import (
	"container/heap"
	"sync"
	"time"
)

// task is one scheduled callback, ordered by ExpiryAt in the heap.
type task struct {
	id       string
	expiryAt time.Time
	callback func()
	index    int
}

type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].expiryAt.Before(h[j].expiryAt) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) {
	n := len(*h)
	t := x.(*task)
	t.index = n
	*h = append(*h, t)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler runs scheduled callbacks on the goroutine that calls Run,
// off the caller's own call path and outside the Scheduler's lock. A
// callback that touches shared state must synchronize itself (the
// endpoint's connect-deadline callback takes the endpoint mutex).
type Scheduler struct {
	mu      sync.Mutex
	heap    taskHeap
	byID    map[string]*task
	wakeup  chan struct{}
	stopCh  chan struct{}
	stopped bool
}

// NewScheduler creates a Scheduler. Callers must call Run in a
// goroutine before any Schedule takes effect.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		heap:   make(taskHeap, 0),
		byID:   make(map[string]*task),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Run drives the scheduler loop until Stop is called. Intended to be
// started once, in its own goroutine, by whatever owns the Scheduler.
func (s *Scheduler) Run() {
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		var wait time.Duration
		if s.heap.Len() == 0 {
			wait = 24 * time.Hour
		} else {
			next := s.heap[0]
			wait = time.Until(next.expiryAt)
			if wait <= 0 {
				fired := heap.Pop(&s.heap).(*task)
				delete(s.byID, fired.id)
				s.mu.Unlock()
				fired.callback()
				continue
			}
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

// Stop halts the scheduler loop. Pending callbacks are dropped, not
// fired.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

// Schedule arms callback to fire at expiryAt under id, replacing any
// existing task registered under the same id.
func (s *Scheduler) Schedule(id string, expiryAt time.Time, callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[id]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.byID, id)
	}

	t := &task{id: id, expiryAt: expiryAt, callback: callback}
	heap.Push(&s.heap, t)
	s.byID[id] = t

	if s.heap[0] == t {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
}

// Cancel removes a pending task. Returns false if id was not
// outstanding (already fired or never scheduled) — the endpoint uses
// this to drop its connect-deadline the instant Ready is reached.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, t.index)
	delete(s.byID, id)
	return true
}

// Len reports the number of pending tasks, for tests.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}
