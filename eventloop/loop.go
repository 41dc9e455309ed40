// Package eventloop implements a single-threaded cooperative scheduler:
// one goroutine drains posted callbacks and fires timers in submission/
// deadline order, and nothing else touches the state those callbacks
// close over. Both protocol engines run their mutable state exclusively
// inside this loop so it never needs its own locking.
package eventloop

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// Func is a callback posted to or scheduled on a Loop.
type Func func()

// Handle identifies a scheduled timer for Cancel.
type Handle struct {
	id uint64
}

type timerEntry struct {
	id    uint64
	at    time.Time
	fn    Func
	index int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Loop is a single-threaded cooperative event loop. All exported methods
// except ScheduleAfter and Cancel are safe to call from any goroutine;
// ScheduleAfter and Cancel must only be called from the loop's own
// goroutine (i.e. from within a callback the loop is running).
type Loop struct {
	postCh  chan Func
	stopCh  chan struct{}
	done    chan struct{}
	stopped atomic.Bool

	stopOnce sync.Once

	timers timerHeap
	byID   map[uint64]*timerEntry
	nextID uint64
}

// New returns a Loop that has not yet been started.
func New() *Loop {
	return &Loop{
		postCh: make(chan Func, 256),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		byID:   make(map[uint64]*timerEntry),
	}
}

// Start runs the loop until Stop is called, blocking the calling
// goroutine. If Stop was already called before Start, Start returns
// immediately without running any callback.
func (l *Loop) Start() {
	defer close(l.done)
	if l.stopped.Load() {
		return
	}
	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if len(l.timers) > 0 {
			d := time.Until(l.timers[0].at)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-l.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case fn := <-l.postCh:
			if timer != nil {
				timer.Stop()
			}
			fn()
		case <-timerC:
			entry := heap.Pop(&l.timers).(*timerEntry)
			delete(l.byID, entry.id)
			entry.fn()
		}
	}
}

// Stop requests the loop to exit. It is idempotent and safe to call
// before Start, concurrently with Start, or more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		close(l.stopCh)
	})
}

// Done returns a channel closed once Start has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post enqueues fn to run on the loop goroutine. Safe to call from any
// goroutine, including the loop's own. If the loop has already stopped,
// fn is silently dropped.
func (l *Loop) Post(fn Func) {
	select {
	case l.postCh <- fn:
	case <-l.stopCh:
	}
}

// ScheduleAfter arranges for fn to run once, after at least d has
// elapsed, on the loop goroutine. Must be called from the loop goroutine.
func (l *Loop) ScheduleAfter(d time.Duration, fn Func) Handle {
	l.nextID++
	id := l.nextID
	e := &timerEntry{id: id, at: time.Now().Add(d), fn: fn}
	heap.Push(&l.timers, e)
	l.byID[id] = e
	return Handle{id: id}
}

// Cancel removes a previously scheduled timer if it hasn't fired yet.
// Must be called from the loop goroutine. Canceling an unknown or
// already-fired handle is a no-op.
func (l *Loop) Cancel(h Handle) {
	e, ok := l.byID[h.id]
	if !ok {
		return
	}
	heap.Remove(&l.timers, e.index)
	delete(l.byID, h.id)
}
