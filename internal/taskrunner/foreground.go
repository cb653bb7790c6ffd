package taskrunner

import (
	"container/heap"
	"sync"
	"time"

	"github.com/v8app/jsapp/internal/clock"
	"github.com/v8app/jsapp/metrics"
)

// Foreground is the per-isolate task runner: two ordered queues (ready
// tasks and idle tasks), a nesting-depth counter, and a terminated flag.
// It is safe for concurrent use — tasks may be posted from worker
// goroutines while the owning isolate's goroutine drains them.
type Foreground struct {
	mu sync.Mutex

	clock clock.Clock

	ready   []*Task // FIFO of immediately-runnable tasks, oldest first
	delayed delayedHeap

	idle []*IdleTask

	nextSeq      uint64
	nestingDepth int
	terminated   bool

	metrics    *metrics.Registry
	queueLabel string
}

// SetMetrics attaches a metrics.Registry so posted/run task counts and
// queue depth for this runner are observable under the given queue label
// (e.g. the owning Runtime's name). Nil-safe: an unset registry is a no-op.
func (f *Foreground) SetMetrics(m *metrics.Registry, queueLabel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = m
	f.queueLabel = queueLabel
}

// NewForeground creates a Foreground runner using the real wall clock.
func NewForeground() *Foreground {
	return NewForegroundWithClock(clock.Real{})
}

// NewForegroundWithClock creates a Foreground runner using the given clock,
// for deterministic tests of due-time ordering.
func NewForegroundWithClock(c clock.Clock) *Foreground {
	return &Foreground{clock: c}
}

// PostTask enqueues a nestable task with no delay.
func (f *Foreground) PostTask(run Func) {
	f.post(&Task{Run: run, Nestability: Nestable})
}

// PostNonNestableTask enqueues a task that only runs at nesting depth 0.
func (f *Foreground) PostNonNestableTask(run Func) {
	f.post(&Task{Run: run, Nestability: NonNestable})
}

// PostDelayedTask enqueues a nestable task that becomes ready at now+delay.
func (f *Foreground) PostDelayedTask(run Func, delay time.Duration) {
	f.post(&Task{Run: run, Nestability: Nestable, Due: f.dueTime(delay)})
}

// PostNonNestableDelayedTask enqueues a non-nestable delayed task.
func (f *Foreground) PostNonNestableDelayedTask(run Func, delay time.Duration) {
	f.post(&Task{Run: run, Nestability: NonNestable, Due: f.dueTime(delay)})
}

// PostIdleTask enqueues an idle task, run only via GetNextIdleTask.
func (f *Foreground) PostIdleTask(run func(deadline time.Time)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminated {
		return
	}
	f.nextSeq++
	f.idle = append(f.idle, &IdleTask{Run: run, seq: f.nextSeq})
}

func (f *Foreground) dueTime(delay time.Duration) time.Time {
	return f.clock.Now().Add(delay)
}

func (f *Foreground) post(t *Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminated {
		return
	}
	f.nextSeq++
	t.seq = f.nextSeq
	if t.isDelayed() {
		heap.Push(&f.delayed, t)
	} else {
		f.ready = append(f.ready, t)
	}
	if f.metrics != nil {
		f.metrics.TasksPosted.WithLabelValues(f.queueLabel).Inc()
		f.metrics.QueueDepth.WithLabelValues(f.queueLabel).Set(float64(len(f.ready) + f.delayed.Len()))
	}
}

// promoteDueLocked moves any delayed tasks whose due time has arrived into
// the ready queue, preserving relative post order among tasks that become
// ready at the same instant.
func (f *Foreground) promoteDueLocked() {
	now := f.clock.Now()
	for f.delayed.Len() > 0 && !f.delayed[0].Due.After(now) {
		t := heap.Pop(&f.delayed).(*Task)
		f.insertReadyBySeqLocked(t)
	}
}

// insertReadyBySeqLocked inserts t into the ready queue keeping it ordered
// by post sequence number, since a newly-due delayed task may need to slot
// in before already-ready tasks posted later than it.
func (f *Foreground) insertReadyBySeqLocked(t *Task) {
	i := len(f.ready)
	for i > 0 && f.ready[i-1].seq > t.seq {
		i--
	}
	f.ready = append(f.ready, nil)
	copy(f.ready[i+1:], f.ready[i:])
	f.ready[i] = t
}

// GetNextTask returns the next task whose nestability matches the current
// nesting depth and whose due time (if any) has arrived, or nil. Ownership
// transfers to the caller, who must run it exactly once.
func (f *Foreground) GetNextTask() *Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminated {
		return nil
	}
	f.promoteDueLocked()

	nonNestableOK := f.nestingDepth == 0
	for i, t := range f.ready {
		if t.Nestability == NonNestable && !nonNestableOK {
			continue
		}
		f.ready = append(f.ready[:i], f.ready[i+1:]...)
		if f.metrics != nil {
			f.metrics.TasksRun.WithLabelValues(f.queueLabel).Inc()
			f.metrics.QueueDepth.WithLabelValues(f.queueLabel).Set(float64(len(f.ready) + f.delayed.Len()))
		}
		return t
	}
	return nil
}

// GetNextIdleTask returns the next idle task FIFO, or nil.
func (f *Foreground) GetNextIdleTask() *IdleTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminated || len(f.idle) == 0 {
		return nil
	}
	t := f.idle[0]
	f.idle = f.idle[1:]
	return t
}

// HasReadyTask reports whether GetNextTask would currently return non-nil,
// without dequeuing anything.
func (f *Foreground) HasReadyTask() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminated {
		return false
	}
	f.promoteDueLocked()
	nonNestableOK := f.nestingDepth == 0
	for _, t := range f.ready {
		if t.Nestability == NonNestable && !nonNestableOK {
			continue
		}
		return true
	}
	return false
}

// NextDueTime returns the due time of the earliest pending delayed task and
// true, or the zero time and false if there is none.
func (f *Foreground) NextDueTime() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delayed.Len() == 0 {
		return time.Time{}, false
	}
	return f.delayed[0].Due, true
}

// Terminate stops the runner permanently: subsequent posts are dropped and
// already-queued tasks are discarded on the next dequeue attempt.
func (f *Foreground) Terminate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
	f.ready = nil
	f.delayed = nil
	f.idle = nil
}

// Scope is a scoped nesting-depth acquisition: PostTask calls made while a
// Scope is open compete for delivery only once the Scope (and any nested
// Scope) closes. Use via EnterScope/defer scope.Exit().
type Scope struct {
	f *Foreground
}

// EnterScope increments the nesting depth; the caller must call Exit
// exactly once, typically via defer.
func (f *Foreground) EnterScope() *Scope {
	f.mu.Lock()
	f.nestingDepth++
	f.mu.Unlock()
	return &Scope{f: f}
}

// Exit decrements the nesting depth. It is a fatal usage error (panics)
// for the depth to go negative.
func (s *Scope) Exit() {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.nestingDepth--
	if s.f.nestingDepth < 0 {
		panic("taskrunner: nesting depth went negative")
	}
}

// delayedHeap is a container/heap min-heap over Task.Due, used for both
// nestable and non-nestable delayed tasks (nestability is checked again at
// promotion/dequeue time).
type delayedHeap []*Task

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	if h[i].Due.Equal(h[j].Due) {
		return h[i].seq < h[j].seq
	}
	return h[i].Due.Before(h[j].Due)
}
func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x any)   { *h = append(*h, x.(*Task)) }
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
