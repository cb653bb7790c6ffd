package taskrunner

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/v8app/jsapp/internal/clock"
	"github.com/v8app/jsapp/metrics"
)

// WorkerPool is the true-OS-thread pool backing one Priority class: a
// thread pool sized to hardware parallelism dispatching a min-heap of
// ready/delayed tasks, pausable between tasks, concurrency-gated with
// golang.org/x/sync/semaphore.
type WorkerPool struct {
	clock clock.Clock
	sem   *semaphore.Weighted

	mu     sync.Mutex
	cond   *sync.Cond
	heap   delayedHeap
	nextSeq uint64
	paused bool
	closed bool

	limiter *rate.Limiter // paces the idle-poll backoff, see run()

	metrics    *metrics.Registry
	queueLabel string
}

// SetMetrics attaches a metrics.Registry so posted/run task counts and
// queue depth for this pool are observable under the given priority label.
// Nil-safe: an unset registry is a no-op.
func (p *WorkerPool) SetMetrics(m *metrics.Registry, queueLabel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
	p.queueLabel = queueLabel
}

// NewWorkerPool creates a WorkerPool with parallelism workers (0 means
// runtime.GOMAXPROCS(0)).
func NewWorkerPool(parallelism int) *WorkerPool {
	return NewWorkerPoolWithClock(parallelism, clock.Real{})
}

// NewWorkerPoolWithClock is NewWorkerPool with an injectable clock, for
// deterministic due-time tests.
func NewWorkerPoolWithClock(parallelism int, c clock.Clock) *WorkerPool {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	p := &WorkerPool{
		clock:   c,
		sem:     semaphore.NewWeighted(int64(parallelism)),
		limiter: rate.NewLimiter(rate.Every(time.Millisecond), 1),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < parallelism; i++ {
		go p.run()
	}
	return p
}

// PostTask enqueues run for immediate dispatch.
func (p *WorkerPool) PostTask(run Func) {
	p.post(run, time.Time{})
}

// PostDelayedTask enqueues run with a monotonic due-time of now()+delay.
func (p *WorkerPool) PostDelayedTask(run Func, delay time.Duration) {
	p.post(run, p.clock.Now().Add(delay))
}

func (p *WorkerPool) post(run Func, due time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.nextSeq++
	heap.Push(&p.heap, &Task{Run: run, Due: due, seq: p.nextSeq})
	if p.metrics != nil {
		p.metrics.TasksPosted.WithLabelValues(p.queueLabel).Inc()
		p.metrics.QueueDepth.WithLabelValues(p.queueLabel).Set(float64(p.heap.Len()))
	}
	p.cond.Broadcast()
}

// SetPaused blocks workers between tasks when true; a following SetPaused
// (false) wakes them.
func (p *WorkerPool) SetPaused(paused bool) {
	p.mu.Lock()
	p.paused = paused
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Close stops accepting new tasks and releases blocked workers; already
// enqueued tasks are dropped.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.heap = nil
	p.mu.Unlock()
	p.cond.Broadcast()
}

// run is the body of each pool worker goroutine: block until a ready task
// or delayed-due task is available and not paused, acquire a semaphore
// slot (bounding true concurrency to the configured parallelism even
// though every goroutine polls the same queue), then run it.
func (p *WorkerPool) run() {
	for {
		task := p.waitForTask()
		if task == nil {
			return // pool closed
		}
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		task.Run()
		p.sem.Release(1)
	}
}

// recordDispatchLocked updates metrics for a task that just left the heap.
// Caller must hold p.mu.
func (p *WorkerPool) recordDispatchLocked() {
	if p.metrics == nil {
		return
	}
	p.metrics.TasksRun.WithLabelValues(p.queueLabel).Inc()
	p.metrics.QueueDepth.WithLabelValues(p.queueLabel).Set(float64(p.heap.Len()))
}

func (p *WorkerPool) waitForTask() *Task {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil
		}
		if !p.paused && p.heap.Len() > 0 && !p.heap[0].isDelayed() {
			t := heap.Pop(&p.heap).(*Task)
			p.recordDispatchLocked()
			p.mu.Unlock()
			return t
		}
		if !p.paused && p.heap.Len() > 0 {
			due := p.heap[0].Due
			now := p.clock.Now()
			if !due.After(now) {
				t := heap.Pop(&p.heap).(*Task)
				p.recordDispatchLocked()
				p.mu.Unlock()
				return t
			}
			p.mu.Unlock()
			// Pace the poll loop with a rate limiter rather than a tight
			// spin while waiting for the next delayed task to come due.
			_ = p.limiter.Wait(context.Background())
			continue
		}
		p.cond.Wait()
		p.mu.Unlock()
	}
}
