// Package platform implements the process-wide embedder-platform contract:
// one Platform singleton per process routing each per-isolate question
// (get-foreground-runner, idle-tasks-enabled?) to the owning Runtime
// through an installed RuntimeProvider adapter, plus the priority-keyed
// worker pools and job handles shared by every isolate.
package platform

import (
	"sync"
	"time"

	"github.com/v8app/jsapp/internal/taskrunner"
	"github.com/v8app/jsapp/jsapperr"
	"github.com/v8app/jsapp/metrics"
)

// RuntimeProvider answers the platform's two per-isolate questions. A
// Runtime implements this (or is adapted to it) and is registered with the
// Platform at construction time.
type RuntimeProvider interface {
	ForegroundTaskRunner(isolateID uintptr) *taskrunner.Foreground
	IdleTasksEnabled(isolateID uintptr) bool
}

// Platform is the process-wide embedder-platform singleton.
type Platform struct {
	mu       sync.Mutex
	provider RuntimeProvider
	pools    [3]*taskrunner.WorkerPool // indexed by taskrunner.Priority
}

var (
	instMu sync.Mutex
	inst   *Platform
)

var priorityLabels = [3]string{"best_effort", "user_visible", "user_blocking"}

// Initialize installs the process Platform exactly once. A second call
// before Shutdown fails with jsapperr.InvalidState. m may be nil; when set,
// every priority's worker pool reports task/queue metrics under it.
func Initialize(provider RuntimeProvider, m *metrics.Registry) (*Platform, error) {
	instMu.Lock()
	defer instMu.Unlock()
	if inst != nil {
		return nil, jsapperr.New(jsapperr.InvalidState, "platform.Initialize", "platform already initialized")
	}
	p := &Platform{provider: provider}
	for i := range p.pools {
		p.pools[i] = taskrunner.NewWorkerPool(0)
		if m != nil {
			p.pools[i].SetMetrics(m, priorityLabels[i])
		}
	}
	inst = p
	return p, nil
}

// Shutdown tears down the process Platform, closing every worker pool. A
// subsequent Initialize succeeds.
func Shutdown() {
	instMu.Lock()
	defer instMu.Unlock()
	if inst == nil {
		return
	}
	for _, pool := range inst.pools {
		pool.Close()
	}
	inst = nil
}

// Current returns the process Platform, or nil if uninitialized.
func Current() *Platform {
	instMu.Lock()
	defer instMu.Unlock()
	return inst
}

// ForegroundTaskRunner delegates to the installed provider for isolateID.
func (p *Platform) ForegroundTaskRunner(isolateID uintptr) *taskrunner.Foreground {
	return p.provider.ForegroundTaskRunner(isolateID)
}

// IdleTasksEnabled delegates to the installed provider for isolateID.
func (p *Platform) IdleTasksEnabled(isolateID uintptr) bool {
	return p.provider.IdleTasksEnabled(isolateID)
}

func (p *Platform) pool(priority taskrunner.Priority) *taskrunner.WorkerPool {
	return p.pools[priority]
}

// PostTask enqueues run onto the pool matching priority.
func (p *Platform) PostTask(priority taskrunner.Priority, run taskrunner.Func) {
	p.pool(priority).PostTask(run)
}

// PostDelayedTask enqueues run onto the pool matching priority, becoming
// ready at now()+delay.
func (p *Platform) PostDelayedTask(priority taskrunner.Priority, run taskrunner.Func, delay time.Duration) {
	p.pool(priority).PostDelayedTask(run, delay)
}

// SetWorkersPaused toggles the pause flag on every priority's pool
// atomically observed between tasks; used around snapshot emission.
func (p *Platform) SetWorkersPaused(paused bool) {
	for _, pool := range p.pools {
		pool.SetPaused(paused)
	}
}

// JobDelegate is passed to a Job's Run method on each worker invocation,
// mirroring the V8 JobDelegate contract: a worker checks ShouldYield
// periodically and stops its unit of work promptly when it returns true.
type JobDelegate interface {
	ShouldYield() bool
}

// Job is a unit of parallelizable work with dynamically reported
// concurrency: workers repeatedly invoke Run until MaxConcurrency
// reports zero remaining units.
type Job interface {
	Run(delegate JobDelegate)
	MaxConcurrency(workerCount int) int
}

// JobHandle is returned by PostJob; NotifyConcurrencyIncrease wakes
// additional idle workers after MaxConcurrency would return a larger
// value, and Join blocks until every worker has exited Run.
type JobHandle struct {
	job     Job
	pool    *taskrunner.WorkerPool
	mu      sync.Mutex
	active  int
	wg      sync.WaitGroup
	done    chan struct{}
	doneSet sync.Once
}

type jobDelegate struct{ handle *JobHandle }

func (d *jobDelegate) ShouldYield() bool {
	select {
	case <-d.handle.done:
		return true
	default:
		return false
	}
}

// PostJob starts job on the pool matching priority, spinning up work units
// until MaxConcurrency reports none remaining.
func (p *Platform) PostJob(priority taskrunner.Priority, job Job) *JobHandle {
	h := &JobHandle{job: job, pool: p.pool(priority), done: make(chan struct{})}
	h.spawnUpTo(1)
	return h
}

func (h *JobHandle) spawnUpTo(workerCount int) {
	h.mu.Lock()
	want := h.job.MaxConcurrency(workerCount)
	for h.active < want {
		h.active++
		h.wg.Add(1)
		h.pool.PostTask(h.runOne)
	}
	h.mu.Unlock()
}

func (h *JobHandle) runOne() {
	defer h.wg.Done()
	h.job.Run(&jobDelegate{handle: h})
	h.mu.Lock()
	h.active--
	h.mu.Unlock()
}

// NotifyConcurrencyIncrease re-queries MaxConcurrency and spawns additional
// work units if it now reports a higher count.
func (h *JobHandle) NotifyConcurrencyIncrease() {
	h.spawnUpTo(h.active + 1)
}

// Join blocks until every spawned work unit has returned from Run, then
// signals ShouldYield to any stragglers.
func (h *JobHandle) Join() {
	h.wg.Wait()
	h.doneSet.Do(func() { close(h.done) })
}

// Cancel signals ShouldYield to all running work units without waiting for
// them to finish; Join should still be called afterward to reclaim workers.
func (h *JobHandle) Cancel() {
	h.doneSet.Do(func() { close(h.done) })
}
