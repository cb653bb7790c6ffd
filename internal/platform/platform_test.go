package platform

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/v8app/jsapp/internal/taskrunner"
	"github.com/v8app/jsapp/jsapperr"
)

type stubProvider struct {
	fg *taskrunner.Foreground
}

func (s *stubProvider) ForegroundTaskRunner(uintptr) *taskrunner.Foreground { return s.fg }
func (s *stubProvider) IdleTasksEnabled(uintptr) bool                       { return true }

func TestInitializeTwiceFails(t *testing.T) {
	defer Shutdown()
	if _, err := Initialize(&stubProvider{fg: taskrunner.NewForeground()}, nil); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	_, err := Initialize(&stubProvider{fg: taskrunner.NewForeground()}, nil)
	if !jsapperr.Is(err, jsapperr.InvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
}

func TestShutdownThenInitializeSucceeds(t *testing.T) {
	if _, err := Initialize(&stubProvider{fg: taskrunner.NewForeground()}, nil); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	Shutdown()
	if _, err := Initialize(&stubProvider{fg: taskrunner.NewForeground()}, nil); err != nil {
		t.Fatalf("Initialize after Shutdown: %v", err)
	}
	Shutdown()
}

func TestPostTaskRunsOnCorrectPool(t *testing.T) {
	p, err := Initialize(&stubProvider{fg: taskrunner.NewForeground()}, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer Shutdown()

	done := make(chan struct{})
	p.PostTask(taskrunner.UserBlocking, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task never ran")
	}
}

func TestSetWorkersPausedAffectsAllPriorities(t *testing.T) {
	p, err := Initialize(&stubProvider{fg: taskrunner.NewForeground()}, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer Shutdown()

	p.SetWorkersPaused(true)
	var ran int32
	p.PostTask(taskrunner.BestEffort, func() { atomic.StoreInt32(&ran, 1) })
	p.PostTask(taskrunner.UserVisible, func() { atomic.StoreInt32(&ran, 1) })
	p.PostTask(taskrunner.UserBlocking, func() { atomic.StoreInt32(&ran, 1) })

	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("task ran while all pools were paused")
	}

	p.SetWorkersPaused(false)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&ran) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task never ran after unpause")
}

type countingJob struct {
	remaining int32
	ran       int32
}

func (j *countingJob) Run(d JobDelegate) {
	atomic.AddInt32(&j.ran, 1)
	atomic.AddInt32(&j.remaining, -1)
}

func (j *countingJob) MaxConcurrency(workerCount int) int {
	r := atomic.LoadInt32(&j.remaining)
	if r < 0 {
		return 0
	}
	return int(r)
}

func TestPostJobRunsUntilConcurrencyZero(t *testing.T) {
	p, err := Initialize(&stubProvider{fg: taskrunner.NewForeground()}, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer Shutdown()

	job := &countingJob{remaining: 5}
	h := p.PostJob(taskrunner.BestEffort, job)
	h.Join()

	if atomic.LoadInt32(&job.ran) == 0 {
		t.Fatalf("job never ran")
	}
}
