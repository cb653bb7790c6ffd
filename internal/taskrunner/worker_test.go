package taskrunner

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/v8app/jsapp/internal/clock"
)

func TestWorkerPoolRunsPostedTask(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Close()

	done := make(chan struct{})
	p.PostTask(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task never ran")
	}
}

func TestWorkerPoolDelayedTaskWaitsForDue(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(start)
	p := NewWorkerPoolWithClock(1, fc)
	defer p.Close()

	var ran int32
	p.PostDelayedTask(func() { atomic.StoreInt32(&ran, 1) }, 50*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("delayed task ran before its due time was reached")
	}

	fc.Advance(60 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&ran) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("delayed task never ran after becoming due")
}

func TestWorkerPoolPauseBlocksDispatch(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Close()

	p.SetPaused(true)
	var ran int32
	p.PostTask(func() { atomic.StoreInt32(&ran, 1) })

	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("task ran while pool was paused")
	}

	p.SetPaused(false)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&ran) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task never ran after unpause")
}

func TestWorkerPoolParallelismBound(t *testing.T) {
	const parallelism = 3
	p := NewWorkerPool(parallelism)
	defer p.Close()

	var mu sync.Mutex
	current := 0
	maxSeen := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		p.PostTask(func() {
			defer wg.Done()
			mu.Lock()
			current++
			if current > maxSeen {
				maxSeen = current
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
		})
	}
	wg.Wait()

	if maxSeen > parallelism {
		t.Fatalf("observed concurrency %d exceeds configured parallelism %d", maxSeen, parallelism)
	}
}
