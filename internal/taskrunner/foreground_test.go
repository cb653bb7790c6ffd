package taskrunner

import (
	"testing"
	"time"

	"github.com/v8app/jsapp/internal/clock"
)

func TestForegroundFIFOOrder(t *testing.T) {
	f := NewForeground()
	var order []int
	f.PostTask(func() { order = append(order, 1) })
	f.PostTask(func() { order = append(order, 2) })
	f.PostTask(func() { order = append(order, 3) })

	for i := 0; i < 3; i++ {
		task := f.GetNextTask()
		if task == nil {
			t.Fatalf("expected task %d, got nil", i)
		}
		task.Run()
	}
	if task := f.GetNextTask(); task != nil {
		t.Fatalf("expected no more tasks")
	}
	if got := order; len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", got)
	}
}

// TestForegroundNestingScope posts a non-nestable task N and a nestable
// task K1; enters a nesting scope; posts K2; GetNextTask yields K1, then
// K2, then none; exits scope; GetNextTask yields N.
func TestForegroundNestingScope(t *testing.T) {
	f := NewForeground()
	var ran []string
	f.PostNonNestableTask(func() { ran = append(ran, "N") })
	f.PostTask(func() { ran = append(ran, "K1") })

	scope := f.EnterScope()
	f.PostTask(func() { ran = append(ran, "K2") })

	t1 := f.GetNextTask()
	if t1 == nil {
		t.Fatalf("expected K1, got nil")
	}
	t1.Run()

	t2 := f.GetNextTask()
	if t2 == nil {
		t.Fatalf("expected K2, got nil")
	}
	t2.Run()

	if t3 := f.GetNextTask(); t3 != nil {
		t.Fatalf("expected nil while nested (N must not run), got a task")
	}

	scope.Exit()

	t4 := f.GetNextTask()
	if t4 == nil {
		t.Fatalf("expected N after scope exit, got nil")
	}
	t4.Run()

	want := []string{"K1", "K2", "N"}
	if len(ran) != len(want) {
		t.Fatalf("ran = %v, want %v", ran, want)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("ran = %v, want %v", ran, want)
		}
	}
}

func TestForegroundNestingDepthUnderflowPanics(t *testing.T) {
	f := NewForeground()
	scope := f.EnterScope()
	scope.Exit()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on unbalanced Exit")
		}
	}()
	scope.Exit()
}

func TestForegroundDelayedTaskOrdering(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(start)
	f := NewForegroundWithClock(fc)

	var order []string
	f.PostDelayedTask(func() { order = append(order, "late") }, 2*time.Second)
	f.PostDelayedTask(func() { order = append(order, "early") }, 1*time.Second)

	if task := f.GetNextTask(); task != nil {
		t.Fatalf("expected no ready task before due time")
	}

	fc.Advance(1 * time.Second)
	task := f.GetNextTask()
	if task == nil {
		t.Fatalf("expected early task to be due")
	}
	task.Run()

	if task := f.GetNextTask(); task != nil {
		t.Fatalf("expected late task to still be pending")
	}

	fc.Advance(1 * time.Second)
	task = f.GetNextTask()
	if task == nil {
		t.Fatalf("expected late task to be due")
	}
	task.Run()

	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Fatalf("order = %v, want [early late]", order)
	}
}

func TestForegroundTerminateDropsQueue(t *testing.T) {
	f := NewForeground()
	f.PostTask(func() {})
	f.Terminate()
	if f.HasReadyTask() {
		t.Fatalf("terminated runner must report no ready tasks")
	}
	f.PostTask(func() {})
	if f.HasReadyTask() {
		t.Fatalf("terminated runner must drop posts")
	}
}

func TestForegroundIdleTaskFIFO(t *testing.T) {
	f := NewForeground()
	var ran []int
	f.PostIdleTask(func(time.Time) { ran = append(ran, 1) })
	f.PostIdleTask(func(time.Time) { ran = append(ran, 2) })

	it := f.GetNextIdleTask()
	if it == nil {
		t.Fatalf("expected idle task")
	}
	it.Run(time.Now())
	it = f.GetNextIdleTask()
	if it == nil {
		t.Fatalf("expected second idle task")
	}
	it.Run(time.Now())

	if it := f.GetNextIdleTask(); it != nil {
		t.Fatalf("expected no more idle tasks")
	}
	if len(ran) != 2 || ran[0] != 1 || ran[1] != 2 {
		t.Fatalf("ran = %v, want [1 2]", ran)
	}
}
