// Package taskrunner implements the cooperative foreground queue and the
// parallel worker pools that satisfy the embedder-callback contract for
// scheduling isolate-bound and off-isolate work.
package taskrunner

import "time"

// Nestability controls whether a task may run while a nested task-run
// scope is active on a foreground runner.
type Nestability int

const (
	Nestable Nestability = iota
	NonNestable
)

// Priority selects which worker pool a task is posted to.
type Priority int

const (
	BestEffort Priority = iota
	UserVisible
	UserBlocking
)

// Func is the work a Task performs when run. It is invoked exactly once.
type Func func()

// Task collapses the {NormalTask, NonNestableTask, DelayedTask{due},
// NonNestableDelayedTask{due}, IdleTask} variants into one struct with a
// nestability flag and an optional due time — the idiomatic-Go rendition
// of a tagged union with only two axes of variation.
type Task struct {
	Run         Func
	Nestability Nestability
	Due         time.Time // zero value means "ready immediately"
	seq         uint64    // assigned at post time, breaks due-time ties in FIFO order
}

func (t *Task) isDelayed() bool { return !t.Due.IsZero() }

// IdleTask is run with the remaining time budget for the current idle
// period.
type IdleTask struct {
	Run func(deadline time.Time)
	seq uint64
}
