package builtins

import (
	"fmt"
	"sync"
	"time"

	v8 "github.com/tommie/v8go"

	"github.com/v8app/jsapp/internal/native"
	"github.com/v8app/jsapp/internal/registry"
	"github.com/v8app/jsapp/internal/taskrunner"
)

// timerTable tracks outstanding setTimeout/setInterval ids so clearTimeout
// can cancel a still-pending fire.
type timerTable struct {
	mu        sync.Mutex
	nextID    int
	cancelled map[int]bool
}

func newTimerTable() *timerTable {
	return &timerTable{cancelled: make(map[int]bool)}
}

func (t *timerTable) alloc() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return t.nextID
}

func (t *timerTable) cancel(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled[id] = true
}

func (t *timerTable) isCancelled(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled[id]
}

// InstallTimers registers Go-backed setTimeout/setInterval/clearTimeout/
// clearInterval, scheduling fires on fg (the owning Runtime's foreground
// task runner) so timer callbacks run cooperatively alongside every other
// task on that isolate.
func InstallTimers(iso *v8.Isolate, ctx *v8.Context, fg *taskrunner.Foreground, reg *registry.Registry, rec native.TemplateRecorder) error {
	table := newTimerTable()

	fire := func(id int, interval bool, delayMs int) {
		if table.isCancelled(id) {
			return
		}
		script := fmt.Sprintf("globalThis.__timerFire(%d);", id)
		if _, err := ctx.RunScript(script, "builtins:timer_fire.js"); err != nil {
			return
		}
		if interval && !table.isCancelled(id) {
			fg.PostDelayedTask(func() { fire(id, true, delayMs) }, time.Duration(delayMs)*time.Millisecond)
		}
	}

	register := func(delayMs int, isInterval bool) int {
		id := table.alloc()
		fg.PostDelayedTask(func() { fire(id, isInterval, delayMs) }, time.Duration(delayMs)*time.Millisecond)
		return id
	}
	clear := func(id int) {
		table.cancel(id)
	}

	desc := native.TemplateDescriptor{ClassName: "Timers"}
	if err := native.RegisterGlobalFunction(reg, iso, ctx, "__timerRegister", register, rec, desc); err != nil {
		return err
	}
	if err := native.RegisterGlobalFunction(reg, iso, ctx, "__timerClear", clear, rec, desc); err != nil {
		return err
	}
	_, err := ctx.RunScript(timersJS, "builtins:timers.js")
	return err
}

const timersJS = `
(function() {
	globalThis.__timerCallbacks = {};
	globalThis.__timerFire = function(id) {
		var entry = globalThis.__timerCallbacks[id];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[id];
		entry.fn.apply(null, entry.args);
	};
	globalThis.setTimeout = function(fn, delay) {
		if (arguments.length === 0 || typeof fn !== 'function') {
			return 0;
		}
		var args = [];
		for (var i = 2; i < arguments.length; i++) args.push(arguments[i]);
		var id = __timerRegister(delay || 0, false);
		globalThis.__timerCallbacks[id] = { fn: fn, args: args };
		return id;
	};
	globalThis.setInterval = function(fn, interval) {
		if (arguments.length === 0 || typeof fn !== 'function') {
			return 0;
		}
		var args = [];
		for (var i = 2; i < arguments.length; i++) args.push(arguments[i]);
		var id = __timerRegister(interval || 0, true);
		globalThis.__timerCallbacks[id] = { fn: fn, args: args, interval: true };
		return id;
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		if (arguments.length === 0 || typeof id !== 'number') {
			return;
		}
		__timerClear(id);
		delete globalThis.__timerCallbacks[id];
	};
})();
`
