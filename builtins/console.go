// Package builtins installs the native bindings every Context gets for
// free: a console object backed by a Go log sink, and timers backed by
// the owning Runtime's foreground task runner. Both exercise the
// registry, native dispatch, and task runner packages end-to-end the way
// a real embedding's JS standard library would.
package builtins

import (
	v8 "github.com/tommie/v8go"

	"github.com/v8app/jsapp/internal/native"
	"github.com/v8app/jsapp/internal/registry"
)

// LogSink receives one console call. level is one of log/info/warn/error/debug.
type LogSink func(contextName, level, message string)

// InstallConsole registers a Go-backed __console function and evaluates a
// small polyfill that builds globalThis.console around it, plus the
// extended console methods (time/count/assert/table/...) that only need
// the basic levels to already exist.
func InstallConsole(iso *v8.Isolate, ctx *v8.Context, reg *registry.Registry, contextName string, sink LogSink, rec native.TemplateRecorder) error {
	if sink == nil {
		sink = func(string, string, string) {}
	}
	logFn := func(level, message string) {
		sink(contextName, level, message)
	}
	desc := native.TemplateDescriptor{Namespace: contextName, ClassName: "Console"}
	if err := native.RegisterGlobalFunction(reg, iso, ctx, "__console", logFn, rec, desc); err != nil {
		return err
	}
	if _, err := ctx.RunScript(consoleJS, "builtins:console.js"); err != nil {
		return err
	}
	if _, err := ctx.RunScript(consoleExtJS, "builtins:console_ext.js"); err != nil {
		return err
	}
	return nil
}

const consoleJS = `
(function() {
	var levels = ['log', 'info', 'warn', 'error', 'debug'];
	var con = {};
	for (var i = 0; i < levels.length; i++) {
		(function(lvl) {
			con[lvl] = function() {
				var parts = [];
				for (var j = 0; j < arguments.length; j++) {
					var arg = arguments[j];
					if (typeof arg === 'object' && arg !== null) {
						parts.push(JSON.stringify(arg));
					} else {
						parts.push(String(arg));
					}
				}
				__console(lvl, parts.join(' '));
			};
		})(levels[i]);
	}
	globalThis.console = con;
})();
`

const consoleExtJS = `
(function() {
var __timers = {};
var __counters = {};
var __groupDepth = 0;

console.time = function(label) {
	__timers[label || 'default'] = Date.now();
};
console.timeEnd = function(label) {
	var l = label || 'default';
	var start = __timers[l];
	if (start === undefined) { console.warn('Timer "' + l + '" does not exist'); return; }
	var elapsed = Date.now() - start;
	delete __timers[l];
	console.log(l + ': ' + elapsed + 'ms');
};
console.count = function(label) {
	var l = label || 'default';
	__counters[l] = (__counters[l] || 0) + 1;
	console.log(l + ': ' + __counters[l]);
};
console.countReset = function(label) {
	__counters[label || 'default'] = 0;
};
console.assert = function(cond) {
	if (!cond) {
		var args = Array.prototype.slice.call(arguments, 1);
		if (args.length > 0) {
			console.error('Assertion failed:', args.join(' '));
		} else {
			console.error('Assertion failed');
		}
	}
};
console.table = function(data) {
	console.log(JSON.stringify(data, null, 2));
};
console.group = function(label) {
	if (label) console.log(label);
	__groupDepth++;
};
console.groupEnd = function() {
	if (__groupDepth > 0) __groupDepth--;
};
console.dir = function(obj) {
	console.log(JSON.stringify(obj, null, 2));
};
})();
`
