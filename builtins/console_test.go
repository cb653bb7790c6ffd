package builtins

import (
	"testing"

	v8 "github.com/tommie/v8go"

	"github.com/v8app/jsapp/internal/registry"
)

func newTestContext(t *testing.T) (*v8.Isolate, *v8.Context) {
	t.Helper()
	iso := v8.NewIsolate()
	ctx := v8.NewContext(iso)
	t.Cleanup(func() {
		ctx.Close()
		iso.Dispose()
	})
	return iso, ctx
}

func TestInstallConsoleCapturesLevelsAndMessages(t *testing.T) {
	iso, ctx := newTestContext(t)
	reg := registry.New()

	type entry struct{ level, message string }
	var got []entry
	sink := func(ctxName, level, message string) {
		got = append(got, entry{level, message})
	}

	if err := InstallConsole(iso, ctx, reg, "test-ctx", sink, nil); err != nil {
		t.Fatalf("InstallConsole: %v", err)
	}

	if _, err := ctx.RunScript(`console.log("hello", "world", 42);`, "t.js"); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d log entries, want 1", len(got))
	}
	if got[0].level != "log" || got[0].message != "hello world 42" {
		t.Errorf("got %+v", got[0])
	}
}

func TestInstallConsoleAllLevels(t *testing.T) {
	iso, ctx := newTestContext(t)
	reg := registry.New()

	var levels []string
	sink := func(_, level, _ string) { levels = append(levels, level) }
	if err := InstallConsole(iso, ctx, reg, "test-ctx", sink, nil); err != nil {
		t.Fatalf("InstallConsole: %v", err)
	}

	script := `console.log("a"); console.info("b"); console.warn("c"); console.error("d"); console.debug("e");`
	if _, err := ctx.RunScript(script, "t.js"); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	want := []string{"log", "info", "warn", "error", "debug"}
	if len(levels) != len(want) {
		t.Fatalf("levels = %v, want %v", levels, want)
	}
	for i := range want {
		if levels[i] != want[i] {
			t.Errorf("levels[%d] = %q, want %q", i, levels[i], want[i])
		}
	}
}

func TestInstallConsoleTimeEndReportsElapsed(t *testing.T) {
	iso, ctx := newTestContext(t)
	reg := registry.New()

	var messages []string
	sink := func(_, _, message string) { messages = append(messages, message) }
	if err := InstallConsole(iso, ctx, reg, "test-ctx", sink, nil); err != nil {
		t.Fatalf("InstallConsole: %v", err)
	}

	script := `console.time("op"); console.timeEnd("op");`
	if _, err := ctx.RunScript(script, "t.js"); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
}

func TestInstallConsoleTimeEndMissingLabelWarns(t *testing.T) {
	iso, ctx := newTestContext(t)
	reg := registry.New()

	var levels []string
	sink := func(_, level, _ string) { levels = append(levels, level) }
	if err := InstallConsole(iso, ctx, reg, "test-ctx", sink, nil); err != nil {
		t.Fatalf("InstallConsole: %v", err)
	}

	if _, err := ctx.RunScript(`console.timeEnd("never-started");`, "t.js"); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if len(levels) != 1 || levels[0] != "warn" {
		t.Errorf("levels = %v, want [warn]", levels)
	}
}
