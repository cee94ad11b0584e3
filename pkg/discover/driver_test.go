package discover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/repltools/goeval/pkg/segment"
	"github.com/repltools/goeval/pkg/state"
	"github.com/repltools/goeval/pkg/toolchain"
)

// scriptedRunner replays one canned build result per cycle, letting each step
// inspect the synthesized main.go to place diagnostics on real lines.
type scriptedRunner struct {
	t     *testing.T
	steps []func(mainSrc string) *toolchain.Result
	calls int
}

func (r *scriptedRunner) BuildPlugin(_ context.Context, dir, out string) (*toolchain.Result, error) {
	r.t.Helper()
	if r.calls >= len(r.steps) {
		r.t.Fatalf("unexpected build call %d", r.calls+1)
	}
	data, err := os.ReadFile(filepath.Join(dir, "main.go"))
	if err != nil {
		r.t.Fatalf("read synthesized main.go: %v", err)
	}
	step := r.steps[r.calls]
	r.calls++
	res := step(string(data))
	if res.Success {
		res.ArtifactPath = out
	}
	return res, nil
}

func succeed(string) *toolchain.Result {
	return &toolchain.Result{Success: true}
}

// failAt returns a step producing one error diagnostic on the first line
// containing marker.
func failAt(t *testing.T, marker, message string) func(string) *toolchain.Result {
	return func(mainSrc string) *toolchain.Result {
		t.Helper()
		line := 0
		for i, l := range strings.Split(mainSrc, "\n") {
			if strings.Contains(l, marker) {
				line = i + 1
				break
			}
		}
		if line == 0 {
			t.Fatalf("marker %q not in synthesized source:\n%s", marker, mainSrc)
		}
		return &toolchain.Result{Diagnostics: []toolchain.Diagnostic{{
			Severity: "error",
			File:     "./main.go",
			Line:     line,
			Column:   1,
			Message:  message,
		}}}
	}
}

func newTestDriver(t *testing.T, runner BuildRunner, maxCycles int) *Driver {
	t.Helper()
	d, err := New(Options{Runner: runner, MaxCycles: maxCycles})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func bindStmt(text string, names ...string) segment.Unit {
	u := segment.Unit{Kind: segment.KindStatement, Sub: "short_var_declaration", Text: text}
	for _, name := range names {
		u.Binds = append(u.Binds, segment.Binding{Name: name})
	}
	return u
}

func TestResolveFirstCycleSuccess(t *testing.T) {
	runner := &scriptedRunner{t: t, steps: []func(string) *toolchain.Result{succeed}}
	d := newTestDriver(t, runner, 0)

	sess := state.NewSession()
	res, err := d.Resolve(context.Background(), Request{
		Session: sess,
		Units:   []segment.Unit{{Kind: segment.KindStatement, Sub: "expression_statement", Text: "println(1)"}},
		EvalID:  1,
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Cycles != 1 {
		t.Errorf("cycles = %d, want 1", res.Cycles)
	}
	if res.ArtifactPath == "" {
		t.Error("empty artifact path")
	}
}

func TestResolveDiscoversProbedType(t *testing.T) {
	sess := state.NewSession()
	if err := sess.BindVariable(&state.VariableRecord{Name: "v", Mutable: true, Preserve: true}); err != nil {
		t.Fatalf("BindVariable: %v", err)
	}
	runner := &scriptedRunner{t: t, steps: []func(string) *toolchain.Result{
		failAt(t, "var _ goevalProbe = v",
			"cannot use v (variable of type []int) as goevalProbe value in variable declaration"),
		func(mainSrc string) *toolchain.Result {
			if strings.Contains(mainSrc, "goevalProbe = v") {
				t.Errorf("probe still present after resolution:\n%s", mainSrc)
			}
			return succeed(mainSrc)
		},
	}}
	d := newTestDriver(t, runner, 0)

	res, err := d.Resolve(context.Background(), Request{
		Session: sess,
		Units:   []segment.Unit{bindStmt("v := build()", "v")},
		EvalID:  2,
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Cycles != 2 {
		t.Errorf("cycles = %d, want 2", res.Cycles)
	}
	rec := sess.Variable("v")
	if rec.TypeName != "[]int" || !rec.Preserve {
		t.Errorf("record after discovery = %+v", rec)
	}
}

func TestResolveCorrectsAcrossCycles(t *testing.T) {
	sess := state.NewSession()
	// A committed variable whose type spelling lacks its recorded import:
	// restoring it provokes an undefined qualifier once the probe is gone.
	if err := sess.BindVariable(&state.VariableRecord{Name: "w", TypeName: "time.Time", Mutable: true, Preserve: true}); err != nil {
		t.Fatalf("BindVariable: %v", err)
	}
	if err := sess.BindVariable(&state.VariableRecord{Name: "v", Mutable: true, Preserve: true}); err != nil {
		t.Fatalf("BindVariable: %v", err)
	}
	runner := &scriptedRunner{t: t, steps: []func(string) *toolchain.Result{
		failAt(t, "var _ goevalProbe = v",
			"cannot use v (variable of type []int) as goevalProbe value in variable declaration"),
		func(mainSrc string) *toolchain.Result {
			if strings.Contains(mainSrc, "goevalProbe = v") {
				t.Errorf("probe still present in second cycle:\n%s", mainSrc)
			}
			return failAt(t, ".(time.Time)", "undefined: time")(mainSrc)
		},
		func(mainSrc string) *toolchain.Result {
			if !strings.Contains(mainSrc, "\t\"time\"") {
				t.Errorf("time import missing in third cycle:\n%s", mainSrc)
			}
			return succeed(mainSrc)
		},
	}}
	d := newTestDriver(t, runner, 0)

	res, err := d.Resolve(context.Background(), Request{
		Session: sess,
		Units:   []segment.Unit{bindStmt("v := build()", "v")},
		EvalID:  10,
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Cycles != 3 {
		t.Errorf("cycles = %d, want 3", res.Cycles)
	}
	if rec := sess.Variable("v"); rec.TypeName != "[]int" {
		t.Errorf("probe resolution: %+v", rec)
	}
	if rec := sess.Variable("w"); len(rec.TypeImports) != 1 || rec.TypeImports[0] != "time" {
		t.Errorf("type import resolution: %+v", rec)
	}
}

func TestResolveBlanksUnusedImport(t *testing.T) {
	sess := state.NewSession()
	// The literal contains "fmt." so eager blanking keeps the import live; the
	// compiler then reports it unused and the driver blanks it.
	sess.AddImport(state.ImportRecord{Path: "fmt"})
	runner := &scriptedRunner{t: t, steps: []func(string) *toolchain.Result{
		failAt(t, "\t\"fmt\"", `"fmt" imported and not used`),
		func(mainSrc string) *toolchain.Result {
			if !strings.Contains(mainSrc, "\t_ \"fmt\"") {
				t.Errorf("import not blanked on retry:\n%s", mainSrc)
			}
			return succeed(mainSrc)
		},
	}}
	d := newTestDriver(t, runner, 0)

	_, err := d.Resolve(context.Background(), Request{
		Session: sess,
		Units:   []segment.Unit{bindStmt(`s := "fmt.Println"`, "s")},
		EvalID:  3,
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestResolveDemotesValuelessCapture(t *testing.T) {
	runner := &scriptedRunner{t: t, steps: []func(string) *toolchain.Result{
		failAt(t, "goeval:last", "sideEffect() (no value) used as value"),
		succeed,
	}}
	d := newTestDriver(t, runner, 0)

	res, err := d.Resolve(context.Background(), Request{
		Session: state.NewSession(),
		Units:   []segment.Unit{{Kind: segment.KindTrailingExpr, Sub: "expression_statement", Text: "sideEffect()"}},
		EvalID:  4,
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Synth.CaptureLast {
		t.Error("capture not demoted after no-value diagnostic")
	}
}

func TestResolveMarksNonPreservableProbe(t *testing.T) {
	sess := state.NewSession()
	if err := sess.BindVariable(&state.VariableRecord{Name: "b", Mutable: true, Preserve: true}); err != nil {
		t.Fatalf("BindVariable: %v", err)
	}
	runner := &scriptedRunner{t: t, steps: []func(string) *toolchain.Result{
		failAt(t, "var _ goevalProbe = b",
			"cannot use b (variable of type *strings.builder) as goevalProbe value in variable declaration"),
		succeed,
	}}
	d := newTestDriver(t, runner, 0)

	_, err := d.Resolve(context.Background(), Request{
		Session: sess,
		Units:   []segment.Unit{bindStmt("b := hidden()", "b")},
		EvalID:  5,
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	rec := sess.Variable("b")
	if rec.Preserve || rec.TypeName != "" {
		t.Errorf("unexported type not marked non-preservable: %+v", rec)
	}
}

func TestResolveSurfacesUserError(t *testing.T) {
	runner := &scriptedRunner{t: t, steps: []func(string) *toolchain.Result{
		failAt(t, "frob()", "undefined: frob"),
	}}
	d := newTestDriver(t, runner, 0)

	_, err := d.Resolve(context.Background(), Request{
		Session: state.NewSession(),
		Units:   []segment.Unit{{Kind: segment.KindStatement, Sub: "expression_statement", Text: "frob()"}},
		EvalID:  6,
		WorkDir: t.TempDir(),
	})
	var fail *CompileFailure
	if !errors.As(err, &fail) {
		t.Fatalf("error = %T (%v), want *CompileFailure", err, err)
	}
	if !strings.Contains(fail.Error(), "undefined: frob") {
		t.Errorf("failure does not surface the diagnostic: %v", fail)
	}
}

func TestResolveFailsWithoutDiagnostics(t *testing.T) {
	runner := &scriptedRunner{t: t, steps: []func(string) *toolchain.Result{
		func(string) *toolchain.Result {
			return &toolchain.Result{Output: "linker exploded"}
		},
	}}
	d := newTestDriver(t, runner, 0)

	_, err := d.Resolve(context.Background(), Request{
		Session: state.NewSession(),
		Units:   []segment.Unit{{Kind: segment.KindStatement, Sub: "expression_statement", Text: "println(1)"}},
		EvalID:  7,
		WorkDir: t.TempDir(),
	})
	var fail *CompileFailure
	if !errors.As(err, &fail) {
		t.Fatalf("error = %T (%v), want *CompileFailure", err, err)
	}
	if !strings.Contains(fail.Message, "linker exploded") {
		t.Errorf("raw output not surfaced: %q", fail.Message)
	}
}

func TestResolveHitsCycleCap(t *testing.T) {
	runner := &scriptedRunner{t: t, steps: []func(string) *toolchain.Result{
		failAt(t, "goeval:last", "sideEffect() (no value) used as value"),
	}}
	d := newTestDriver(t, runner, 1)

	_, err := d.Resolve(context.Background(), Request{
		Session: state.NewSession(),
		Units:   []segment.Unit{{Kind: segment.KindTrailingExpr, Sub: "expression_statement", Text: "sideEffect()"}},
		EvalID:  8,
		WorkDir: t.TempDir(),
	})
	var fail *CompileFailure
	if !errors.As(err, &fail) {
		t.Fatalf("error = %T (%v), want *CompileFailure", err, err)
	}
	if !strings.Contains(fail.Message, "did not converge") {
		t.Errorf("cap failure message = %q", fail.Message)
	}
}

func TestResolveHonorsCancellation(t *testing.T) {
	runner := &scriptedRunner{t: t, steps: []func(string) *toolchain.Result{succeed}}
	d := newTestDriver(t, runner, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Resolve(ctx, Request{
		Session: state.NewSession(),
		Units:   []segment.Unit{{Kind: segment.KindStatement, Sub: "expression_statement", Text: "println(1)"}},
		EvalID:  9,
		WorkDir: t.TempDir(),
	})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestApplyResolvedTypeImports(t *testing.T) {
	d := newTestDriver(t, &scriptedRunner{t: t}, 0)

	sess := state.NewSession()
	sess.AddImport(state.ImportRecord{Path: "gopkg.in/yaml.v3", Alias: "yaml"})
	if err := sess.BindVariable(&state.VariableRecord{Name: "n", Mutable: true, Preserve: true}); err != nil {
		t.Fatalf("BindVariable: %v", err)
	}

	d.ApplyResolvedType(sess, "n", "*yaml.Node")
	rec := sess.Variable("n")
	if rec.TypeName != "*yaml.Node" || len(rec.TypeImports) != 1 || rec.TypeImports[0] != "gopkg.in/yaml.v3" {
		t.Errorf("session-import resolution: %+v", rec)
	}

	// A stdlib qualifier resolves without a session import.
	if err := sess.BindVariable(&state.VariableRecord{Name: "when", Mutable: true, Preserve: true}); err != nil {
		t.Fatalf("BindVariable: %v", err)
	}
	d.ApplyResolvedType(sess, "when", "time.Time")
	if rec := sess.Variable("when"); rec.TypeImports[0] != "time" {
		t.Errorf("stdlib resolution: %+v", rec)
	}

	// An unresolvable qualifier makes the variable non-preservable.
	if err := sess.BindVariable(&state.VariableRecord{Name: "odd", Mutable: true, Preserve: true}); err != nil {
		t.Fatalf("BindVariable: %v", err)
	}
	d.ApplyResolvedType(sess, "odd", "mystery.Thing")
	if rec := sess.Variable("odd"); rec.Preserve || rec.TypeName != "" {
		t.Errorf("unresolvable qualifier kept preservable: %+v", rec)
	}
}
