package loader

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestCallRecoversPanic(t *testing.T) {
	rec := call(func(map[string]any) { panic("boom") }, nil)
	if rec == nil {
		t.Fatal("panic not recorded")
	}
	if rec.Value != "boom" || rec.VariableChanged != "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestCallNormalReturn(t *testing.T) {
	refs := map[string]any{}
	rec := call(func(m map[string]any) { m["done"] = true }, refs)
	if rec != nil {
		t.Fatalf("unexpected panic record: %+v", rec)
	}
	if refs["done"] != true {
		t.Error("entry did not receive the store")
	}
}

func TestCallParsesChangedTypeSentinel(t *testing.T) {
	rec := call(func(map[string]any) { panic("GOEVAL_VARIABLE_CHANGED_TYPE:count") }, nil)
	if rec == nil {
		t.Fatal("panic not recorded")
	}
	if rec.VariableChanged != "count" {
		t.Errorf("VariableChanged = %q, want count", rec.VariableChanged)
	}
}

func TestPanicMessage(t *testing.T) {
	cases := []struct {
		value any
		want  string
	}{
		{"text", "text"},
		{errors.New("wrapped"), "wrapped"},
		{42, "42"},
	}
	for _, tc := range cases {
		if got := panicMessage(tc.value); got != tc.want {
			t.Errorf("panicMessage(%v) = %q, want %q", tc.value, got, tc.want)
		}
	}
}

func TestCaptureOutput(t *testing.T) {
	stdout, stderr, err := captureOutput(func() {
		fmt.Println("to stdout")
		fmt.Fprintln(os.Stderr, "to stderr")
	})
	if err != nil {
		t.Fatalf("captureOutput: %v", err)
	}
	if stdout != "to stdout\n" {
		t.Errorf("stdout = %q", stdout)
	}
	if stderr != "to stderr\n" {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestCaptureOutputSurvivesPanicHandling(t *testing.T) {
	var rec *PanicRecord
	stdout, _, err := captureOutput(func() {
		rec = call(func(map[string]any) {
			fmt.Println("before panic")
			panic("late")
		}, nil)
	})
	if err != nil {
		t.Fatalf("captureOutput: %v", err)
	}
	if stdout != "before panic\n" {
		t.Errorf("stdout = %q", stdout)
	}
	if rec == nil || rec.Value != "late" {
		t.Errorf("panic record = %+v", rec)
	}
}

func TestInvokeMissingUnit(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke("/nonexistent/unit.so", "EvalUnit_1", map[string]any{})
	var load *LoadError
	if !errors.As(err, &load) {
		t.Fatalf("error = %T (%v), want *LoadError", err, err)
	}
	if load.Path != "/nonexistent/unit.so" {
		t.Errorf("path = %q", load.Path)
	}
	if r.Count() != 0 {
		t.Errorf("failed load cached: count = %d", r.Count())
	}
}
