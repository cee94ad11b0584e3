// Package loader opens built evaluation units via the host dynamic-loading
// facility, resolves their entry points, and invokes them with panic
// isolation and output capture.
package loader

import (
	"fmt"
	"io"
	"os"
	"plugin"
	"strings"
	"sync"

	"github.com/repltools/goeval/pkg/synth"
)

// LoadError indicates a unit failed to load or its entry point could not be
// resolved. Given synthesis controls both sides, this signals an internal
// inconsistency rather than a user error.
type LoadError struct {
	Path   string
	Symbol string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("loader: %s: symbol %s: %v", e.Path, e.Symbol, e.Err)
	}
	return fmt.Sprintf("loader: %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// PanicRecord describes a recovered panic from invoked code.
type PanicRecord struct {
	// Value is the panic value rendered as text.
	Value string
	// VariableChanged names the variable whose preamble assertion failed,
	// when the panic carried the sentinel prefix.
	VariableChanged string
}

// InvokeResult is the outcome of one entry point call.
type InvokeResult struct {
	Stdout string
	Stderr string
	// Panic is nil when the call returned normally.
	Panic *PanicRecord
}

// Registry retains every loaded unit for the life of the session. Units are
// never unloaded: values persisted in the store may point into a unit's
// data, so unloading would leave them dangling.
type Registry struct {
	mu     sync.Mutex
	loaded map[string]*plugin.Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{loaded: make(map[string]*plugin.Plugin)}
}

// Count reports how many units the session has loaded.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loaded)
}

// Invoke loads the unit at path (once; repeat loads reuse the cached
// handle), resolves entry, and calls it with refs as the process-wide
// variable store. Stdout and stderr emitted during the call are captured. A
// panic in the invoked code is converted into a PanicRecord, never
// propagated.
//
// Callers must serialize invocations: output capture swaps the process-wide
// stdout and stderr for the duration of the call.
func (r *Registry) Invoke(path, entry string, refs map[string]any) (*InvokeResult, error) {
	if r == nil {
		return nil, fmt.Errorf("loader: nil registry")
	}
	p, err := r.open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	sym, err := p.Lookup(entry)
	if err != nil {
		return nil, &LoadError{Path: path, Symbol: entry, Err: err}
	}
	fn, ok := sym.(func(map[string]any))
	if !ok {
		return nil, &LoadError{Path: path, Symbol: entry, Err: fmt.Errorf("unexpected entry signature %T", sym)}
	}

	res := &InvokeResult{}
	stdout, stderr, err := captureOutput(func() {
		res.Panic = call(fn, refs)
	})
	if err != nil {
		return nil, fmt.Errorf("loader: capture output: %w", err)
	}
	res.Stdout = stdout
	res.Stderr = stderr
	return res, nil
}

func (r *Registry) open(path string) (*plugin.Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.loaded[path]; ok {
		return p, nil
	}
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	r.loaded[path] = p
	return p, nil
}

// call runs the entry point, converting a panic into a record. The deferred
// recover runs in the host's frames, so unwinding never crosses back into
// unit code.
func call(entry func(map[string]any), refs map[string]any) (rec *PanicRecord) {
	defer func() {
		if v := recover(); v != nil {
			msg := panicMessage(v)
			rec = &PanicRecord{Value: msg}
			if rest, found := strings.CutPrefix(msg, synth.VariableChangedPrefix); found {
				rec.VariableChanged = rest
			}
		}
	}()
	entry(refs)
	return nil
}

func panicMessage(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprint(v)
	}
}

// captureOutput swaps the process stdout/stderr for pipes around fn and
// returns everything written during the call.
func captureOutput(fn func()) (string, string, error) {
	readOut, writeOut, err := os.Pipe()
	if err != nil {
		return "", "", err
	}
	readErr, writeErr, err := os.Pipe()
	if err != nil {
		readOut.Close()
		writeOut.Close()
		return "", "", err
	}

	origOut, origErr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = writeOut, writeErr

	outCh := drain(readOut)
	errCh := drain(readErr)

	fn()

	os.Stdout, os.Stderr = origOut, origErr
	writeOut.Close()
	writeErr.Close()
	return <-outCh, <-errCh, nil
}

func drain(r *os.File) <-chan string {
	ch := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(r)
		r.Close()
		ch <- string(data)
	}()
	return ch
}
