package eval

import (
	"fmt"

	"github.com/repltools/goeval/pkg/toolchain"
)

// The evaluation error taxonomy. Every error kind is caught at the state
// machine boundary and returned as a structured result; none escape as
// uncaught failures, and the session's committed state is unchanged after
// any of them.

// SyntaxError reports a segmentation or parse failure.
type SyntaxError struct {
	Message string
	Line    int
	Column  int
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("syntax error: %s (line %d, column %d)", e.Message, e.Line, e.Column)
	}
	return "syntax error: " + e.Message
}

// CompileError reports a terminal type-discovery failure: a non-placeholder
// diagnostic, a cycle that learned nothing, or the iteration cap.
type CompileError struct {
	Message     string
	Diagnostics []toolchain.Diagnostic
}

func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 0 {
		return e.Message
	}
	if e.Message == "" {
		return toolchain.Render(e.Diagnostics)
	}
	return e.Message + "\n" + toolchain.Render(e.Diagnostics)
}

// ToolchainError reports that the external compiler process itself failed to
// run or was cancelled.
type ToolchainError struct {
	Err error
}

func (e *ToolchainError) Error() string {
	return fmt.Sprintf("toolchain failure: %v", e.Err)
}

func (e *ToolchainError) Unwrap() error { return e.Err }

// RuntimePanic reports a recovered panic inside invoked code. The session
// was rolled back to its last committed state.
type RuntimePanic struct {
	Message string
}

func (e *RuntimePanic) Error() string {
	return "panic: " + e.Message
}
