// Package toolchain invokes the external go compiler as a batch subprocess
// and converts its structured build output into diagnostic records.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Config controls compiler invocations.
type Config struct {
	// GoBinary is the compiler driver; "go" resolved via PATH by default.
	GoBinary string
	// BuildFlags are extra arguments appended to every build.
	BuildFlags []string
	// Env entries are appended to the inherited environment.
	Env []string
	// CacheDir pins GOCACHE so repeated builds stay warm across the session.
	CacheDir string
}

// Builder runs plugin builds.
type Builder struct {
	cfg Config
}

// NewBuilder validates the configuration and returns a builder.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.GoBinary == "" {
		cfg.GoBinary = "go"
	}
	if _, err := exec.LookPath(cfg.GoBinary); err != nil {
		return nil, fmt.Errorf("toolchain: %w", err)
	}
	return &Builder{cfg: cfg}, nil
}

// Result is the outcome of one compiler invocation.
type Result struct {
	// Success is true when the build produced the artifact.
	Success bool
	// ArtifactPath is the built plugin, valid only on success.
	ArtifactPath string
	// Diagnostics holds every parsed compiler message.
	Diagnostics []Diagnostic
	// Output is the raw decoded compiler output, for verbatim surfacing.
	Output string
}

// BuildPlugin compiles the module in dir to a dynamically loadable unit at
// out. A failed compilation returns a Result carrying diagnostics and a nil
// error; the error return is reserved for the toolchain itself failing to
// run, which callers surface as a ToolchainError.
func (b *Builder) BuildPlugin(ctx context.Context, dir, out string) (*Result, error) {
	if b == nil {
		return nil, fmt.Errorf("toolchain: nil builder")
	}
	if dir == "" || out == "" {
		return nil, fmt.Errorf("toolchain: missing build dir or output path")
	}

	args := []string{"build", "-json", "-buildmode=plugin"}
	args = append(args, b.cfg.BuildFlags...)
	args = append(args, "-o", out, ".")

	cmd := exec.CommandContext(ctx, b.cfg.GoBinary, args...)
	cmd.Dir = dir
	env := append(os.Environ(), "GOFLAGS=-mod=mod")
	if b.cfg.CacheDir != "" {
		env = append(env, "GOCACHE="+b.cfg.CacheDir)
	}
	env = append(env, b.cfg.Env...)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("toolchain: build cancelled: %w", ctx.Err())
	}

	decoded := decodeBuildEvents(stdout.Bytes())
	if stderr.Len() > 0 {
		decoded += stderr.String()
	}
	diags := parseDiagnostics(decoded)

	if runErr == nil {
		return &Result{
			Success:      true,
			ArtifactPath: filepath.Clean(out),
			Diagnostics:  diags,
			Output:       decoded,
		}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return nil, fmt.Errorf("toolchain: run %s: %w", b.cfg.GoBinary, runErr)
	}
	if len(diags) == 0 {
		// Nonzero exit with no parseable diagnostics means the toolchain
		// itself misbehaved, not the user's code.
		return nil, fmt.Errorf("toolchain: %s exited with %d: %s", b.cfg.GoBinary, exitErr.ExitCode(), firstLines(decoded, 10))
	}
	return &Result{Diagnostics: diags, Output: decoded}, nil
}

func firstLines(text string, n int) string {
	count := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			count++
			if count == n {
				return text[:i]
			}
		}
	}
	return text
}
