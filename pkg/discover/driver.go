// Package discover drives repeated synthesize/compile cycles, feeding
// structured compiler diagnostics back into the variable store descriptor
// until every new variable's type is resolved or a real error remains.
package discover

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/repltools/goeval/pkg/segment"
	"github.com/repltools/goeval/pkg/state"
	"github.com/repltools/goeval/pkg/synth"
	"github.com/repltools/goeval/pkg/toolchain"
)

// DefaultMaxCycles bounds the fixed-point loop. Discovery normally converges
// in two or three cycles; the cap guards against diagnostic wording changes
// feeding the loop nothing it can act on.
const DefaultMaxCycles = 5

// BuildRunner abstracts the compiler invocation so the loop can be exercised
// against scripted diagnostics.
type BuildRunner interface {
	BuildPlugin(ctx context.Context, dir, out string) (*toolchain.Result, error)
}

// Driver owns one session's discovery loop.
type Driver struct {
	runner    BuildRunner
	policy    toolchain.Policy
	maxCycles int
	goVersion string
}

// Options configures a Driver.
type Options struct {
	Runner    BuildRunner
	Policy    toolchain.Policy
	MaxCycles int
	GoVersion string
}

// New constructs a driver.
func New(opts Options) (*Driver, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("discover: missing build runner")
	}
	policy := opts.Policy
	if policy == nil {
		policy = toolchain.NewPolicy("gc")
	}
	cycles := opts.MaxCycles
	if cycles <= 0 {
		cycles = DefaultMaxCycles
	}
	return &Driver{
		runner:    opts.Runner,
		policy:    policy,
		maxCycles: cycles,
		goVersion: opts.GoVersion,
	}, nil
}

// Request is one evaluation's discovery input. Session is the speculative
// snapshot; the driver mutates its variable records as types resolve.
type Request struct {
	Session *state.Session
	Units   []segment.Unit
	EvalID  int
	// WorkDir receives the synthesized module directory and artifact.
	WorkDir string
}

// Resolution is a successful discovery outcome.
type Resolution struct {
	Dir          string
	ArtifactPath string
	Synth        *synth.Result
	// Cycles is how many compile attempts the resolution took.
	Cycles int
}

// CompileFailure is the terminal error of an exhausted or dead-ended loop.
type CompileFailure struct {
	Message     string
	Diagnostics []toolchain.Diagnostic
}

func (e *CompileFailure) Error() string {
	if len(e.Diagnostics) == 0 {
		return e.Message
	}
	if e.Message == "" {
		return toolchain.Render(e.Diagnostics)
	}
	return e.Message + "\n" + toolchain.Render(e.Diagnostics)
}

// Resolve runs the loop: synthesize with current best-guess types, compile,
// harvest diagnostics, adjust, repeat. Terminates on success, on a cycle
// that learned nothing, on any diagnostic it may not auto-correct, or at the
// iteration cap.
func (d *Driver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	if req.Session == nil {
		return nil, fmt.Errorf("discover: nil session")
	}
	adjust := synth.Adjust{BlankImports: make(map[string]bool)}
	dir := filepath.Join(req.WorkDir, fmt.Sprintf("evalunit%d", req.EvalID))
	out := filepath.Join(req.WorkDir, fmt.Sprintf("evalunit%d.so", req.EvalID))

	for cycle := 1; cycle <= d.maxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("discover: cancelled: %w", err)
		}
		res, err := synth.Synthesize(synth.Input{
			Session:   req.Session,
			Units:     req.Units,
			EvalID:    req.EvalID,
			GoVersion: d.goVersion,
			Adjust:    adjust,
		})
		if err != nil {
			return nil, err
		}
		if err := res.Write(dir); err != nil {
			return nil, err
		}
		build, err := d.runner.BuildPlugin(ctx, dir, out)
		if err != nil {
			return nil, err
		}
		if build.Success {
			return &Resolution{Dir: dir, ArtifactPath: build.ArtifactPath, Synth: res, Cycles: cycle}, nil
		}

		progress, terminal := d.harvest(req.Session, res, &adjust, build.Diagnostics)
		if len(terminal) > 0 {
			return nil, &CompileFailure{Diagnostics: terminal}
		}
		if !progress {
			failure := &CompileFailure{Diagnostics: toolchain.Errors(build.Diagnostics)}
			if len(failure.Diagnostics) == 0 {
				failure.Message = fmt.Sprintf("discover: build failed without diagnostics:\n%s", build.Output)
			}
			return nil, failure
		}
	}
	return nil, &CompileFailure{
		Message: fmt.Sprintf("discover: type discovery did not converge after %d cycles", d.maxCycles),
	}
}

// harvest applies each diagnostic to the speculative session or synthesis
// adjustments. Diagnostics it cannot act on are terminal and surfaced
// verbatim; probe mismatches and synthesis bookkeeping are consumed.
func (d *Driver) harvest(sess *state.Session, res *synth.Result, adjust *synth.Adjust, diags []toolchain.Diagnostic) (bool, []toolchain.Diagnostic) {
	progress := false
	var terminal []toolchain.Diagnostic
	for _, diag := range toolchain.Errors(diags) {
		if filepath.Base(diag.File) != "main.go" {
			terminal = append(terminal, diag)
			continue
		}
		info := res.RoleAt(diag.Line)
		switch {
		case info.Role == synth.RoleProbe:
			if name, typeName, ok := d.policy.InferredType(diag); ok {
				d.ApplyResolvedType(sess, name, typeName)
				progress = true
				continue
			}
			terminal = append(terminal, diag)
		case info.Role == synth.RoleCapture && d.policy.CaptureMisuse(diag):
			if !adjust.DemoteCapture {
				adjust.DemoteCapture = true
				progress = true
			}
		case info.Role == synth.RoleHeader:
			if path, ok := d.policy.UnusedImport(diag); ok {
				if !adjust.BlankImports[path] {
					adjust.BlankImports[path] = true
					progress = true
				}
				continue
			}
			terminal = append(terminal, diag)
		case info.Role == synth.RolePreamble || info.Role == synth.RolePostamble:
			if ident, ok := d.policy.Undefined(diag); ok {
				if d.resolveTypeImport(sess, info.Var, ident) {
					progress = true
					continue
				}
			}
			terminal = append(terminal, diag)
		default:
			terminal = append(terminal, diag)
		}
	}
	return progress, terminal
}

// ApplyResolvedType records a discovered or declared type on the variable
// record, resolving the import paths its spelling needs. A type that cannot
// be re-spelled marks the variable non-preservable instead of failing.
func (d *Driver) ApplyResolvedType(sess *state.Session, name, typeName string) {
	rec := sess.Variable(name)
	if rec == nil {
		return
	}
	if d.policy.NonPreservable(typeName) {
		rec.TypeName = ""
		rec.TypeImports = nil
		rec.Preserve = false
		return
	}
	var imports []string
	for _, q := range toolchain.TypeQualifiers(typeName) {
		path, ok := sess.ImportPathFor(q)
		if !ok {
			path, ok = stdlibImport(q)
		}
		if !ok {
			// The spelling references a package this session cannot name.
			rec.TypeName = ""
			rec.TypeImports = nil
			rec.Preserve = false
			return
		}
		imports = append(imports, path)
	}
	rec.TypeName = typeName
	rec.TypeImports = imports
}

// resolveTypeImport handles an undefined package qualifier surfacing in a
// preamble or postamble line, typically when a resolved type's spelling
// references a package the unit does not yet import.
func (d *Driver) resolveTypeImport(sess *state.Session, variable, qualifier string) bool {
	rec := sess.Variable(variable)
	if rec == nil || !rec.Resolved() {
		return false
	}
	path, ok := sess.ImportPathFor(qualifier)
	if !ok {
		path, ok = stdlibImport(qualifier)
	}
	if !ok {
		rec.TypeName = ""
		rec.TypeImports = nil
		rec.Preserve = false
		return true
	}
	for _, existing := range rec.TypeImports {
		if existing == path {
			return false
		}
	}
	rec.TypeImports = append(rec.TypeImports, path)
	return true
}
