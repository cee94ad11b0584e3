// Package eval is the session state machine: it orchestrates segmentation,
// synthesis, type discovery, building, loading and invocation for one
// evaluation at a time, committing or rolling back the session snapshot.
package eval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/repltools/goeval/pkg/deps"
	"github.com/repltools/goeval/pkg/discover"
	"github.com/repltools/goeval/pkg/loader"
	"github.com/repltools/goeval/pkg/segment"
	"github.com/repltools/goeval/pkg/state"
	"github.com/repltools/goeval/pkg/toolchain"
)

const lockfileName = "deps.lock"

// Context is one evaluation session. Evaluations against the same Context
// are strictly serialized; the variable store and the loaded-unit set are
// session-global mutable resources.
type Context struct {
	mu sync.Mutex

	cfg       *Config
	segmenter *segment.Segmenter
	driver    *discover.Driver
	registry  *loader.Registry
	resolver  *deps.Resolver
	lock      *deps.Lockfile

	// committed is replaced atomically on success, never mutated in place;
	// a failed evaluation is discarded by simply not committing.
	committed *state.Session
	// refs is the process-wide variable store handed to every entry point.
	refs map[string]any

	workDir   string
	ephemeral bool
	// nextEval is owned by the Context, not the snapshot, so an evaluation
	// number is never reused even across rollback.
	nextEval int
	closed   bool
}

// NewContext prepares a session: a workspace directory, a warm build cache
// location, and the dependency lockfile.
func NewContext(cfg *Config) (*Context, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg.normalize()
	}

	workDir := cfg.WorkDir
	ephemeral := workDir == ""
	if ephemeral {
		workDir = filepath.Join(os.TempDir(), "goeval-"+uuid.NewString())
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("eval: create work dir: %w", err)
	}

	seg, err := segment.New()
	if err != nil {
		return nil, err
	}

	builder, err := toolchain.NewBuilder(toolchain.Config{
		GoBinary:   cfg.GoBinary,
		BuildFlags: cfg.BuildFlags,
		Env:        cfg.Env,
		CacheDir:   filepath.Join(workDir, ".gocache"),
	})
	if err != nil {
		seg.Close()
		return nil, err
	}

	driver, err := discover.New(discover.Options{
		Runner:    builder,
		Policy:    toolchain.NewPolicy(cfg.DiagnosticPolicy),
		MaxCycles: cfg.MaxTypeCycles,
		GoVersion: cfg.GoVersion,
	})
	if err != nil {
		seg.Close()
		return nil, err
	}

	lock, err := deps.LoadLockfile(filepath.Join(workDir, lockfileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			seg.Close()
			return nil, err
		}
		lock = deps.NewLockfile("goeval")
		lock.Path = filepath.Join(workDir, lockfileName)
	}

	return &Context{
		cfg:       cfg,
		segmenter: seg,
		driver:    driver,
		registry:  loader.NewRegistry(),
		resolver:  deps.NewResolver(),
		lock:      lock,
		committed: state.NewSession(),
		refs:      make(map[string]any),
		workDir:   workDir,
		ephemeral: ephemeral,
	}, nil
}

// Close releases the parser and, for ephemeral workspaces, the work dir.
// Loaded units stay mapped until the process exits; the host loader offers
// no safe unload.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.segmenter.Close()
	if c.ephemeral && !c.cfg.KeepWorkDir {
		return os.RemoveAll(c.workDir)
	}
	return nil
}

// WorkDir exposes the session workspace path.
func (c *Context) WorkDir() string {
	return c.workDir
}

// Variables lists the committed variable records in name order.
func (c *Context) Variables() []*state.VariableRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed.Variables()
}

// Items lists the committed item records in accumulation order.
func (c *Context) Items() []state.ItemRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]state.ItemRecord(nil), c.committed.Items()...)
}

// Reset discards all committed variables, items, imports and dependencies.
// The evaluation counter and loaded units are retained: unit symbols must
// stay unique for the process lifetime.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = state.NewSession()
	c.refs = make(map[string]any)
}

// AddDependency records an external module requirement for all later
// synthesized units. Floating versions are pinned once per workspace via
// the lockfile.
func (c *Context) AddDependency(ctx context.Context, path, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("eval: context closed")
	}

	spec := state.DependencySpec{Path: path, Version: version}
	if spec.Version == "" || spec.Version == "latest" {
		if pinned, ok := c.lock.Lookup(path); ok {
			spec = pinned
		} else {
			resolved, err := c.resolver.Resolve(ctx, spec)
			if err != nil {
				return err
			}
			spec = resolved
			c.lock.Pin(spec)
			if err := deps.WriteLockfile(c.lock, ""); err != nil {
				return err
			}
		}
	}

	next := c.committed.Clone()
	if err := next.AddDependency(spec); err != nil {
		return err
	}
	c.committed = next
	return nil
}

// Evaluate runs one snippet through the full pipeline. It always returns
// either a successful Outcome or exactly one structured error; on any error
// the committed session state is unchanged.
func (c *Context) Evaluate(ctx context.Context, source string) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("eval: context closed")
	}

	units, err := c.segmenter.Segment(source)
	if err != nil {
		var syn *segment.SyntaxError
		if errors.As(err, &syn) {
			return nil, &SyntaxError{Message: syn.Message, Line: syn.Line, Column: syn.Column}
		}
		return nil, err
	}

	return c.attempt(ctx, units, false)
}

// attempt runs one evaluation attempt against a fresh speculative snapshot.
// retried guards the single redo after a variable-changed-type panic. The
// stale binding is dropped from the committed session before the redo runs,
// so a redo that then fails still leaves the session without it: the stored
// value was already unusable under the variable's current type.
func (c *Context) attempt(ctx context.Context, units []segment.Unit, retried bool) (*Outcome, error) {
	evalID := c.nextEval
	c.nextEval++

	spec := c.committed.Clone()
	stmts := accumulate(spec, units)
	for _, u := range stmts {
		for _, b := range u.Binds {
			rec := &state.VariableRecord{Name: b.Name, Mutable: true, Preserve: true}
			if err := spec.BindVariable(rec); err != nil {
				return nil, err
			}
			if b.TypeText != "" {
				c.driver.ApplyResolvedType(spec, b.Name, b.TypeText)
			}
		}
	}

	res, err := c.driver.Resolve(ctx, discover.Request{
		Session: spec,
		Units:   stmts,
		EvalID:  evalID,
		WorkDir: c.workDir,
	})
	if err != nil {
		var failure *discover.CompileFailure
		if errors.As(err, &failure) {
			return nil, &CompileError{Message: failure.Message, Diagnostics: failure.Diagnostics}
		}
		return nil, &ToolchainError{Err: err}
	}

	inv, err := c.registry.Invoke(res.ArtifactPath, res.Synth.EntryName, c.refs)
	if err != nil {
		return nil, err
	}

	if inv.Panic != nil {
		if name := inv.Panic.VariableChanged; name != "" && !retried {
			// The stored value no longer matches the variable's recorded
			// type, typically after its type was redefined. Drop the
			// binding and redo once against the reduced store.
			c.committed = dropCommitted(c.committed, name)
			delete(c.refs, name)
			out, err := c.attempt(ctx, units, true)
			if err == nil {
				out.DroppedVariables = append([]string{name}, out.DroppedVariables...)
			}
			return out, err
		}
		return nil, &RuntimePanic{Message: inv.Panic.Value}
	}

	lastRaw, hasLast := c.refs[state.LastValueKey]
	delete(c.refs, state.LastValueKey)

	var dropped []string
	for _, u := range stmts {
		for _, b := range u.Binds {
			rec := spec.Variable(b.Name)
			if rec != nil && !rec.Preserve {
				spec.DropVariable(b.Name)
				dropped = append(dropped, b.Name)
			}
		}
	}

	plain, blocks := extractContent(inv.Stdout)
	outcome := &Outcome{
		EvalID:           evalID,
		Stdout:           plain,
		Stderr:           inv.Stderr,
		Content:          blocks,
		DroppedVariables: dropped,
	}
	if hasLast && res.Synth.CaptureLast {
		outcome.LastValue = renderValue(lastRaw)
		outcome.HasLastValue = true
	}

	c.committed = spec
	return outcome, nil
}

// accumulate applies item units to the speculative snapshot and returns the
// remaining statement units in source order.
func accumulate(spec *state.Session, units []segment.Unit) []segment.Unit {
	var stmts []segment.Unit
	for _, u := range units {
		if u.Kind != segment.KindItem {
			stmts = append(stmts, u)
			continue
		}
		if u.Sub == "import_declaration" {
			for _, im := range u.Imports {
				spec.AddImport(state.ImportRecord{Alias: im.Alias, Path: im.Path})
			}
			continue
		}
		spec.AddItem(state.ItemRecord{Kind: itemKind(u.Sub), Name: u.Name, Source: u.Text})
	}
	return stmts
}

func itemKind(sub string) state.ItemKind {
	switch sub {
	case "function_declaration":
		return state.ItemFunc
	case "method_declaration":
		return state.ItemMethod
	case "type_declaration":
		return state.ItemType
	case "const_declaration":
		return state.ItemConst
	default:
		return state.ItemKind(sub)
	}
}

// dropCommitted returns a committed snapshot without the named variable.
// The drop itself is committed: the stale value is gone either way, and the
// retry must not resurrect it.
func dropCommitted(sess *state.Session, name string) *state.Session {
	next := sess.Clone()
	next.DropVariable(name)
	return next
}
