package state

import (
	"fmt"
	"sort"
	"strings"
)

// LastValueKey is the reserved store key under which the value of a trailing
// expression is boxed by the synthesized entry point. The key contains a ':'
// so it can never collide with a Go identifier.
const LastValueKey = "goeval:last"

// VariableRecord tracks one session variable that is alive across evaluations.
type VariableRecord struct {
	Name string
	// TypeName is the Go spelling of the variable's type. Empty until the
	// type-discovery driver resolves it.
	TypeName string
	// TypeImports lists the import paths needed to spell TypeName.
	TypeImports []string
	// Mutable records whether the binding may be reassigned. Every plain Go
	// binding is; the flag exists so a future const-like binding form can opt
	// out of postamble writes.
	Mutable bool
	// Preserve is false for variables whose type cannot be re-spelled in a
	// later synthesized unit. Such bindings still work within their own
	// evaluation but are dropped from the store afterwards.
	Preserve bool
}

// Resolved reports whether the record carries a concrete type.
func (r *VariableRecord) Resolved() bool {
	return r != nil && r.TypeName != ""
}

// ItemKind classifies a module-scope declaration accumulated by the session.
type ItemKind string

const (
	ItemFunc   ItemKind = "func"
	ItemMethod ItemKind = "method"
	ItemType   ItemKind = "type"
	ItemConst  ItemKind = "const"
)

// ItemRecord is a permanently accumulated declaration. Records are never
// mutated; a same-name redeclaration supersedes the previous one in place so
// later evaluations see exactly one definition.
type ItemRecord struct {
	Kind   ItemKind
	Name   string
	Source string
}

func (i ItemRecord) key() string {
	return string(i.Kind) + "\x00" + i.Name
}

// ImportRecord is one accumulated import declaration.
type ImportRecord struct {
	Alias string // "" for default, "_" or "." preserved verbatim
	Path  string
}

func (i ImportRecord) key() string {
	return i.Alias + "\x00" + i.Path
}

// Qualifier returns the identifier under which the import is referenced, or
// "" when the import introduces no usable qualifier.
func (i ImportRecord) Qualifier() string {
	if i.Alias == "_" || i.Alias == "." {
		return ""
	}
	if i.Alias != "" {
		return i.Alias
	}
	if idx := strings.LastIndex(i.Path, "/"); idx >= 0 {
		return i.Path[idx+1:]
	}
	return i.Path
}

// DependencySpec pins one external module required by synthesized units.
type DependencySpec struct {
	Path    string `yaml:"path"`
	Version string `yaml:"version"`
}

// Session is one committed snapshot of everything visible to the next
// evaluation. A snapshot is never mutated after commit: the state machine
// clones it, lets the evaluation mutate the clone speculatively, and swaps
// the clone in atomically on success.
type Session struct {
	vars    map[string]*VariableRecord
	items   []ItemRecord
	imports []ImportRecord
	deps    []DependencySpec
}

// NewSession returns an empty snapshot.
func NewSession() *Session {
	return &Session{vars: make(map[string]*VariableRecord)}
}

// Clone returns a deep copy suitable for speculative mutation.
func (s *Session) Clone() *Session {
	out := NewSession()
	if s == nil {
		return out
	}
	for name, rec := range s.vars {
		cp := *rec
		cp.TypeImports = append([]string(nil), rec.TypeImports...)
		out.vars[name] = &cp
	}
	out.items = append([]ItemRecord(nil), s.items...)
	out.imports = append([]ImportRecord(nil), s.imports...)
	out.deps = append([]DependencySpec(nil), s.deps...)
	return out
}

// BindVariable inserts or replaces (shadows) the record for rec.Name.
func (s *Session) BindVariable(rec *VariableRecord) error {
	if rec == nil || rec.Name == "" {
		return fmt.Errorf("state: variable record missing name")
	}
	s.vars[rec.Name] = rec
	return nil
}

// Variable returns the record for name, or nil.
func (s *Session) Variable(name string) *VariableRecord {
	if s == nil {
		return nil
	}
	return s.vars[name]
}

// DropVariable removes name from the store descriptor.
func (s *Session) DropVariable(name string) {
	delete(s.vars, name)
}

// Variables returns all records in name order.
func (s *Session) Variables() []*VariableRecord {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*VariableRecord, 0, len(names))
	for _, name := range names {
		out = append(out, s.vars[name])
	}
	return out
}

// AddItem appends item, superseding any prior item with the same kind and
// name in place so accumulated source order stays stable.
func (s *Session) AddItem(item ItemRecord) {
	if item.Name != "" {
		for i := range s.items {
			if s.items[i].key() == item.key() {
				s.items[i] = item
				return
			}
		}
	}
	s.items = append(s.items, item)
}

// Items returns accumulated items in declaration order.
func (s *Session) Items() []ItemRecord {
	return s.items
}

// AddImport records an import declaration, deduplicating exact repeats. An
// import whose qualifier collides with an earlier one supersedes it, matching
// last-wins item semantics.
func (s *Session) AddImport(imp ImportRecord) {
	if imp.Path == "" {
		return
	}
	for i := range s.imports {
		if s.imports[i].key() == imp.key() {
			return
		}
		if q := imp.Qualifier(); q != "" && s.imports[i].Qualifier() == q {
			s.imports[i] = imp
			return
		}
	}
	s.imports = append(s.imports, imp)
}

// Imports returns accumulated imports in declaration order.
func (s *Session) Imports() []ImportRecord {
	return s.imports
}

// ImportPathFor resolves a package qualifier against accumulated imports.
func (s *Session) ImportPathFor(qualifier string) (string, bool) {
	if s == nil || qualifier == "" {
		return "", false
	}
	for _, imp := range s.imports {
		if imp.Qualifier() == qualifier {
			return imp.Path, true
		}
	}
	return "", false
}

// AddDependency records an external module requirement, replacing any prior
// spec for the same module path.
func (s *Session) AddDependency(dep DependencySpec) error {
	if dep.Path == "" {
		return fmt.Errorf("state: dependency missing module path")
	}
	for i := range s.deps {
		if s.deps[i].Path == dep.Path {
			s.deps[i] = dep
			return nil
		}
	}
	s.deps = append(s.deps, dep)
	return nil
}

// Dependencies returns accumulated dependency specs in declaration order.
func (s *Session) Dependencies() []DependencySpec {
	return s.deps
}
