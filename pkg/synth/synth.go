// Package synth renders one evaluation's worth of segmented units into a
// complete, compilable plugin package: accumulated items at module scope, a
// uniquely named entry function wrapping the statements, a preamble that
// rebinds stored variables, and a postamble that stores them back.
package synth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/repltools/goeval/pkg/segment"
	"github.com/repltools/goeval/pkg/state"
)

// VariableChangedPrefix is the sentinel panic message prefix raised by a
// preamble type assertion that no longer holds, typically because the
// variable's type was redefined in a later evaluation.
const VariableChangedPrefix = "GOEVAL_VARIABLE_CHANGED_TYPE:"

const (
	refsParam = "goevalRefs"
	okVar     = "goevalOK"
	probeType = "goevalProbe"
)

// Adjust carries diagnostic-driven corrections the discovery driver applies
// between synthesis cycles.
type Adjust struct {
	// BlankImports forces the listed import paths to be emitted with a
	// blank alias for this evaluation only.
	BlankImports map[string]bool
	// DemoteCapture turns the trailing-expression capture back into a plain
	// statement (the expression produced no value, or more than one).
	DemoteCapture bool
}

// Input describes one synthesis request. Units must contain only statement
// and trailing-expression units; item units are accumulated on the session
// before synthesis and re-emitted from there.
type Input struct {
	Session   *state.Session
	Units     []segment.Unit
	EvalID    int
	GoVersion string
	Adjust    Adjust
}

// Result is the rendered module plus the bookkeeping the discovery driver
// needs to attribute compiler diagnostics to synthesized lines.
type Result struct {
	// Files maps file name to contents: go.mod and main.go.
	Files      map[string][]byte
	EntryName  string
	ModuleName string
	// Restored and Saved list variable names moved out of and back into the
	// store by this unit, in emission order.
	Restored []string
	Saved    []string
	// Probed lists variables given a placeholder probe this cycle.
	Probed []string
	// CaptureLast reports whether the trailing expression's value is boxed
	// into the store under state.LastValueKey.
	CaptureLast bool

	lines []LineInfo
}

// LineRole classifies one physical line of the synthesized main.go.
type LineRole int

const (
	RoleNone LineRole = iota
	RoleHeader
	RoleItem
	RolePreamble
	RoleUser
	RoleProbe
	RoleCapture
	RolePostamble
)

// LineInfo attributes one main.go line back to its origin.
type LineInfo struct {
	Role LineRole
	// Var is the variable concerned, for preamble/probe/postamble lines.
	Var string
	// Unit indexes Input.Units for user-code lines.
	Unit int
}

// RoleAt returns the attribution for a 1-based main.go line.
func (r *Result) RoleAt(line int) LineInfo {
	if r == nil || line < 1 || line > len(r.lines) {
		return LineInfo{Role: RoleNone, Unit: -1}
	}
	return r.lines[line-1]
}

// EntryName derives the unique exported entry point for an evaluation.
func EntryName(evalID int) string {
	return fmt.Sprintf("EvalUnit_%d", evalID)
}

// Synthesize renders the module for one discovery cycle. It has no side
// effects beyond the returned text.
func Synthesize(in Input) (*Result, error) {
	if in.Session == nil {
		return nil, fmt.Errorf("synth: nil session")
	}
	if in.EvalID < 0 {
		return nil, fmt.Errorf("synth: negative evaluation id")
	}
	for _, u := range in.Units {
		if u.Kind == segment.KindItem {
			return nil, fmt.Errorf("synth: item unit %q must be accumulated before synthesis", u.Name)
		}
	}

	res := &Result{
		EntryName:  EntryName(in.EvalID),
		ModuleName: fmt.Sprintf("evalunit%d", in.EvalID),
	}

	binds := bindOrder(in.Units)
	rebound := make(map[string]bool, len(binds))
	for _, name := range binds {
		rebound[name] = true
	}

	// Every resolved, preservable variable not re-bound by this snippet is
	// restored; the store itself is left untouched until the postamble so a
	// panic cannot lose committed values.
	var restored []string
	for _, rec := range in.Session.Variables() {
		if rec.Resolved() && rec.Preserve && !rebound[rec.Name] {
			restored = append(restored, rec.Name)
		}
	}

	var probed []string
	for _, name := range binds {
		rec := in.Session.Variable(name)
		if rec != nil && rec.Preserve && !rec.Resolved() {
			probed = append(probed, name)
		}
	}

	saved := append([]string(nil), restored...)
	for _, name := range binds {
		rec := in.Session.Variable(name)
		if rec != nil && rec.Preserve && rec.Mutable {
			saved = append(saved, name)
		}
	}

	capture := false
	if !in.Adjust.DemoteCapture {
		for _, u := range in.Units {
			if u.Kind == segment.KindTrailingExpr {
				capture = true
			}
		}
	}

	w := &lineWriter{}
	renderHeader(w, in, restored)
	renderItems(w, in)
	if len(probed) > 0 {
		w.line(LineInfo{Role: RoleHeader}, "type %s struct{ goevalProbeField struct{} }", probeType)
		w.blank()
	}
	renderEntry(w, in, res, restored, probed, saved, capture)

	res.Restored = restored
	res.Saved = saved
	res.Probed = probed
	res.CaptureLast = capture
	res.lines = w.lines
	res.Files = map[string][]byte{
		"main.go": w.bytes(),
		"go.mod":  renderGoMod(in),
	}
	return res, nil
}

// bindOrder returns names newly bound by the units, first occurrence wins.
func bindOrder(units []segment.Unit) []string {
	var order []string
	seen := make(map[string]bool)
	for _, u := range units {
		for _, b := range u.Binds {
			if seen[b.Name] {
				continue
			}
			seen[b.Name] = true
			order = append(order, b.Name)
		}
	}
	return order
}

func renderHeader(w *lineWriter, in Input, restored []string) {
	w.line(LineInfo{Role: RoleHeader}, "package main")
	w.blank()

	imports := mergedImports(in, restored)
	if len(imports) > 0 {
		w.line(LineInfo{Role: RoleHeader}, "import (")
		for _, imp := range imports {
			if imp.Alias != "" {
				w.line(LineInfo{Role: RoleHeader}, "\t%s %q", imp.Alias, imp.Path)
			} else {
				w.line(LineInfo{Role: RoleHeader}, "\t%q", imp.Path)
			}
		}
		w.line(LineInfo{Role: RoleHeader}, ")")
		w.blank()
	}
}

func renderItems(w *lineWriter, in Input) {
	for _, item := range in.Session.Items() {
		w.line(LineInfo{Role: RoleItem}, "%s", item.Source)
		w.blank()
	}
}

func renderEntry(w *lineWriter, in Input, res *Result, restored, probed, saved []string, capture bool) {
	w.line(LineInfo{Role: RoleHeader}, "func %s(%s map[string]any) {", res.EntryName, refsParam)

	for _, name := range restored {
		rec := in.Session.Variable(name)
		w.line(LineInfo{Role: RolePreamble, Var: name}, "\t%s, %s := %s[%q].(%s)", name, tempName(name), refsParam, name, rec.TypeName)
		w.line(LineInfo{Role: RolePreamble, Var: name}, "\tif !%s {", tempName(name))
		w.line(LineInfo{Role: RolePreamble, Var: name}, "\t\tpanic(%q)", VariableChangedPrefix+name)
		w.line(LineInfo{Role: RolePreamble, Var: name}, "\t}")
	}

	for i, u := range in.Units {
		if u.Kind == segment.KindTrailingExpr && capture {
			w.multiline(LineInfo{Role: RoleCapture, Unit: i}, "\t%s[%q] = %s", refsParam, state.LastValueKey, u.Text)
			continue
		}
		w.multiline(LineInfo{Role: RoleUser, Unit: i}, "\t%s", u.Text)
	}

	for _, name := range probed {
		w.line(LineInfo{Role: RoleProbe, Var: name}, "\tvar _ %s = %s", probeType, name)
	}

	for _, name := range bindOrder(in.Units) {
		w.line(LineInfo{Role: RolePostamble, Var: name}, "\t_ = %s", name)
	}
	for _, name := range saved {
		w.line(LineInfo{Role: RolePostamble, Var: name}, "\t%s[%q] = %s", refsParam, name, name)
	}

	w.line(LineInfo{Role: RoleHeader}, "}")
}

func renderGoMod(in Input) []byte {
	goVersion := in.GoVersion
	if goVersion == "" {
		goVersion = "1.25"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "module evalunit%d\n\ngo %s\n", in.EvalID, goVersion)
	deps := in.Session.Dependencies()
	if len(deps) > 0 {
		b.WriteString("\nrequire (\n")
		for _, dep := range deps {
			fmt.Fprintf(&b, "\t%s %s\n", dep.Path, dep.Version)
		}
		b.WriteString(")\n")
	}
	return []byte(b.String())
}

// tempName derives the preamble ok-variable for a restored variable. The
// source name is embedded so diagnostics stay attributable.
func tempName(name string) string {
	return okVar + "_" + name
}

// mergedImports combines accumulated session imports with the imports needed
// to spell restored variable types, blanking any import nothing references.
func mergedImports(in Input, restored []string) []state.ImportRecord {
	needed := make(map[string]bool)
	for _, name := range restored {
		rec := in.Session.Variable(name)
		if rec == nil {
			continue
		}
		for _, path := range rec.TypeImports {
			needed[path] = true
		}
	}

	var body strings.Builder
	for _, u := range in.Units {
		body.WriteString(u.Text)
		body.WriteByte('\n')
	}
	for _, item := range in.Session.Items() {
		body.WriteString(item.Source)
		body.WriteByte('\n')
	}
	text := body.String()

	var out []state.ImportRecord
	seen := make(map[string]bool)
	add := func(imp state.ImportRecord) {
		key := imp.Alias + "\x00" + imp.Path
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, imp)
	}

	for _, imp := range in.Session.Imports() {
		wasNeeded := needed[imp.Path]
		delete(needed, imp.Path)
		if in.Adjust.BlankImports[imp.Path] {
			add(state.ImportRecord{Alias: "_", Path: imp.Path})
			continue
		}
		if imp.Alias == "_" || imp.Alias == "." {
			add(imp)
			continue
		}
		if wasNeeded || qualifierUsed(text, imp.Qualifier()) {
			add(imp)
		} else {
			// Unused named imports fail compilation; keep the import's
			// side effects without its name.
			add(state.ImportRecord{Alias: "_", Path: imp.Path})
		}
	}

	var extra []string
	for path := range needed {
		if !in.Adjust.BlankImports[path] {
			extra = append(extra, path)
		}
	}
	sort.Strings(extra)
	for _, path := range extra {
		add(state.ImportRecord{Path: path})
	}
	return out
}

// qualifierUsed reports whether text references qualifier as a package
// selector. Conservative: a match inside a string literal counts as use.
func qualifierUsed(text, qualifier string) bool {
	if qualifier == "" {
		return false
	}
	search := qualifier + "."
	for idx := strings.Index(text, search); idx >= 0; {
		ok := idx == 0 || !isIdentByte(text[idx-1])
		if ok {
			return true
		}
		next := strings.Index(text[idx+1:], search)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' ||
		c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9'
}
