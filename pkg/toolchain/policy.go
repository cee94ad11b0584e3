package toolchain

import (
	"regexp"
	"strings"
)

// Policy extracts structured facts from compiler message text. The wording
// of gc diagnostics is not a stable interface, so extraction is versioned
// and pluggable rather than fixed: a toolchain upgrade that rewords a
// message only needs a new policy.
type Policy interface {
	// InferredType matches a probe mismatch and yields the variable name
	// and the compiler's spelling of its concrete type.
	InferredType(d Diagnostic) (variable, typeName string, ok bool)
	// UnusedImport matches "imported and not used" and yields the path.
	UnusedImport(d Diagnostic) (path string, ok bool)
	// Undefined matches a bare unresolved identifier.
	Undefined(d Diagnostic) (ident string, ok bool)
	// CaptureMisuse reports whether d complains about a valueless or
	// multi-valued expression being used as a single value.
	CaptureMisuse(d Diagnostic) bool
	// NonPreservable reports whether typeName cannot be re-spelled in a
	// later synthesized unit.
	NonPreservable(typeName string) bool
}

// NewPolicy returns the policy for a toolchain flavor. The only flavor
// currently shipped is "gc"; unknown values fall back to it.
func NewPolicy(flavor string) Policy {
	switch flavor {
	case "", "gc":
		return gcPolicy{}
	default:
		return gcPolicy{}
	}
}

// gcPolicy matches the message wording of the gc toolchain as of Go 1.21
// through 1.25.
type gcPolicy struct{}

var (
	gcProbeRe = regexp.MustCompile(`^cannot use (\S+) \(variable of type (.+)\) as (?:type )?goevalProbe`)
	// Older toolchains phrase the unused import with a trailing package name.
	gcUnusedImportRe = regexp.MustCompile(`^"([^"]+)" imported and not used`)
	gcUndefinedRe = regexp.MustCompile(`^undefined: ([A-Za-z_][A-Za-z0-9_]*)$`)
	// A dot followed by a lowercase identifier is a package-qualified
	// unexported type; such a type cannot be named from another package.
	unexportedSelRe = regexp.MustCompile(`\.[a-z_][A-Za-z0-9_]*`)
)

func (gcPolicy) InferredType(d Diagnostic) (string, string, bool) {
	m := gcProbeRe.FindStringSubmatch(d.Message)
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSpace(m[2]), true
}

func (gcPolicy) UnusedImport(d Diagnostic) (string, bool) {
	m := gcUnusedImportRe.FindStringSubmatch(d.Message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (gcPolicy) Undefined(d Diagnostic) (string, bool) {
	m := gcUndefinedRe.FindStringSubmatch(d.Message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (gcPolicy) CaptureMisuse(d Diagnostic) bool {
	return strings.Contains(d.Message, "(no value) used as value") ||
		strings.Contains(d.Message, "in single-value context") ||
		strings.HasPrefix(d.Message, "multiple-value")
}

func (gcPolicy) NonPreservable(typeName string) bool {
	if typeName == "" || strings.Contains(typeName, "invalid type") {
		return true
	}
	if unexportedSelRe.MatchString(typeName) {
		return true
	}
	// An unqualified identifier that is not predeclared names a type from the
	// unit's own package. Each unit is compiled as its own main package, so
	// the runtime never unifies such types across units and a later type
	// assertion on the stored value cannot succeed.
	for _, m := range typeIdentRe.FindAllStringIndex(typeName, -1) {
		start, end := m[0], m[1]
		if start > 0 && typeName[start-1] == '.' {
			continue
		}
		if end < len(typeName) && typeName[end] == '.' {
			continue
		}
		if !predeclaredTypeWords[typeName[start:end]] {
			return true
		}
	}
	return false
}

var typeIdentRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// predeclaredTypeWords holds the identifiers that may appear unqualified in a
// compiler-printed type without naming a unit-local declaration.
var predeclaredTypeWords = map[string]bool{
	"any": true, "bool": true, "byte": true, "comparable": true,
	"complex64": true, "complex128": true, "error": true,
	"float32": true, "float64": true,
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"rune": true, "string": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"uintptr": true,
	"map": true, "chan": true, "func": true, "struct": true, "interface": true,
}

var qualifierRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\.`)

// TypeQualifiers lists the distinct package qualifiers appearing in a
// compiler-printed type, in order of first appearance.
func TypeQualifiers(typeName string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range qualifierRe.FindAllStringSubmatchIndex(typeName, -1) {
		start, end := m[2], m[3]
		if start > 0 && isQualifierBoundary(typeName[start-1]) {
			continue
		}
		q := typeName[start:end]
		if seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

func isQualifierBoundary(c byte) bool {
	return c == '_' || c == '.' ||
		c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9'
}
