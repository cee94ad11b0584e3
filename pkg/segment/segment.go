// Package segment splits raw snippet text into an ordered sequence of
// syntactic units: module-scope items, statements, and an optional trailing
// expression. Unit boundaries are derived by balance-scanning the raw text;
// tree-sitter is used to validate and classify each unit, not to locate it.
package segment

import (
	"fmt"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
)

// Kind classifies a unit.
type Kind int

const (
	// KindItem is a module-scope declaration: func, method, type, const, import.
	KindItem Kind = iota
	// KindStatement is an ordinary statement evaluated inside the wrapper.
	KindStatement
	// KindTrailingExpr is a final expression whose value is the evaluation result.
	KindTrailingExpr
)

func (k Kind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindStatement:
		return "statement"
	case KindTrailingExpr:
		return "trailing-expression"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Binding is one variable bound by a statement unit.
type Binding struct {
	Name string
	// TypeText is the declared type when the statement spells one
	// (var x T = ...); empty for := bindings.
	TypeText string
}

// ImportSpec is one path/alias pair from an import declaration.
type ImportSpec struct {
	Alias string
	Path  string
}

// Unit is one segmented piece of a snippet.
type Unit struct {
	Kind Kind
	// Sub is the tree-sitter node kind, e.g. "function_declaration" or
	// "expression_statement".
	Sub string
	// Name identifies item units for supersede-by-name accumulation.
	Name string
	// Text is the unit's raw source text.
	Text string
	// Line is the 1-based line within the snippet where the unit starts.
	Line int
	// Binds lists variables newly bound by a statement unit.
	Binds []Binding
	// Imports holds the expanded specs of an import declaration unit.
	Imports []ImportSpec
}

// SyntaxError reports a parse failure with a best-effort snippet location.
type SyntaxError struct {
	Message string
	Line    int
	Column  int
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d, column %d)", e.Message, e.Line, e.Column)
	}
	return e.Message
}

// Segmenter wraps a tree-sitter parser configured for Go snippets.
type Segmenter struct {
	parser *sitter.Parser
}

// New constructs a segmenter with the Go grammar loaded.
func New() (*Segmenter, error) {
	lang := sitter.NewLanguage(tree_sitter_go.Language())
	if lang == nil {
		return nil, fmt.Errorf("segment: go grammar not available")
	}
	p := sitter.NewParser()
	if err := p.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	return &Segmenter{parser: p}, nil
}

// Close releases parser resources.
func (s *Segmenter) Close() {
	if s == nil || s.parser == nil {
		return
	}
	s.parser.Close()
	s.parser = nil
}

// Segment splits source into units in source order. Nothing is silently
// dropped: every chunk of non-comment text either becomes a unit or raises a
// SyntaxError.
func (s *Segmenter) Segment(source string) ([]Unit, error) {
	if s == nil || s.parser == nil {
		return nil, fmt.Errorf("segment: nil segmenter")
	}
	chunks := scanChunks(source)
	var units []Unit
	for _, ch := range chunks {
		if isBlank(ch.text) {
			continue
		}
		parsed, err := s.classify(ch)
		if err != nil {
			return nil, err
		}
		units = append(units, parsed...)
	}
	// A final expression statement is the evaluation's result value.
	if n := len(units); n > 0 {
		last := &units[n-1]
		if last.Kind == KindStatement && last.Sub == "expression_statement" {
			last.Kind = KindTrailingExpr
		}
	}
	return units, nil
}

const snippetPackage = "package goevalsnippet\n\n"

var itemNodeKinds = map[string]bool{
	"function_declaration": true,
	"method_declaration":   true,
	"type_declaration":     true,
	"import_declaration":   true,
	"const_declaration":    true,
}

// classify parses one chunk as either a sequence of module-scope items or a
// sequence of statements, preferring whichever form its leading keyword
// suggests.
func (s *Segmenter) classify(ch chunk) ([]Unit, error) {
	itemFirst := false
	switch leadingWord(ch.text) {
	case "import", "type", "const":
		itemFirst = true
	case "func":
		// Could be a declaration or an immediately invoked literal; the
		// item parse rejects the latter.
		itemFirst = true
	}

	if itemFirst {
		units, ok := s.parseItems(ch)
		if ok {
			return units, nil
		}
		units, ok = s.parseStatements(ch)
		if ok {
			return units, nil
		}
	} else {
		units, ok := s.parseStatements(ch)
		if ok {
			return units, nil
		}
		units, ok = s.parseItems(ch)
		if ok {
			return units, nil
		}
	}
	return nil, s.syntaxErrorFor(ch)
}

// parseItems attempts to read the chunk as module-scope declarations.
func (s *Segmenter) parseItems(ch chunk) ([]Unit, bool) {
	src := []byte(snippetPackage + ch.text)
	tree := s.parser.Parse(src, nil)
	defer tree.Close()
	root := tree.RootNode()
	if root == nil || root.Kind() != "source_file" || root.HasError() {
		return nil, false
	}
	var units []Unit
	for i := uint(0); i < root.NamedChildCount(); i++ {
		child := root.NamedChild(i)
		kind := child.Kind()
		if kind == "package_clause" || kind == "comment" {
			continue
		}
		if !itemNodeKinds[kind] {
			return nil, false
		}
		unit := Unit{
			Kind: KindItem,
			Sub:  kind,
			Text: nodeText(src, child),
			Line: ch.line + relativeLine(src, child) - 1 - strings.Count(snippetPackage, "\n"),
		}
		switch kind {
		case "function_declaration":
			name := child.ChildByFieldName("name")
			if name == nil {
				return nil, false
			}
			unit.Name = nodeText(src, name)
		case "method_declaration":
			name := child.ChildByFieldName("name")
			if name == nil {
				return nil, false
			}
			unit.Name = methodKey(src, child, nodeText(src, name))
		case "type_declaration":
			unit.Name = firstSpecName(src, child, "type_spec")
		case "const_declaration":
			unit.Name = firstSpecName(src, child, "const_spec")
		case "import_declaration":
			unit.Imports = importSpecs(src, child)
		}
		units = append(units, unit)
	}
	if len(units) == 0 {
		return nil, false
	}
	return units, true
}

const bodyPrefix = snippetPackage + "func goevalBody() {\n"

// parseStatements attempts to read the chunk as function-body statements.
func (s *Segmenter) parseStatements(ch chunk) ([]Unit, bool) {
	src := []byte(bodyPrefix + ch.text + "\n}\n")
	tree := s.parser.Parse(src, nil)
	defer tree.Close()
	root := tree.RootNode()
	if root == nil || root.HasError() {
		return nil, false
	}
	fn := namedChildOfKind(root, "function_declaration")
	if fn == nil {
		return nil, false
	}
	body := fn.ChildByFieldName("body")
	if body == nil {
		return nil, false
	}
	var units []Unit
	for i := uint(0); i < body.NamedChildCount(); i++ {
		child := body.NamedChild(i)
		kind := child.Kind()
		if kind == "comment" {
			continue
		}
		units = append(units, Unit{
			Kind:  KindStatement,
			Sub:   kind,
			Text:  nodeText(src, child),
			Line:  ch.line + relativeLine(src, child) - 1 - strings.Count(bodyPrefix, "\n"),
			Binds: statementBindings(src, child),
		})
	}
	if len(units) == 0 {
		return nil, false
	}
	return units, true
}

// syntaxErrorFor re-parses the chunk in statement position to locate the
// first error or missing node, mapping the location back into the snippet.
func (s *Segmenter) syntaxErrorFor(ch chunk) error {
	src := []byte(bodyPrefix + ch.text + "\n}\n")
	tree := s.parser.Parse(src, nil)
	defer tree.Close()
	root := tree.RootNode()
	node := findFirstMissingNode(root)
	expected := ""
	if node != nil {
		expected = node.Kind()
	} else {
		node = findFirstErrorNode(root)
	}
	message := "segment: syntax error"
	if expected != "" {
		message = fmt.Sprintf("segment: syntax error: expected %s", strings.ReplaceAll(expected, "_", " "))
	}
	line, column := 0, 0
	if node != nil {
		pos := node.StartPosition()
		line = int(pos.Row) + 1 - strings.Count(bodyPrefix, "\n") + ch.line - 1
		column = int(pos.Column) + 1
		if line < ch.line {
			line = ch.line
		}
	}
	return &SyntaxError{Message: message, Line: line, Column: column}
}

func isBlank(text string) bool {
	stripped := stripComments(text)
	return strings.TrimSpace(stripped) == ""
}

func leadingWord(text string) string {
	stripped := strings.TrimSpace(stripComments(text))
	for i, r := range stripped {
		if r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return stripped[:i]
	}
	return stripped
}
