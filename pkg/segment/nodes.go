package segment

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

func nodeText(src []byte, node *sitter.Node) string {
	if node == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if start > end || end > uint(len(src)) {
		return ""
	}
	return string(src[start:end])
}

// relativeLine returns the 1-based line of node within src.
func relativeLine(src []byte, node *sitter.Node) int {
	if node == nil {
		return 1
	}
	return int(node.StartPosition().Row) + 1
}

func namedChildOfKind(root *sitter.Node, kind string) *sitter.Node {
	if root == nil {
		return nil
	}
	for i := uint(0); i < root.NamedChildCount(); i++ {
		child := root.NamedChild(i)
		if child != nil && child.Kind() == kind {
			return child
		}
	}
	return nil
}

func findFirstMissingNode(root *sitter.Node) *sitter.Node {
	var best *sitter.Node
	walkNodes(root, func(node *sitter.Node) {
		if node == nil || !node.IsMissing() {
			return
		}
		if best == nil || node.StartByte() < best.StartByte() {
			best = node
		}
	})
	return best
}

func findFirstErrorNode(root *sitter.Node) *sitter.Node {
	var best *sitter.Node
	walkNodes(root, func(node *sitter.Node) {
		if node == nil || !node.IsError() {
			return
		}
		if best == nil || node.StartByte() < best.StartByte() {
			best = node
		}
	})
	return best
}

func walkNodes(root *sitter.Node, visit func(node *sitter.Node)) {
	if root == nil {
		return
	}
	visit(root)
	for i := uint(0); i < root.ChildCount(); i++ {
		child := root.Child(i)
		if child == nil {
			continue
		}
		walkNodes(child, visit)
	}
}

// methodKey derives the supersede key for a method declaration: the bare
// receiver type name joined with the method name.
func methodKey(src []byte, decl *sitter.Node, name string) string {
	recv := decl.ChildByFieldName("receiver")
	if recv == nil {
		return name
	}
	text := nodeText(src, recv)
	text = strings.Trim(text, "()")
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return name
	}
	recvType := strings.TrimLeft(fields[len(fields)-1], "*")
	if idx := strings.IndexAny(recvType, "["); idx > 0 {
		recvType = recvType[:idx]
	}
	if recvType == "" {
		return name
	}
	return recvType + "." + name
}

// firstSpecName extracts the declared name from the first spec child of a
// type or const declaration, whether grouped or not.
func firstSpecName(src []byte, decl *sitter.Node, specKind string) string {
	var spec *sitter.Node
	walkNodes(decl, func(node *sitter.Node) {
		if spec == nil && node != nil && node.Kind() == specKind {
			spec = node
		}
	})
	if spec == nil {
		return ""
	}
	name := spec.ChildByFieldName("name")
	if name == nil {
		return ""
	}
	return nodeText(src, name)
}

// importSpecs expands an import declaration into path/alias pairs.
func importSpecs(src []byte, decl *sitter.Node) []ImportSpec {
	var specs []ImportSpec
	walkNodes(decl, func(node *sitter.Node) {
		if node == nil || node.Kind() != "import_spec" {
			return
		}
		pathNode := node.ChildByFieldName("path")
		if pathNode == nil {
			return
		}
		path := strings.Trim(nodeText(src, pathNode), "\"`")
		alias := ""
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			alias = nodeText(src, nameNode)
		}
		specs = append(specs, ImportSpec{Alias: alias, Path: path})
	})
	return specs
}

// statementBindings lists variables newly bound by a statement node.
func statementBindings(src []byte, stmt *sitter.Node) []Binding {
	if stmt == nil {
		return nil
	}
	switch stmt.Kind() {
	case "short_var_declaration":
		left := stmt.ChildByFieldName("left")
		if left == nil {
			return nil
		}
		var binds []Binding
		for i := uint(0); i < left.NamedChildCount(); i++ {
			child := left.NamedChild(i)
			if child == nil || child.Kind() != "identifier" {
				continue
			}
			name := nodeText(src, child)
			if name == "" || name == "_" {
				continue
			}
			binds = append(binds, Binding{Name: name})
		}
		return binds
	case "var_declaration":
		var binds []Binding
		walkNodes(stmt, func(node *sitter.Node) {
			if node == nil || node.Kind() != "var_spec" {
				return
			}
			typeText := ""
			if typeNode := node.ChildByFieldName("type"); typeNode != nil {
				typeText = nodeText(src, typeNode)
			}
			for i := uint(0); i < node.NamedChildCount(); i++ {
				child := node.NamedChild(i)
				if child == nil || child.Kind() != "identifier" {
					continue
				}
				name := nodeText(src, child)
				if name == "" || name == "_" {
					continue
				}
				binds = append(binds, Binding{Name: name, TypeText: typeText})
			}
		})
		return binds
	default:
		return nil
	}
}
