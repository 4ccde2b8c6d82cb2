package discover

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/fqn"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// Import is one imported name. For "import a.b" Module is "a.b" and Name is
// empty; for "from a import b as c" Module is "a", Name is "b", Local is "c".
// Relative module paths are resolved against the importing file.
type Import struct {
	Module string
	Name   string
	Local  string
	Text   string // full statement text
}

// Imports extracts Python import statements from a module tree.
//
// Python import AST structures:
//
//	import_statement:
//	  dotted_name children (e.g., "import foo.bar")
//	  aliased_import with alias (e.g., "import foo as f")
//
//	import_from_statement:
//	  module_name: dotted_name or relative_import
//	  name: dotted_name (what's being imported)
//	  Multiple names possible (e.g., "from foo import bar, baz")
func Imports(root *tree_sitter.Node, source []byte, relPath string) []Import {
	var out []Import
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		switch node.Kind() {
		case "import_statement":
			out = append(out, processImport(node, source)...)
			return false
		case "import_from_statement":
			out = append(out, processFromImport(node, source, relPath)...)
			return false
		case "function_definition", "class_definition":
			// Local imports inside bodies stay with their function.
			return false
		}
		return true
	})
	return out
}

// processImport handles "import X" and "import X as Y" statements.
func processImport(node *tree_sitter.Node, source []byte) []Import {
	text := parser.NodeText(node, source)
	var out []Import
	for _, child := range parser.NamedChildren(node) {
		switch child.Kind() {
		case "dotted_name":
			name := parser.NodeText(child, source)
			out = append(out, Import{Module: name, Local: firstDotSegment(name), Text: text})
		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			aliasNode := child.ChildByFieldName("alias")
			if nameNode == nil {
				continue
			}
			name := parser.NodeText(nameNode, source)
			local := firstDotSegment(name)
			if aliasNode != nil {
				local = parser.NodeText(aliasNode, source)
			}
			out = append(out, Import{Module: name, Local: local, Text: text})
		}
	}
	return out
}

// processFromImport handles "from X import Y" statements.
func processFromImport(node *tree_sitter.Node, source []byte, relPath string) []Import {
	text := parser.NodeText(node, source)
	moduleNode := node.ChildByFieldName("module_name")
	var modulePath string
	if moduleNode != nil {
		modulePath = parser.NodeText(moduleNode, source)
	} else if strings.HasPrefix(text, "from .") {
		modulePath = "."
	}
	if strings.HasPrefix(modulePath, ".") {
		modulePath = fqn.ResolveRelative(modulePath, relPath)
	}

	var out []Import
	for _, child := range parser.NamedChildren(node) {
		if moduleNode != nil && child.StartByte() == moduleNode.StartByte() {
			continue
		}
		switch child.Kind() {
		case "dotted_name":
			name := parser.NodeText(child, source)
			out = append(out, Import{Module: modulePath, Name: name, Local: lastDotSegment(name), Text: text})
		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			aliasNode := child.ChildByFieldName("alias")
			if nameNode == nil {
				continue
			}
			name := parser.NodeText(nameNode, source)
			local := lastDotSegment(name)
			if aliasNode != nil {
				local = parser.NodeText(aliasNode, source)
			}
			out = append(out, Import{Module: modulePath, Name: name, Local: local, Text: text})
		case "wildcard_import":
			out = append(out, Import{Module: modulePath, Name: "*", Local: "*", Text: text})
		}
	}
	return out
}

// Candidates returns the module names an import may refer to inside the
// project: the module itself and, for from-imports, module.name.
func (im Import) Candidates() []string {
	if im.Name == "" || im.Name == "*" {
		return []string{im.Module}
	}
	if im.Module == "" {
		return []string{im.Name}
	}
	return []string{im.Module + "." + im.Name, im.Module}
}

func firstDotSegment(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

func lastDotSegment(name string) string {
	parts := strings.Split(name, ".")
	return parts[len(parts)-1]
}
