package extract

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/model"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// callArgs splits a call's arguments into positional nodes and keyword
// values keyed by name.
func callArgs(call *tree_sitter.Node, src []byte) ([]*tree_sitter.Node, map[string]*tree_sitter.Node) {
	var pos []*tree_sitter.Node
	kw := make(map[string]*tree_sitter.Node)
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil, kw
	}
	for _, a := range parser.NamedChildren(args) {
		switch a.Kind() {
		case "keyword_argument":
			name := a.ChildByFieldName("name")
			value := a.ChildByFieldName("value")
			if name != nil && value != nil {
				kw[parser.NodeText(name, src)] = value
			}
		case "comment", "list_splat", "dictionary_splat":
		default:
			pos = append(pos, a)
		}
	}
	return pos, kw
}

// arg returns positional argument i, or the keyword argument name.
func arg(pos []*tree_sitter.Node, kw map[string]*tree_sitter.Node, i int, name string) *tree_sitter.Node {
	if i < len(pos) {
		return pos[i]
	}
	return kw[name]
}

// calleeName returns the last segment of a call's function: "add_node" for
// graph.add_node(...), "Tool" for Tool(...).
func calleeName(call *tree_sitter.Node, src []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Kind() {
	case "identifier":
		return parser.NodeText(fn, src)
	case "attribute":
		if a := fn.ChildByFieldName("attribute"); a != nil {
			return parser.NodeText(a, src)
		}
	}
	return ""
}

// receiver returns the identifier a method is called on, or "".
func receiver(call *tree_sitter.Node, src []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Kind() != "attribute" {
		return ""
	}
	obj := fn.ChildByFieldName("object")
	if obj == nil || obj.Kind() != "identifier" {
		return ""
	}
	return parser.NodeText(obj, src)
}

// dottedName returns identifier or attribute-chain text, or "".
func dottedName(n *tree_sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	switch n.Kind() {
	case "identifier":
		return parser.NodeText(n, src)
	case "attribute":
		obj := dottedName(n.ChildByFieldName("object"), src)
		if obj == "" {
			return ""
		}
		return obj + "." + parser.NodeText(n.ChildByFieldName("attribute"), src)
	}
	return ""
}

// assignmentOf returns the assignment inside a module-level statement.
func assignmentOf(stmt *tree_sitter.Node) *tree_sitter.Node {
	if stmt == nil || stmt.Kind() != "expression_statement" || stmt.NamedChildCount() != 1 {
		return nil
	}
	if a := stmt.NamedChild(0); a.Kind() == "assignment" {
		return a
	}
	return nil
}

// assignedName returns the identifier target of an assignment, or "".
func assignedName(a *tree_sitter.Node, src []byte) string {
	left := a.ChildByFieldName("left")
	if left == nil || left.Kind() != "identifier" {
		return ""
	}
	return parser.NodeText(left, src)
}

// functionDefs walks root and returns every function_definition.
func functionDefs(root *tree_sitter.Node) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	parser.Walk(root, func(n *tree_sitter.Node) bool {
		if n.Kind() == "function_definition" {
			out = append(out, n)
		}
		return true
	})
	return out
}

// calls walks root and returns every call node in source order.
func calls(root *tree_sitter.Node) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	parser.Walk(root, func(n *tree_sitter.Node) bool {
		if n.Kind() == "call" {
			out = append(out, n)
		}
		return true
	})
	return out
}

// enclosingFunction returns the nearest function_definition above n.
func enclosingFunction(n *tree_sitter.Node) *tree_sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == "function_definition" {
			return p
		}
	}
	return nil
}

// newFuncDef builds the registry entry for a function_definition node.
func newFuncDef(fn *tree_sitter.Node, unit *parser.SourceUnit, module string) *FuncDef {
	src := unit.Source
	def := &FuncDef{
		Name:   parser.NodeText(fn.ChildByFieldName("name"), src),
		Module: module,
		File:   unit.Path,
		Node:   fn,
		Def:    fn,
		Source: src,
		Params: parameters(fn.ChildByFieldName("parameters"), src),
	}
	if p := fn.Parent(); p != nil && p.Kind() == "decorated_definition" {
		def.Def = p
		for _, d := range parser.ChildrenOfKind(p, "decorator") {
			def.Decorators = append(def.Decorators, strings.TrimSpace(strings.TrimPrefix(parser.NodeText(d, src), "@")))
		}
	}
	def.Docstring = docstring(fn.ChildByFieldName("body"), src)
	return def
}

// parameters lists a function's parameters, skipping self and cls and any
// splat parameters.
func parameters(params *tree_sitter.Node, src []byte) []model.Param {
	var out []model.Param
	for _, p := range parser.NamedChildren(params) {
		var name, typ string
		switch p.Kind() {
		case "identifier":
			name = parser.NodeText(p, src)
		case "typed_parameter":
			for _, c := range parser.NamedChildren(p) {
				if c.Kind() == "identifier" {
					name = parser.NodeText(c, src)
					break
				}
			}
			if t := p.ChildByFieldName("type"); t != nil {
				typ = parser.NodeText(t, src)
			}
		case "default_parameter", "typed_default_parameter":
			if n := p.ChildByFieldName("name"); n != nil {
				name = parser.NodeText(n, src)
			}
			if t := p.ChildByFieldName("type"); t != nil {
				typ = parser.NodeText(t, src)
			}
		default:
			continue
		}
		if name == "" || name == "self" || name == "cls" {
			continue
		}
		if typ == "" {
			typ = "Any"
		}
		out = append(out, model.Param{Name: name, Type: typ})
	}
	return out
}

// docstring returns the cleaned docstring of a block, or "".
func docstring(body *tree_sitter.Node, src []byte) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Kind() != "expression_statement" || first.NamedChildCount() != 1 {
		return ""
	}
	s, ok := parser.StringValue(first.NamedChild(0), src)
	if !ok {
		return ""
	}
	return cleanDoc(s)
}

// cleanDoc trims a docstring and removes the common indentation of its
// continuation lines.
func cleanDoc(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	common := -1
	for _, l := range lines[1:] {
		if strings.TrimSpace(l) == "" {
			continue
		}
		if w := len(l) - len(strings.TrimLeft(l, " \t")); common < 0 || w < common {
			common = w
		}
	}
	for i := 1; i < len(lines); i++ {
		if common > 0 && len(lines[i]) >= common {
			lines[i] = lines[i][common:]
		} else {
			lines[i] = strings.TrimLeft(lines[i], " \t")
		}
	}
	return strings.Join(lines, "\n")
}

// identifiers returns the distinct identifiers used inside n, in order.
func identifiers(n *tree_sitter.Node, src []byte) []string {
	seen := make(map[string]bool)
	var out []string
	parser.Walk(n, func(c *tree_sitter.Node) bool {
		switch c.Kind() {
		case "identifier":
			// Skip attribute names: in a.b only a is a reference.
			if p := c.Parent(); p != nil && p.Kind() == "attribute" {
				if a := p.ChildByFieldName("attribute"); a != nil && a.StartByte() == c.StartByte() {
					return false
				}
			}
			if p := c.Parent(); p != nil && p.Kind() == "keyword_argument" {
				if k := p.ChildByFieldName("name"); k != nil && k.StartByte() == c.StartByte() {
					return false
				}
			}
			name := parser.NodeText(c, src)
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		case "string":
			return c.HasError() || containsInterpolation(c)
		}
		return true
	})
	return out
}

func containsInterpolation(s *tree_sitter.Node) bool {
	for _, c := range parser.NamedChildren(s) {
		if c.Kind() == "interpolation" {
			return true
		}
	}
	return false
}

// isMainGuard reports whether an if statement tests __name__ == "__main__".
func isMainGuard(ifStmt *tree_sitter.Node, src []byte) bool {
	cond := ifStmt.ChildByFieldName("condition")
	if cond == nil || cond.Kind() != "comparison_operator" {
		return false
	}
	text := strings.Join(strings.Fields(parser.NodeText(cond, src)), "")
	switch text {
	case `__name__=="__main__"`, `__name__=='__main__'`, `"__main__"==__name__`, `'__main__'==__name__`:
		return true
	}
	return false
}
