package rules

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/lang"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// PublishBeforeReturns places stmt immediately before every return
// statement of a component body. A return on its own line gets stmt on the
// line above at the same indentation, preceded by comment when set. A
// return in an inline suite such as "if done: return x" gets stmt joined
// with a semicolon. Returns of nested functions are left alone. An empty
// stmt inserts nothing.
//
// The second result reports whether the body ends in a top-level return.
// Bodies that do not parse are handled line by line.
func PublishBeforeReturns(body, stmt, comment string) (string, bool) {
	src := []byte(body)
	tree, err := parser.Parse(lang.Python, src)
	if err != nil {
		return publishByLines(body, stmt, comment)
	}
	defer tree.Close()
	root := tree.RootNode()
	if root.HasError() {
		return publishByLines(body, stmt, comment)
	}

	final := false
	for i := int(root.NamedChildCount()) - 1; i >= 0; i-- {
		n := root.NamedChild(uint(i))
		if n.Kind() == "comment" {
			continue
		}
		final = n.Kind() == "return_statement"
		break
	}
	if stmt == "" {
		return body, final
	}

	var returns []*tree_sitter.Node
	parser.Walk(root, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "function_definition", "lambda", "class_definition":
			return false
		case "return_statement":
			returns = append(returns, n)
			return false
		}
		return true
	})

	var b strings.Builder
	pos := 0
	for _, r := range returns {
		start := int(r.StartByte())
		b.WriteString(body[pos:start])
		indent := body[strings.LastIndexByte(body[:start], '\n')+1 : start]
		if strings.TrimLeft(indent, " \t") == "" {
			if comment != "" {
				b.WriteString(comment + "\n" + indent)
			}
			b.WriteString(stmt + "\n" + indent)
		} else {
			b.WriteString(stmt + "; ")
		}
		pos = start
	}
	b.WriteString(body[pos:])
	return b.String(), final
}

// publishByLines is the lexical fallback of PublishBeforeReturns. It only
// sees returns that start a line, and skips string continuations and the
// blocks of nested definitions.
func publishByLines(body, stmt, comment string) (string, bool) {
	lines := strings.Split(body, "\n")
	protected := stringContinuations(body)
	out := make([]string, 0, len(lines)+4)
	final := false
	nested := -1
	for i, l := range lines {
		t := strings.TrimSpace(l)
		if protected[i] || t == "" || strings.HasPrefix(t, "#") {
			out = append(out, l)
			continue
		}
		w := leadingSpace(l)
		if nested >= 0 && w > nested {
			out = append(out, l)
			continue
		}
		nested = -1
		if strings.HasPrefix(t, "def ") || strings.HasPrefix(t, "async def ") || strings.HasPrefix(t, "class ") {
			nested = w
		}
		ret := t == "return" || strings.HasPrefix(t, "return ")
		final = ret && w == 0
		if ret && stmt != "" {
			if comment != "" {
				out = append(out, l[:w]+comment)
			}
			out = append(out, l[:w]+stmt)
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n"), final
}
