package rules

import (
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/lang"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// RouterName returns the generated router function name for a source node.
func RouterName(sourceNode string) string {
	return sourceNode + "_router"
}

// RouterTemplate is the router emitted when the original routing function
// cannot be rewritten.
func RouterTemplate(sourceNode string) string {
	return fmt.Sprintf(`def %s(runtime: WorkflowRuntime) -> str:
    """Route on the output of %s."""
    # TODO: migrate routing logic
    # use runtime.get_global_state("%s.field") for upstream outputs
    # and runtime.get_global_state("field") for process-wide values
    return "end"`, RouterName(sourceNode), sourceNode, sourceNode)
}

// RewriteRouter rewrites a LangGraph routing function into an openJiuwen
// router for the conditional edge leaving sourceNode. State reads become
// runtime.get_global_state lookups, qualified with the source node when the
// key is one of its outputs. Returned string literals are mapped through
// branches, the edge's value to target mapping, so the router returns
// component names or "end". On failure the template router is returned with
// the error.
func RewriteRouter(src, sourceNode string, sourceOutputs []string, branches map[string]string) (string, error) {
	source := []byte(src)
	tree, err := parser.Parse(lang.Python, source)
	if err != nil {
		return RouterTemplate(sourceNode), err
	}
	defer tree.Close()

	fn := findFunction(tree.RootNode())
	if fn == nil {
		return RouterTemplate(sourceNode), errEmptyRouter
	}
	body := fn.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return RouterTemplate(sourceNode), errEmptyRouter
	}

	c := newConverter(nil, source, firstParam(fn.ChildByFieldName("parameters"), source))
	c.chain = Chain{
		{Kind: Return, Match: matchReturn, Apply: applyRouterReturn},
		{Kind: Passthrough, Match: func(*Converter, *Stmt) bool { return true }, Apply: applyPassthrough},
	}
	c.router = &routerMode{source: sourceNode, outputs: make(map[string]bool, len(sourceOutputs)), branches: branches}
	for _, k := range sourceOutputs {
		c.router.outputs[k] = true
	}

	var b strings.Builder
	first := body.Child(0)
	if !isDocstring(first) {
		b.WriteString(c.indentOf(first))
		b.WriteString(fmt.Sprintf(`"""Route on the output of %s."""`, sourceNode))
		b.WriteString("\n")
	}
	b.WriteString(c.indentOf(first))
	pos := first.StartByte()
	for i := uint(0); i < body.ChildCount(); i++ {
		st := body.Child(i)
		b.Write(source[pos:st.StartByte()])
		b.WriteString(c.renderStatement(st))
		pos = st.EndByte()
	}
	if len(c.failures) > 0 {
		f := c.failures[0]
		return RouterTemplate(sourceNode), fmt.Errorf("router for %s: line %d: %s", sourceNode, f.Line, f.Reason)
	}

	header := fmt.Sprintf("def %s(runtime: WorkflowRuntime) -> str:\n", RouterName(sourceNode))
	return header + Reindent(b.String(), "    "), nil
}

func applyRouterReturn(c *Converter, s *Stmt) (string, error) {
	if s.Node.NamedChildCount() == 0 {
		return c.render(s.Node), nil
	}
	v := s.Node.NamedChild(0)
	return string(c.src[s.Node.StartByte():v.StartByte()]) + c.routeValue(v) + string(c.src[v.EndByte():s.Node.EndByte()]), nil
}

// routeValue renders a returned branch value. String literals, including
// both arms of a conditional, are looked up in the branch mapping.
func (c *Converter) routeValue(v *tree_sitter.Node) string {
	switch v.Kind() {
	case "string":
		if val, ok := parser.StringValue(v, c.src); ok {
			if target, ok := c.router.branches[val]; ok {
				return parser.Quote(target)
			}
		}
	case "parenthesized_expression":
		if inner := v.NamedChild(0); inner != nil && v.NamedChildCount() == 1 {
			return "(" + c.routeValue(inner) + ")"
		}
	case "conditional_expression":
		if v.NamedChildCount() == 3 {
			then, cond, els := v.NamedChild(0), v.NamedChild(1), v.NamedChild(2)
			return c.routeValue(then) + string(c.src[then.EndByte():cond.StartByte()]) +
				c.render(cond) + string(c.src[cond.EndByte():els.StartByte()]) + c.routeValue(els)
		}
	}
	return c.render(v)
}

func findFunction(root *tree_sitter.Node) *tree_sitter.Node {
	var fn *tree_sitter.Node
	parser.Walk(root, func(n *tree_sitter.Node) bool {
		if fn != nil {
			return false
		}
		if n.Kind() == "function_definition" {
			fn = n
			return false
		}
		return true
	})
	return fn
}
