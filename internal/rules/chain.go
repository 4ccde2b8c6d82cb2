package rules

import (
	"errors"
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// Rule pairs a statement predicate with its rewrite.
type Rule struct {
	Kind  Kind
	Match func(c *Converter, s *Stmt) bool
	Apply func(c *Converter, s *Stmt) (string, error)
}

// Chain is an ordered list of rules. The last rule must match everything.
type Chain []Rule

// DefaultChain returns the canonical rule order.
func DefaultChain() Chain {
	return Chain{
		{Kind: StateWrite, Match: matchStateWrite, Apply: applyStateWrite},
		{Kind: StateAugWrite, Match: matchStateAugWrite, Apply: applyStateAugWrite},
		{Kind: StateUpdate, Match: matchStateUpdate, Apply: applyStateUpdate},
		{Kind: StateRead, Match: matchStateRead, Apply: applyRender},
		{Kind: LLMBind, Match: matchLLMBind, Apply: applyLLMBind},
		{Kind: LLMInvoke, Match: matchLLMInvoke, Apply: applyRender},
		{Kind: ToolCall, Match: matchToolCall, Apply: applyRender},
		{Kind: ToolMapDispatch, Match: matchDispatch, Apply: applyRender},
		{Kind: Return, Match: matchReturn, Apply: applyReturn},
		{Kind: Passthrough, Match: func(*Converter, *Stmt) bool { return true }, Apply: applyPassthrough},
	}
}

// Apply runs the first matching rule and records its kind on the statement.
func (ch Chain) Apply(c *Converter, s *Stmt) (string, error) {
	for _, r := range ch {
		if r.Match(c, s) {
			s.Kind = r.Kind
			return r.Apply(c, s)
		}
	}
	return "", fmt.Errorf("no rule matched %s", s.Node.Kind())
}

// Classify returns the kind of the first matching rule.
func (ch Chain) Classify(c *Converter, s *Stmt) Kind {
	for _, r := range ch {
		if r.Match(c, s) {
			return r.Kind
		}
	}
	return Passthrough
}

var (
	errNonLiteralKey = errors.New("state key is not a string literal")
	errBadKeyName    = errors.New("state key is not a valid identifier")
	errUpdateArg     = errors.New("state.update argument is not a dict literal")
)

func matchStateWrite(c *Converter, s *Stmt) bool {
	a := s.assignment()
	if a == nil || a.ChildByFieldName("right") == nil {
		return false
	}
	return c.isStateSubscript(a.ChildByFieldName("left"))
}

func applyStateWrite(c *Converter, s *Stmt) (string, error) {
	a := s.assignment()
	key, err := c.stateKeyName(a.ChildByFieldName("left"))
	if err != nil {
		return "", err
	}
	right := c.render(a.ChildByFieldName("right"))
	c.outputs.add(key)
	return key + " = " + right, nil
}

func matchStateAugWrite(c *Converter, s *Stmt) bool {
	if s.Expr == nil || s.Expr.Kind() != "augmented_assignment" {
		return false
	}
	return c.isStateSubscript(s.Expr.ChildByFieldName("left"))
}

func applyStateAugWrite(c *Converter, s *Stmt) (string, error) {
	key, err := c.stateKeyName(s.Expr.ChildByFieldName("left"))
	if err != nil {
		return "", err
	}
	op := strings.TrimSuffix(parser.NodeText(s.Expr.ChildByFieldName("operator"), c.src), "=")
	right := s.Expr.ChildByFieldName("right")
	rhs := c.render(right)
	if !isAtom(right) {
		rhs = "(" + rhs + ")"
	}
	c.inputs.add(key)
	c.outputs.add(key)
	return fmt.Sprintf("%s = (%s or 0) %s %s", key, key, op, rhs), nil
}

func matchStateUpdate(c *Converter, s *Stmt) bool {
	return s.Expr != nil && c.isStateMethod(s.Expr, "update")
}

func applyStateUpdate(c *Converter, s *Stmt) (string, error) {
	args := s.Expr.ChildByFieldName("arguments")
	var lines []string
	for _, arg := range parser.NamedChildren(args) {
		switch arg.Kind() {
		case "dictionary":
			for _, pair := range parser.NamedChildren(arg) {
				if pair.Kind() == "comment" {
					continue
				}
				if pair.Kind() != "pair" {
					return "", errUpdateArg
				}
				key, ok := parser.StringValue(pair.ChildByFieldName("key"), c.src)
				if !ok {
					return "", errNonLiteralKey
				}
				if !isIdentifier(key) {
					return "", errBadKeyName
				}
				lines = append(lines, key+" = "+c.render(pair.ChildByFieldName("value")))
				c.outputs.add(key)
			}
		case "keyword_argument":
			key := parser.NodeText(arg.ChildByFieldName("name"), c.src)
			lines = append(lines, key+" = "+c.render(arg.ChildByFieldName("value")))
			c.outputs.add(key)
		case "comment":
		default:
			return "", errUpdateArg
		}
	}
	if len(lines) == 0 {
		return "pass", nil
	}
	return strings.Join(lines, "\n"+c.indentOf(s.Node)), nil
}

func matchStateRead(c *Converter, s *Stmt) bool {
	v := parser.Unwrap(s.value())
	if v == nil || s.assignment() == nil {
		return false
	}
	return c.isStateSubscript(v) || c.isStateMethod(v, "get")
}

func matchLLMBind(c *Converter, s *Stmt) bool {
	a := s.assignment()
	if a == nil || a.ChildByFieldName("left").Kind() != "identifier" {
		return false
	}
	v := parser.Unwrap(a.ChildByFieldName("right"))
	if v == nil || v.Kind() != "call" {
		return false
	}
	fn := v.ChildByFieldName("function")
	if fn.Kind() != "attribute" {
		return false
	}
	method := parser.NodeText(fn.ChildByFieldName("attribute"), c.src)
	return (method == "bind_tools" || method == "bind") && c.ctx.isLLMVar(c.receiverName(fn.ChildByFieldName("object")))
}

func applyLLMBind(c *Converter, s *Stmt) (string, error) {
	name := parser.NodeText(s.assignment().ChildByFieldName("left"), c.src)
	c.llmVars[name] = true
	return "# bind_tools: tools are invoked through tool components\n" + c.indentOf(s.Node) + name + " = self._llm", nil
}

func matchLLMInvoke(c *Converter, s *Stmt) bool {
	return s.Node.Kind() != "return_statement" && c.chainHead(s.value(), c.isLLMCall) != nil
}

func matchToolCall(c *Converter, s *Stmt) bool {
	return s.Node.Kind() != "return_statement" && c.chainHead(s.value(), c.isToolCall) != nil
}

func matchDispatch(c *Converter, s *Stmt) bool {
	return s.Node.Kind() != "return_statement" && c.chainHead(s.value(), c.isDispatch) != nil
}

func matchReturn(c *Converter, s *Stmt) bool {
	return s.Node.Kind() == "return_statement" && c.depth == 0
}

func applyReturn(c *Converter, s *Stmt) (string, error) {
	if s.Node.NamedChildCount() == 0 {
		return "return " + CollectedOutputs, nil
	}
	v := s.Node.NamedChild(0)
	if bound, ok := c.bindReturnedDict(s, v); ok {
		return bound, nil
	}
	prefix := string(c.src[s.Node.StartByte():v.StartByte()])
	return prefix + c.renderReturnValue(v) + string(c.src[v.EndByte():s.Node.EndByte()]), nil
}

// bindReturnedDict rewrites return {"k": v, ...} so that every key is
// assigned to its local before the return, which then returns the locals:
//
//	k1, k2 = v1, v2
//	return {"k1": k1, "k2": k2}
//
// Publishing process-wide state before the return then sees the returned
// values. Pairs whose value already is the local are not reassigned. It
// reports false for dicts with computed keys or splats.
func (c *Converter) bindReturnedDict(s *Stmt, v *tree_sitter.Node) (string, bool) {
	if v.Kind() != "dictionary" {
		return "", false
	}
	var keys, targets, values []string
	for _, pair := range parser.NamedChildren(v) {
		if pair.Kind() == "comment" {
			continue
		}
		if pair.Kind() != "pair" {
			return "", false
		}
		key, ok := parser.StringValue(pair.ChildByFieldName("key"), c.src)
		if !ok || !isIdentifier(key) {
			return "", false
		}
		keys = append(keys, key)
		val := pair.ChildByFieldName("value")
		if parser.NodeText(val, c.src) == key {
			continue
		}
		rendered := c.render(val)
		if val.Kind() == "lambda" {
			rendered = "(" + rendered + ")"
		}
		targets = append(targets, key)
		values = append(values, rendered)
	}
	if len(keys) == 0 {
		return "", false
	}

	var ks keySet
	for _, k := range keys {
		ks.add(k)
		c.outputs.add(k)
	}
	parts := make([]string, 0, len(keys))
	for _, k := range ks.list() {
		parts = append(parts, parser.Quote(k)+": "+k)
	}
	ret := "return {" + strings.Join(parts, ", ") + "}"
	if len(targets) == 0 {
		return ret, true
	}
	sep := "; "
	if c.startsLine(s.Node) {
		sep = "\n" + c.indentOf(s.Node)
	}
	return strings.Join(targets, ", ") + " = " + strings.Join(values, ", ") + sep + ret, true
}

func applyRender(c *Converter, s *Stmt) (string, error) {
	return c.render(s.Node), nil
}

func applyPassthrough(c *Converter, s *Stmt) (string, error) {
	if s.Node.Kind() == "delete_statement" && c.containsState(s.Node) {
		return "", errors.New("deleting state keys is not supported")
	}
	if a := s.assignment(); a != nil && c.containsStateSubscript(a.ChildByFieldName("left")) {
		return "", errors.New("destructuring assignment to state")
	}
	return c.render(s.Node), nil
}
