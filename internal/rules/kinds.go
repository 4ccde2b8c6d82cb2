// Package rules rewrites LangGraph node function bodies into openJiuwen
// component bodies. Each statement is classified into one Kind and handed to
// the first matching rule of a Chain; anything the chain cannot express
// becomes a Failure and the whole body is escalated.
package rules

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// Kind is the closed set of statement shapes the rule engine recognises.
type Kind int

const (
	StateRead Kind = iota
	StateWrite
	StateAugWrite
	StateUpdate
	LLMInvoke
	LLMBind
	ToolCall
	ToolMapDispatch
	Return
	Passthrough
)

var kindNames = [...]string{
	StateRead:       "state_read",
	StateWrite:      "state_write",
	StateAugWrite:   "state_aug_write",
	StateUpdate:     "state_update",
	LLMInvoke:       "llm_invoke",
	LLMBind:         "llm_bind",
	ToolCall:        "tool_call",
	ToolMapDispatch: "tool_map_dispatch",
	Return:          "return",
	Passthrough:     "passthrough",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Stmt is one statement of a body under conversion.
type Stmt struct {
	Node *tree_sitter.Node
	// Expr is the expression wrapped by an expression_statement, or nil.
	Expr *tree_sitter.Node
	Kind Kind
}

func newStmt(n *tree_sitter.Node) *Stmt {
	s := &Stmt{Node: n, Kind: Passthrough}
	if n.Kind() == "expression_statement" && n.NamedChildCount() == 1 {
		s.Expr = n.NamedChild(0)
	}
	return s
}

// assignment returns the assignment node of the statement, or nil.
func (s *Stmt) assignment() *tree_sitter.Node {
	if s.Expr != nil && s.Expr.Kind() == "assignment" {
		return s.Expr
	}
	return nil
}

// value returns the expression a statement computes: the right-hand side of
// an assignment, the expression of an expression statement or the value of a
// return.
func (s *Stmt) value() *tree_sitter.Node {
	switch {
	case s.assignment() != nil:
		return s.Expr.ChildByFieldName("right")
	case s.Expr != nil:
		return s.Expr
	case s.Node.Kind() == "return_statement" && s.Node.NamedChildCount() > 0:
		return s.Node.NamedChild(0)
	}
	return nil
}
