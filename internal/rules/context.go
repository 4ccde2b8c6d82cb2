package rules

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// DefaultLLMVars are variable names treated as chat model clients even when
// the extractor found no client construction.
var DefaultLLMVars = []string{"llm", "model", "chat", "chat_model", "chatmodel"}

// LLMMethods are the client methods rewritten into an async invocation.
var LLMMethods = []string{"invoke", "ainvoke", "call", "generate"}

// DefaultToolMapVars are mapping names recognised as tool dispatch tables
// when the extractor did not identify one.
var DefaultToolMapVars = []string{"tool_map", "tools_map", "tools_by_name", "tool_registry", "TOOL_MAP", "TOOLS"}

// UnsupportedCalls are LangGraph primitives with no openJiuwen counterpart.
var UnsupportedCalls = []string{"Command", "Send", "interrupt"}

// ToolSig is what the rules need to know about a tool.
type ToolSig struct {
	Name   string
	Params []string
}

// Context carries the program-wide facts a conversion depends on.
type Context struct {
	// LLMVars are names bound to chat model clients.
	LLMVars []string
	// Tools is keyed by the name used at call sites. Name is the function
	// the generated tool is bound to.
	Tools map[string]ToolSig
	// ToolMapVar is the name of the name→tool mapping, if known.
	ToolMapVar string
	// Foreign maps imported local names to the third-party module they come
	// from. Calls through them cannot be preserved.
	Foreign map[string]string
}

func (ctx *Context) isLLMVar(name string) bool {
	lower := strings.ToLower(name)
	for _, v := range DefaultLLMVars {
		if lower == v {
			return true
		}
	}
	for _, v := range ctx.LLMVars {
		if name == v {
			return true
		}
	}
	return false
}

func (ctx *Context) isToolMap(name string) bool {
	if ctx.ToolMapVar != "" && name == ctx.ToolMapVar {
		return true
	}
	for _, v := range DefaultToolMapVars {
		if name == v {
			return true
		}
	}
	return false
}

func (ctx *Context) tool(name string) (ToolSig, bool) {
	if ctx.Tools == nil {
		return ToolSig{}, false
	}
	t, ok := ctx.Tools[name]
	return t, ok
}

// Func is a function definition handed to ConvertFunction.
type Func struct {
	Name string
	// Node is the function_definition node.
	Node   *tree_sitter.Node
	Source []byte
}

// Failure is one statement the rules could not convert.
type Failure struct {
	Line   int
	Text   string
	Reason string
}

// Result is the outcome of converting one function body.
type Result struct {
	OK       bool
	Code     string
	Inputs   []string
	Outputs  []string
	Failures []Failure
	// ToolsUsed lists tool functions invoked by the body.
	ToolsUsed []string
	// Dispatch is set when the body calls invoke_tool.
	Dispatch bool
	// Kinds counts the statements handled per rule.
	Kinds map[Kind]int
}

// Reason returns the first failure reason, or "".
func (r Result) Reason() string {
	if len(r.Failures) == 0 {
		return ""
	}
	return r.Failures[0].Reason
}

// keySet is an insertion-ordered set of strings.
type keySet struct {
	order []string
	seen  map[string]bool
}

func (s *keySet) add(k string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[k] {
		return
	}
	s.seen[k] = true
	s.order = append(s.order, k)
}

func (s *keySet) has(k string) bool {
	return s.seen[k]
}

func (s *keySet) list() []string {
	if len(s.order) == 0 {
		return []string{}
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
