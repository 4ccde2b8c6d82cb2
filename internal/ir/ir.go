// Package ir is the target-side intermediate representation: an agent with
// its tools and LLM configuration, and the workflow of components and
// connections the code generator renders.
package ir

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/DeusData/lg2jiuwen/internal/model"
)

// MigrationIR is the complete build output.
type MigrationIR struct {
	Agent       AgentIR    `json:"agent"`
	Workflow    WorkflowIR `json:"workflow"`
	SourceFiles []string   `json:"source_files,omitempty"`
	Stats       Stats      `json:"stats"`
	Warnings    []string   `json:"warnings,omitempty"`
}

// Stats are conversion counters used for reporting only.
type Stats struct {
	RuleCount  int `json:"rule_count"`
	AICount    int `json:"ai_count"`
	TotalNodes int `json:"total_nodes"`
	TotalEdges int `json:"total_edges"`
	TotalTools int `json:"total_tools"`
}

// AgentIR holds everything that is not part of the graph itself.
type AgentIR struct {
	Name        string             `json:"name"`
	LLM         LLMConfigIR        `json:"llm_config"`
	Tools       []ToolIR           `json:"tools"`
	StateFields []model.StateField `json:"state_fields"`
	Imports     []model.ImportStmt `json:"imports,omitempty"`
	Globals     []string           `json:"global_vars,omitempty"`
	ToolGlobals []string           `json:"tool_related_vars,omitempty"`
	ToolMapVar  string             `json:"tool_map_var_name,omitempty"`

	InitialInputs []model.InputValue `json:"initial_inputs,omitempty"`
	ExampleInputs map[string]string  `json:"example_inputs,omitempty"`
}

// LLMConfigIR is the chat model configuration. Detected is false when the
// defaults were used.
type LLMConfigIR struct {
	Detected    bool    `json:"detected"`
	Provider    string  `json:"provider,omitempty"`
	ModelName   string  `json:"model_name"`
	Temperature float64 `json:"temperature"`
	APIKey      string  `json:"-"`
	APIBase     string  `json:"api_base,omitempty"`

	Var          string `json:"-"`
	ModelNameVar string `json:"model_name_var,omitempty"`
	APIKeyVar    string `json:"api_key_var,omitempty"`
	APIBaseVar   string `json:"api_base_var,omitempty"`
}

// ToolIR is a tool rendered as an openJiuwen @tool function. Body is the
// function body without the def line and docstring.
type ToolIR struct {
	Name        string        `json:"name"`
	FuncName    string        `json:"func_name"`
	Description string        `json:"description"`
	Parameters  []model.Param `json:"parameters"`
	ReturnType  string        `json:"return_type"`
	Body        string        `json:"-"`
}

// WorkflowIR is the component graph.
type WorkflowIR struct {
	Nodes      []WorkflowNodeIR `json:"nodes"`
	Edges      []WorkflowEdgeIR `json:"edges"`
	EntryNode  string           `json:"entry_node"`
	StateClass string           `json:"state_class_name,omitempty"`
}

// WorkflowNodeIR is one generated component.
type WorkflowNodeIR struct {
	Name          string   `json:"name"`
	ClassName     string   `json:"class_name"`
	Function      string   `json:"function,omitempty"`
	Inputs        []string `json:"inputs"`
	Outputs       []string `json:"outputs"`
	GlobalOutputs []string `json:"global_outputs"`
	LocalOutputs  []string `json:"local_outputs"`
	ConvertedBody string   `json:"converted_body"`
	Docstring     string   `json:"docstring,omitempty"`
	HasLLM        bool     `json:"has_llm"`
	Origin        string   `json:"conversion_source"`
	UsesTools     []string `json:"uses_tools,omitempty"`
	Dispatch      bool     `json:"dispatch,omitempty"`
}

// WorkflowEdgeIR is a connection. Conditional edges carry the generated
// router; Targets lists every destination either way.
type WorkflowEdgeIR struct {
	Source        string         `json:"source"`
	Target        string         `json:"target,omitempty"`
	IsConditional bool           `json:"is_conditional"`
	ConditionMap  []model.Branch `json:"condition_map,omitempty"`
	Targets       []string       `json:"targets"`
	RouterName    string         `json:"router_name,omitempty"`
	RouterBody    string         `json:"-"`
	SourceOutputs []string       `json:"-"`
	RouterGlobals []string       `json:"-"`
	RouterImports []string       `json:"-"`
}

// Node returns the node with the given name.
func (w *WorkflowIR) Node(name string) (*WorkflowNodeIR, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].Name == name {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// Conditional returns the conditional edges in order.
func (w *WorkflowIR) Conditional() []WorkflowEdgeIR {
	var out []WorkflowEdgeIR
	for _, e := range w.Edges {
		if e.IsConditional {
			out = append(out, e)
		}
	}
	return out
}

// HasLLM reports whether any component calls the model.
func (w *WorkflowIR) HasLLM() bool {
	for _, n := range w.Nodes {
		if n.HasLLM {
			return true
		}
	}
	return false
}

// Dispatch reports whether any component dispatches tools by name.
func (w *WorkflowIR) Dispatch() bool {
	for _, n := range w.Nodes {
		if n.Dispatch {
			return true
		}
	}
	return false
}

// ClassName derives the component class name from a node ID: segments split
// on '_', '-' and spaces, each with its first letter upper-cased, joined and
// suffixed with "Comp".
func ClassName(id string) string {
	parts := strings.FieldsFunc(id, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})
	var b strings.Builder
	for _, p := range parts {
		r, size := utf8.DecodeRuneInString(p)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(p[size:])
	}
	name := b.String()
	if name == "" {
		name = "Node"
	}
	if r, _ := utf8.DecodeRuneInString(name); unicode.IsDigit(r) {
		name = "N" + name
	}
	return name + "Comp"
}

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// Slug returns the lower-case identifier form of an agent name, used for
// file and function names.
func Slug(name string) string {
	s := strings.Trim(nonIdent.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if s == "" {
		return "agent"
	}
	if r, _ := utf8.DecodeRuneInString(s); unicode.IsDigit(r) {
		s = "agent_" + s
	}
	return s
}
