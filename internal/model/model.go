// Package model holds the domain types shared by the migration stages: the
// extracted view of a LangGraph program and the conversion units derived
// from it.
package model

import "sort"

// Origin records which stage produced a converted body.
type Origin string

const (
	OriginRule Origin = "rule"
	OriginAI   Origin = "ai"
)

// EndNode is the reserved identifier of the terminal aggregation node.
const EndNode = "end"

// StartNode is the reserved identifier of the entry node.
const StartNode = "start"

// StateField is one field of the shared state declaration.
type StateField struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	HasAggregator bool   `json:"has_aggregator"`
	AggregatorRef string `json:"aggregator_ref,omitempty"`
}

// GraphNode is a node registration on the graph builder. ID is the name used
// with add_node and may differ from Function.
type GraphNode struct {
	ID                    string   `json:"id"`
	Function              string   `json:"function"`
	IsConditional         bool     `json:"is_conditional"`
	ConditionReturnValues []string `json:"condition_return_values,omitempty"`
}

// Branch is one value→target pair of a conditional edge mapping.
type Branch struct {
	Value  string `json:"value"`
	Target string `json:"target"`
}

// EdgeSpec is a plain or conditional graph edge. Conditional edges have no
// Target; their destinations come from ConditionMap.
type EdgeSpec struct {
	Source        string   `json:"source"`
	Target        string   `json:"target,omitempty"`
	IsConditional bool     `json:"is_conditional"`
	Router        string   `json:"router,omitempty"`
	ConditionMap  []Branch `json:"condition_map,omitempty"`
	// RouterSource is the router function definition text.
	RouterSource string `json:"-"`
	// RouterGlobals lists module constants referenced by the router body.
	RouterGlobals []string `json:"-"`
	// RouterImports are import statements the router body depends on.
	RouterImports []string `json:"-"`
}

// Targets returns every destination the edge may lead to.
func (e EdgeSpec) Targets() []string {
	if !e.IsConditional {
		if e.Target == "" {
			return nil
		}
		return []string{e.Target}
	}
	out := make([]string, 0, len(e.ConditionMap))
	seen := make(map[string]bool)
	for _, b := range e.ConditionMap {
		if !seen[b.Target] {
			seen[b.Target] = true
			out = append(out, b.Target)
		}
	}
	return out
}

// Param is a tool parameter.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ToolSpec is a tool declaration.
type ToolSpec struct {
	Name          string  `json:"name"`
	FuncName      string  `json:"func_name"`
	Description   string  `json:"description"`
	Parameters    []Param `json:"parameters"`
	OriginalBody  string  `json:"-"`
	ConvertedBody string  `json:"-"`
}

// LLMConfig is the language-model client configuration found in the source.
type LLMConfig struct {
	Var         string   `json:"var,omitempty"`
	Provider    string   `json:"provider"`
	ModelName   string   `json:"model_name"`
	Temperature *float64 `json:"temperature,omitempty"`
	APIKey      string   `json:"api_key,omitempty"`
	APIBase     string   `json:"api_base,omitempty"`
	// Names of the constants the values were resolved from, if any.
	ModelNameVar string `json:"model_name_var,omitempty"`
	APIKeyVar    string `json:"api_key_var,omitempty"`
	APIBaseVar   string `json:"api_base_var,omitempty"`
}

// InputValue is one key of the initial invocation input. Exactly one of
// Literal and Placeholder is set; Placeholder holds "${name}".
type InputValue struct {
	Key         string `json:"key"`
	Literal     string `json:"literal,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// ImportStmt is a module-level import carried into generated code. Names
// are the local names it binds.
type ImportStmt struct {
	Text  string   `json:"text"`
	Names []string `json:"names"`
}

// ConvertedNode is the canonical post-conversion unit produced by either the
// rule engine or the escalation adapter.
type ConvertedNode struct {
	Name          string   `json:"name"`
	Function      string   `json:"function"`
	OriginalText  string   `json:"-"`
	ConvertedBody string   `json:"converted_body"`
	InputKeys     []string `json:"input_keys"`
	OutputKeys    []string `json:"output_keys"`
	Origin        Origin   `json:"conversion_origin"`
	Docstring     string   `json:"doc_comment,omitempty"`
}

// ExtractionResult is the aggregate produced by the structural extractor.
type ExtractionResult struct {
	StateClass  string          `json:"state_class,omitempty"`
	StateFields []StateField    `json:"state_fields"`
	Graph       []GraphNode     `json:"graph"`
	Nodes       []ConvertedNode `json:"nodes"`
	Edges       []EdgeSpec      `json:"edges"`
	Tools       []ToolSpec      `json:"tools"`
	LLM         *LLMConfig      `json:"llm,omitempty"`
	EntryPoint  string          `json:"entry_point,omitempty"`
	GraphName   string          `json:"graph_name,omitempty"`

	Imports     []ImportStmt `json:"imports,omitempty"`
	Globals     []string     `json:"globals,omitempty"`
	ToolGlobals []string     `json:"tool_globals,omitempty"`
	ToolMapVar  string       `json:"tool_map_var,omitempty"`

	InitialInputs []InputValue      `json:"initial_inputs,omitempty"`
	ExampleInputs map[string]string `json:"example_inputs,omitempty"`

	Pending *PendingQueue `json:"-"`

	RuleCount   int      `json:"rule_count"`
	AICount     int      `json:"ai_count"`
	ParseErrors []error  `json:"-"`
	Warnings    []string `json:"warnings,omitempty"`
}

// NewExtractionResult returns an empty result with an open pending queue.
func NewExtractionResult() *ExtractionResult {
	return &ExtractionResult{
		ExampleInputs: make(map[string]string),
		Pending:       NewPendingQueue(),
	}
}

// Warn appends a warning.
func (r *ExtractionResult) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Node returns the converted node with the given name.
func (r *ExtractionResult) Node(name string) (*ConvertedNode, bool) {
	for i := range r.Nodes {
		if r.Nodes[i].Name == name {
			return &r.Nodes[i], true
		}
	}
	return nil, false
}

// Tool returns the tool whose function or declared name matches.
func (r *ExtractionResult) Tool(name string) (*ToolSpec, bool) {
	for i := range r.Tools {
		if r.Tools[i].FuncName == name || r.Tools[i].Name == name {
			return &r.Tools[i], true
		}
	}
	return nil, false
}

// InitialKeys returns the keys of the initial input set, in source order.
func (r *ExtractionResult) InitialKeys() []string {
	keys := make([]string, 0, len(r.InitialInputs))
	for _, in := range r.InitialInputs {
		keys = append(keys, in.Key)
	}
	return keys
}

// StateFieldNames returns the declared state field names.
func (r *ExtractionResult) StateFieldNames() []string {
	names := make([]string, 0, len(r.StateFields))
	for _, f := range r.StateFields {
		names = append(names, f.Name)
	}
	return names
}

// ToolNames returns the function names of all tools.
func (r *ExtractionResult) ToolNames() []string {
	names := make([]string, 0, len(r.Tools))
	for _, t := range r.Tools {
		names = append(names, t.FuncName)
	}
	return names
}

// KnownKeys returns the set of state keys any IR reference may use: declared
// state fields, keys produced by some node, and initial input keys.
func (r *ExtractionResult) KnownKeys() map[string]bool {
	known := make(map[string]bool)
	for _, f := range r.StateFields {
		known[f.Name] = true
	}
	for _, n := range r.Nodes {
		for _, k := range n.OutputKeys {
			known[k] = true
		}
	}
	for _, in := range r.InitialInputs {
		known[in.Key] = true
	}
	return known
}

// AdoptResolved appends the drained pending results to Nodes, counts them as
// AI conversions and orders Nodes by graph registration.
func (r *ExtractionResult) AdoptResolved() error {
	if r.Pending != nil {
		nodes, err := r.Pending.Results()
		if err != nil {
			return err
		}
		r.Nodes = append(r.Nodes, nodes...)
		r.AICount += len(nodes)
	}
	rank := make(map[string]int, len(r.Graph))
	for i, g := range r.Graph {
		rank[g.ID] = i
	}
	sort.SliceStable(r.Nodes, func(i, j int) bool {
		ri, ok := rank[r.Nodes[i].Name]
		if !ok {
			ri = len(rank)
		}
		rj, ok := rank[r.Nodes[j].Name]
		if !ok {
			rj = len(rank)
		}
		return ri < rj
	})
	return nil
}
