package ir

import (
	"fmt"
	"regexp"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/lang"
	"github.com/DeusData/lg2jiuwen/internal/model"
	"github.com/DeusData/lg2jiuwen/internal/parser"
	"github.com/DeusData/lg2jiuwen/internal/rules"
)

const (
	defaultModel       = "gpt-4"
	defaultTemperature = 0.7
)

// Options tunes Build.
type Options struct {
	// Name overrides the inferred agent name.
	Name        string
	SourceFiles []string
}

var (
	toolInvoke   = regexp.MustCompile(`\b([A-Za-z_]\w*)\.invoke\(inputs=`)
	dispatchCall = regexp.MustCompile(`\binvoke_tool\(`)
)

// Build assembles the IR from a fully resolved extraction result. It is pure:
// the same input yields the same IR. Dangling references are reported as
// *model.IRIntegrityError.
func Build(res *model.ExtractionResult, opts Options) (*MigrationIR, error) {
	if res.Pending != nil && !res.Pending.Drained() {
		return nil, &model.IRIntegrityError{Node: "*", Kind: "pending", Symbol: fmt.Sprintf("%d items", res.Pending.Len())}
	}

	m := &MigrationIR{
		Agent: AgentIR{
			Name:          agentName(res, opts.Name),
			LLM:           llmConfig(res.LLM),
			StateFields:   res.StateFields,
			Imports:       res.Imports,
			Globals:       res.Globals,
			ToolGlobals:   res.ToolGlobals,
			ToolMapVar:    res.ToolMapVar,
			InitialInputs: res.InitialInputs,
			ExampleInputs: res.ExampleInputs,
		},
		Workflow: WorkflowIR{
			EntryNode:  res.EntryPoint,
			StateClass: res.StateClass,
		},
		SourceFiles: opts.SourceFiles,
		Stats: Stats{
			RuleCount:  res.RuleCount,
			AICount:    res.AICount,
			TotalNodes: len(res.Nodes),
			TotalEdges: len(res.Edges),
			TotalTools: len(res.Tools),
		},
		Warnings: append([]string(nil), res.Warnings...),
	}

	for _, t := range res.Tools {
		m.Agent.Tools = append(m.Agent.Tools, buildTool(t))
	}

	globalKeys := make(map[string]bool)
	for _, k := range res.InitialKeys() {
		globalKeys[k] = true
	}
	for _, n := range res.Nodes {
		m.Workflow.Nodes = append(m.Workflow.Nodes, buildNode(n, res, globalKeys))
	}

	graph := make(map[string]model.GraphNode, len(res.Graph))
	for _, g := range res.Graph {
		graph[g.ID] = g
	}
	for _, e := range res.Edges {
		edge := WorkflowEdgeIR{
			Source:        e.Source,
			Target:        e.Target,
			IsConditional: e.IsConditional,
			ConditionMap:  e.ConditionMap,
			Targets:       e.Targets(),
		}
		if e.IsConditional {
			if len(e.ConditionMap) == 0 {
				edge.Targets = graph[e.Source].ConditionReturnValues
			}
			if src, ok := m.Workflow.Node(e.Source); ok {
				edge.SourceOutputs = src.Outputs
			}
			edge.RouterName = rules.RouterName(e.Source)
			edge.RouterGlobals = e.RouterGlobals
			edge.RouterImports = e.RouterImports
			branches := make(map[string]string, len(e.ConditionMap))
			for _, br := range e.ConditionMap {
				branches[br.Value] = br.Target
			}
			body, err := rules.RewriteRouter(e.RouterSource, e.Source, edge.SourceOutputs, branches)
			if err != nil {
				m.Warnings = append(m.Warnings, fmt.Sprintf("router %s: %v; emitted template", edge.RouterName, err))
			}
			edge.RouterBody = body
		}
		m.Workflow.Edges = append(m.Workflow.Edges, edge)
	}

	if err := checkIntegrity(m, res.KnownKeys()); err != nil {
		return nil, err
	}
	return m, nil
}

func agentName(res *model.ExtractionResult, override string) string {
	switch {
	case override != "":
		return override
	case res.GraphName != "":
		return res.GraphName
	case res.StateClass != "":
		if name := strings.ReplaceAll(res.StateClass, "State", ""); name != "" {
			return name
		}
		return "Agent"
	}
	return "MigratedAgent"
}

func llmConfig(c *model.LLMConfig) LLMConfigIR {
	if c == nil {
		return LLMConfigIR{ModelName: defaultModel, Temperature: defaultTemperature}
	}
	out := LLMConfigIR{
		Detected:     true,
		Provider:     c.Provider,
		ModelName:    c.ModelName,
		Temperature:  defaultTemperature,
		APIKey:       c.APIKey,
		APIBase:      c.APIBase,
		Var:          c.Var,
		ModelNameVar: c.ModelNameVar,
		APIKeyVar:    c.APIKeyVar,
		APIBaseVar:   c.APIBaseVar,
	}
	if out.ModelName == "" {
		out.ModelName = defaultModel
	}
	if c.Temperature != nil {
		out.Temperature = *c.Temperature
	}
	return out
}

func buildNode(n model.ConvertedNode, res *model.ExtractionResult, globalKeys map[string]bool) WorkflowNodeIR {
	node := WorkflowNodeIR{
		Name:          n.Name,
		ClassName:     ClassName(n.Name),
		Function:      n.Function,
		Inputs:        nonNil(n.InputKeys),
		Outputs:       nonNil(n.OutputKeys),
		GlobalOutputs: []string{},
		LocalOutputs:  []string{},
		ConvertedBody: n.ConvertedBody,
		Docstring:     n.Docstring,
		HasLLM:        strings.Contains(n.ConvertedBody, "self._llm") || strings.Contains(n.ConvertedBody, "ainvoke"),
		Origin:        string(n.Origin),
		Dispatch:      dispatchCall.MatchString(n.ConvertedBody),
	}
	for _, k := range node.Outputs {
		if globalKeys[k] {
			node.GlobalOutputs = append(node.GlobalOutputs, k)
		} else {
			node.LocalOutputs = append(node.LocalOutputs, k)
		}
	}
	for _, t := range res.Tools {
		if regexp.MustCompile(`\b` + regexp.QuoteMeta(t.FuncName) + `\b`).MatchString(n.ConvertedBody) {
			node.UsesTools = append(node.UsesTools, t.FuncName)
		}
	}
	return node
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func buildTool(t model.ToolSpec) ToolIR {
	out := ToolIR{
		Name:        t.Name,
		FuncName:    t.FuncName,
		Description: t.Description,
		Parameters:  t.Parameters,
		ReturnType:  "str",
	}
	if out.Description == "" {
		out.Description = t.Name + " tool"
	}
	if out.Parameters == nil {
		out.Parameters = []model.Param{}
	}
	body, ret := toolBody(t.ConvertedBody)
	out.Body = body
	if ret != "" {
		out.ReturnType = ret
	}
	return out
}

// toolBody returns the statements of the function defined in src, without
// its docstring, and its return annotation.
func toolBody(src string) (body, returnType string) {
	source := []byte(src)
	tree, err := parser.Parse(lang.Python, source)
	if err != nil {
		return "pass", ""
	}
	defer tree.Close()

	var fn *tree_sitter.Node
	parser.Walk(tree.RootNode(), func(n *tree_sitter.Node) bool {
		if fn != nil {
			return false
		}
		if n.Kind() == "function_definition" {
			fn = n
			return false
		}
		return true
	})
	if fn == nil {
		return "pass", ""
	}
	if rt := fn.ChildByFieldName("return_type"); rt != nil {
		returnType = parser.NodeText(rt, source)
	}
	block := fn.ChildByFieldName("body")
	stmts := parser.NamedChildren(block)
	if len(stmts) > 0 && isDocstring(stmts[0]) {
		stmts = stmts[1:]
	}
	if len(stmts) == 0 {
		return "pass", returnType
	}
	first := stmts[0]
	indent := strings.Repeat(" ", int(first.StartPosition().Column))
	text := indent + string(source[first.StartByte():block.EndByte()])
	return strings.TrimRight(rules.Reindent(text, ""), "\n "), returnType
}

func isDocstring(n *tree_sitter.Node) bool {
	if n.Kind() != "expression_statement" || n.NamedChildCount() != 1 {
		return false
	}
	return n.NamedChild(0).Kind() == "string"
}

// checkIntegrity verifies that every reference in the IR resolves: input
// keys against the key universe, edge endpoints against the nodes, and tool
// invocations against the declared tools.
func checkIntegrity(m *MigrationIR, known map[string]bool) error {
	nodes := map[string]bool{model.StartNode: true, model.EndNode: true}
	for _, n := range m.Workflow.Nodes {
		nodes[n.Name] = true
	}
	tools := make(map[string]bool, len(m.Agent.Tools))
	for _, t := range m.Agent.Tools {
		tools[t.FuncName] = true
	}

	for _, n := range m.Workflow.Nodes {
		for _, k := range n.Inputs {
			if !known[k] {
				return &model.IRIntegrityError{Node: n.Name, Kind: "field", Symbol: k}
			}
		}
		for _, match := range toolInvoke.FindAllStringSubmatch(stripComments(n.ConvertedBody), -1) {
			if !tools[match[1]] {
				return &model.IRIntegrityError{Node: n.Name, Kind: "tool", Symbol: match[1]}
			}
		}
		if n.Dispatch && len(tools) == 0 {
			return &model.IRIntegrityError{Node: n.Name, Kind: "tool", Symbol: "invoke_tool"}
		}
	}
	if m.Workflow.EntryNode != "" && !nodes[m.Workflow.EntryNode] {
		return &model.IRIntegrityError{Node: model.StartNode, Kind: "edge", Symbol: m.Workflow.EntryNode}
	}
	for _, e := range m.Workflow.Edges {
		if !nodes[e.Source] {
			return &model.IRIntegrityError{Node: e.Source, Kind: "edge", Symbol: e.Source}
		}
		for _, t := range e.Targets {
			if !nodes[t] {
				return &model.IRIntegrityError{Node: e.Source, Kind: "edge", Symbol: t}
			}
		}
	}
	return nil
}

// stripComments drops full-line comments, which placeholders use to carry
// the original source.
func stripComments(body string) string {
	lines := strings.Split(body, "\n")
	out := lines[:0]
	for _, l := range lines {
		if !strings.HasPrefix(strings.TrimSpace(l), "#") {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
