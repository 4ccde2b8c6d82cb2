// Package codegen renders a migration IR as an openJiuwen Python program,
// either as one module or as a package with one file per component.
package codegen

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DeusData/lg2jiuwen/internal/ir"
	"github.com/DeusData/lg2jiuwen/internal/model"
	"github.com/DeusData/lg2jiuwen/internal/parser"
	"github.com/DeusData/lg2jiuwen/internal/rules"
)

// Layout selects the shape of the generated program.
type Layout string

const (
	LayoutSingle Layout = "single"
	LayoutMulti  Layout = "multi"
)

// ParseLayout accepts "single" and "multi".
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case LayoutSingle:
		return LayoutSingle, nil
	case LayoutMulti:
		return LayoutMulti, nil
	}
	return "", fmt.Errorf("unknown layout %q", s)
}

// File is one generated file. Path is slash-separated and relative to the
// output directory.
type File struct {
	Path    string
	Content string
}

// Output holds the generated files in a stable order.
type Output struct {
	Files []File
}

// Paths returns the file paths in order.
func (o *Output) Paths() []string {
	out := make([]string, len(o.Files))
	for i, f := range o.Files {
		out[i] = f.Path
	}
	return out
}

// Option configures a Generator.
type Option func(*Generator)

// WithLayout sets the output layout. The default is LayoutSingle.
func WithLayout(l Layout) Option {
	return func(g *Generator) {
		g.layout = l
	}
}

// WithPreserveComments controls whether the generated code carries the
// explanatory comments around output initialisation, converted logic and
// state publishing. Enabled by default.
func WithPreserveComments(on bool) Option {
	return func(g *Generator) {
		g.comments = on
	}
}

// Generator renders IRs. It holds no per-run state and is safe for
// concurrent use.
type Generator struct {
	layout   Layout
	comments bool
	logger   *slog.Logger
}

// New returns a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{
		layout:   LayoutSingle,
		comments: true,
		logger:   slog.Default().With("component", "codegen"),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Layout returns the configured layout.
func (g *Generator) Layout() Layout {
	return g.layout
}

// Generate renders m. The same IR always yields the same files.
func (g *Generator) Generate(m *ir.MigrationIR) (*Output, error) {
	if m == nil {
		return nil, errors.New("codegen: nil IR")
	}
	p := newPlan(m)
	var (
		out *Output
		err error
	)
	switch g.layout {
	case LayoutSingle:
		out, err = g.single(p)
	case LayoutMulti:
		out, err = g.multi(p)
	default:
		return nil, fmt.Errorf("codegen: unknown layout %q", g.layout)
	}
	if err != nil {
		return nil, fmt.Errorf("codegen: %w", err)
	}
	g.logger.Debug("codegen.done", "agent", m.Agent.Name, "layout", string(g.layout), "files", len(out.Files))
	return out, nil
}

// plan is the data shared by both layouts, derived once per IR.
type plan struct {
	m          *ir.MigrationIR
	slug       string
	globalKeys map[string]bool
	// defined maps names assigned by module-level globals to their statement.
	defined  map[string]string
	toolMap  string
	llm      llmRefs
	wiring   *wiring
	routers  []ir.WorkflowEdgeIR
	hasTools bool
}

func newPlan(m *ir.MigrationIR) *plan {
	p := &plan{
		m:          m,
		slug:       ir.Slug(m.Agent.Name),
		globalKeys: make(map[string]bool),
		defined:    make(map[string]string),
		toolMap:    m.Agent.ToolMapVar,
		wiring:     newWiring(&m.Workflow),
		hasTools:   len(m.Agent.Tools) > 0,
	}
	for _, in := range m.Agent.InitialInputs {
		p.globalKeys[in.Key] = true
	}
	for _, g := range m.Agent.Globals {
		if name := assignedName(g); name != "" {
			p.defined[name] = g
		}
	}
	if p.toolMap == "" {
		p.toolMap = "tool_map"
	}
	p.llm = newLLMRefs(m.Agent.LLM, p.defined)

	seen := make(map[string]bool)
	for _, e := range m.Workflow.Conditional() {
		if !seen[e.RouterName] {
			seen[e.RouterName] = true
			p.routers = append(p.routers, e)
		}
	}
	return p
}

// needsDispatch reports whether the invoke_tool helper must be emitted.
func (p *plan) needsDispatch() bool {
	return p.hasTools && (p.m.Workflow.Dispatch() || len(p.m.Agent.ToolGlobals) > 0)
}

// toolMapDecl returns the tool-map globals of the source, or a synthesized
// map from tool name to function when the source declared none.
func (p *plan) toolMapDecl() []string {
	if len(p.m.Agent.ToolGlobals) > 0 {
		return p.m.Agent.ToolGlobals
	}
	var b strings.Builder
	b.WriteString(p.toolMap + " = {\n")
	for _, t := range p.m.Agent.Tools {
		fmt.Fprintf(&b, "    %s: %s,\n", parser.Quote(t.Name), t.FuncName)
	}
	b.WriteString("}")
	return []string{b.String()}
}

// assignedName returns the variable a module-level assignment binds.
func assignedName(stmt string) string {
	lhs, _, ok := strings.Cut(stmt, "=")
	if !ok {
		return ""
	}
	lhs, _, _ = strings.Cut(lhs, ":")
	lhs = strings.TrimSpace(lhs)
	for i, r := range lhs {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r > 127:
		case i > 0 && r >= '0' && r <= '9':
		default:
			return ""
		}
	}
	return lhs
}

// llmRefs are the Python expressions that configure the chat model.
type llmRefs struct {
	APIKey, APIBase string
	Model           string
	// ModelVar is the constant holding the model name in config.py, and
	// DefineModel is set when config.py must declare it.
	ModelVar    string
	DefineModel bool
}

func newLLMRefs(c ir.LLMConfigIR, defined map[string]string) llmRefs {
	r := llmRefs{
		APIKey:  `os.getenv("OPENAI_API_KEY", "")`,
		APIBase: `os.getenv("OPENAI_API_BASE", "")`,
		Model:   parser.Quote(c.ModelName),
	}
	switch {
	case c.APIKeyVar != "" && defined[c.APIKeyVar] != "":
		r.APIKey = c.APIKeyVar
	case c.APIKey != "":
		r.APIKey = parser.Quote(c.APIKey)
	}
	switch {
	case c.APIBaseVar != "" && defined[c.APIBaseVar] != "":
		r.APIBase = c.APIBaseVar
	case c.APIBase != "":
		r.APIBase = parser.Quote(c.APIBase)
	}
	switch {
	case c.ModelNameVar != "" && defined[c.ModelNameVar] != "":
		r.Model = c.ModelNameVar
		r.ModelVar = c.ModelNameVar
	case defined["MODEL_NAME"] != "":
		r.ModelVar = "MODEL_NAME"
	default:
		r.ModelVar = "MODEL_NAME"
		r.DefineModel = true
	}
	return r
}

// llmGlobal reports whether a global belongs with the model configuration.
func (p *plan) llmGlobal(name string) bool {
	c := p.m.Agent.LLM
	if name == c.ModelNameVar || name == c.APIKeyVar || name == c.APIBaseVar {
		return true
	}
	upper := strings.ToUpper(name)
	for _, kw := range []string{"LLM", "MODEL", "API_KEY", "API_BASE", "TEMPERATURE"} {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

// component renders one component class with the given __init__ method.
func (g *Generator) component(p *plan, n ir.WorkflowNodeIR, init string) (string, error) {
	doc := n.Docstring
	if doc == "" {
		doc = n.Name + " component."
	}
	return render("component", struct {
		ClassName, Doc, Init, Body string
	}{
		ClassName: n.ClassName,
		Doc:       docstring(doc, "    "),
		Init:      init,
		Body:      componentBody(n, p.globalKeys, g.comments),
	})
}

const plainInit = "    def __init__(self):\n        pass"

// inlineInit constructs the model client in place, for the single-file
// layout.
func inlineInit(r llmRefs) string {
	return "    def __init__(self, llm=None):\n" +
		"        if llm:\n" +
		"            self._llm = llm\n" +
		"        else:\n" +
		"            self._llm = OpenAIChatModel(\n" +
		"                api_key=" + r.APIKey + ",\n" +
		"                api_base=" + r.APIBase + "\n" +
		"            )\n" +
		"        self.model_name = " + r.Model
}

// sharedInit obtains the model client from config.get_llm, for the
// multi-file layout.
func sharedInit(r llmRefs) string {
	return "    def __init__(self, llm=None):\n" +
		"        if llm:\n" +
		"            self._llm = llm\n" +
		"        else:\n" +
		"            self._llm = get_llm()\n" +
		"        self.model_name = " + r.ModelVar
}

// tool renders one @tool function.
func tool(t ir.ToolIR) (string, error) {
	sig := make([]string, len(t.Parameters))
	for i, prm := range t.Parameters {
		sig[i] = prm.Name
		if prm.Type != "" {
			sig[i] += ": " + prm.Type
		}
	}
	name := t.Name
	if name == "" {
		name = t.FuncName
	}
	body := t.Body
	if strings.TrimSpace(body) == "" {
		body = "pass"
	}
	return render("tool", struct {
		Name, FuncName, Description, Signature, ReturnType, Doc, Body string
		Params                                                        []model.Param
	}{
		Name:        name,
		FuncName:    t.FuncName,
		Description: t.Description,
		Signature:   strings.Join(sig, ", "),
		ReturnType:  t.ReturnType,
		Doc:         docstring(t.Description, "    "),
		Body:        rules.Reindent(strings.Trim(body, "\n"), "    "),
		Params:      t.Parameters,
	})
}

// builder renders build_{agent}_workflow.
func (g *Generator) builder(p *plan) string {
	var b strings.Builder
	line := func(s string) { b.WriteString(s + "\n") }
	comment := func(s string) {
		if g.comments {
			line("    # " + s)
		}
	}

	line(fmt.Sprintf("def build_%s_workflow() -> Workflow:", p.slug))
	line(fmt.Sprintf(`    """Build the %s workflow."""`, p.m.Agent.Name))
	line("    workflow = Workflow()")
	line("")
	comment("start")
	line(`    workflow.set_start_comp("start", Start(), inputs_schema={`)
	for _, k := range startKeys(p.m) {
		line("        " + parser.Quote(k) + ": " + parser.Quote("${"+k+"}") + ",")
	}
	line("    })")
	line("")

	comment("components")
	for _, n := range p.m.Workflow.Nodes {
		line("    workflow.add_workflow_comp(")
		line("        " + parser.Quote(n.Name) + ",")
		line("        " + n.ClassName + "(),")
		line("        inputs_schema=" + p.wiring.inputsSchema(n))
		line("    )")
		line("")
	}

	comment("end")
	line(`    workflow.set_end_comp("end", End(), inputs_schema=` + p.wiring.endSchema() + ")")
	line("")

	comment("connections")
	type conn struct{ src, dst string }
	seen := make(map[conn]bool)
	if p.m.Workflow.EntryNode != "" {
		seen[conn{model.StartNode, p.m.Workflow.EntryNode}] = true
		line(fmt.Sprintf("    workflow.add_connection(%s, %s)", parser.Quote(model.StartNode), parser.Quote(p.m.Workflow.EntryNode)))
	}
	for _, e := range p.m.Workflow.Edges {
		if e.IsConditional {
			c := conn{e.Source, e.RouterName}
			if !seen[c] {
				seen[c] = true
				line(fmt.Sprintf("    workflow.add_conditional_connection(%s, %s)", parser.Quote(e.Source), e.RouterName))
			}
			continue
		}
		c := conn{e.Source, e.Target}
		if !seen[c] {
			seen[c] = true
			line(fmt.Sprintf("    workflow.add_connection(%s, %s)", parser.Quote(e.Source), parser.Quote(e.Target)))
		}
	}
	line("")
	b.WriteString("    return workflow")
	return b.String()
}

// mainInputs renders the example inputs dict entries of main().
func mainInputs(a ir.AgentIR) string {
	if len(a.InitialInputs) == 0 {
		return "        # TODO: add workflow inputs"
	}
	lines := make([]string, 0, len(a.InitialInputs))
	for _, in := range a.InitialInputs {
		v, ok := a.ExampleInputs[in.Key]
		switch {
		case ok && v != "":
		case in.Literal != "":
			v = in.Literal
		default:
			v = `""`
		}
		lines = append(lines, "        "+parser.Quote(in.Key)+": "+v)
	}
	return strings.Join(lines, ",\n")
}

func (g *Generator) main(p *plan, run bool) (string, error) {
	return render("main", struct {
		Slug, Inputs string
		Run          bool
	}{p.slug, mainInputs(p.m.Agent), run})
}
