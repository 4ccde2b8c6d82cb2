package codegen

import (
	"fmt"
	"strings"

	"github.com/DeusData/lg2jiuwen/internal/ir"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

var componentImports = []string{
	"from openjiuwen.core.component.base import WorkflowComponent",
	"from openjiuwen.core.runtime.base import ComponentExecutable, Input, Output",
	"from openjiuwen.core.runtime.runtime import Runtime",
	"from openjiuwen.core.context_engine.base import Context",
}

// multi renders the program as a package named after the agent.
func (g *Generator) multi(p *plan) (*Output, error) {
	m := p.m
	root := p.slug + "/"
	out := &Output{}
	add := func(path, content string) {
		out.Files = append(out.Files, File{Path: root + path, Content: content})
	}

	s, err := render("package_init", struct{ Name, Slug string }{m.Agent.Name, p.slug})
	if err != nil {
		return nil, err
	}
	add("__init__.py", s)

	s, err = g.configFile(p)
	if err != nil {
		return nil, err
	}
	add("config.py", s)

	if p.hasTools {
		s, err = g.toolsFile(p)
		if err != nil {
			return nil, err
		}
		add("tools.py", s)
	}

	type item struct{ Module, ClassName string }
	var items []item
	var names []string
	for _, n := range m.Workflow.Nodes {
		items = append(items, item{componentModule(n), n.ClassName})
		names = append(names, parser.Quote(n.ClassName))
	}
	s, err = render("components_init", struct {
		Items []item
		Names []string
	}{items, names})
	if err != nil {
		return nil, err
	}
	add("components/__init__.py", s)

	for _, n := range m.Workflow.Nodes {
		s, err = g.componentFile(p, n)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", n.Name, err)
		}
		add("components/"+componentModule(n)+".py", s)
	}

	add("routers.py", g.routersFile(p))
	add("workflow.py", g.workflowFile(p))

	s, err = render("main_file", struct {
		Slug, Inputs string
		Run          bool
	}{p.slug, mainInputs(m.Agent), true})
	if err != nil {
		return nil, err
	}
	add("main.py", s)
	return out, nil
}

func componentModule(n ir.WorkflowNodeIR) string {
	return ir.Slug(n.Name) + "_comp"
}

func moduleDoc(title string) string {
	return `"""` + "\n" + title + "\n" + `"""`
}

// usedImports returns the carried import statements whose bound names code
// refers to.
func usedImports(p *plan, code string) []string {
	var out []string
	for _, im := range p.m.Agent.Imports {
		for _, name := range im.Names {
			if refersTo(code, name) {
				out = append(out, im.Text)
				break
			}
		}
	}
	return out
}

// configFile holds the model configuration and the module-level constants
// of the source program.
func (g *Generator) configFile(p *plan) (string, error) {
	m := p.m
	globals := strings.Join(m.Agent.Globals, "\n")
	lines := []string{moduleDoc("Configuration."), "", "import os"}
	for _, im := range usedImports(p, globals) {
		if im != "import os" {
			lines = append(lines, im)
		}
	}
	needLLM := m.Agent.LLM.Detected || m.Workflow.HasLLM()
	if needLLM {
		lines = append(lines, llmImport)
	}
	lines = append(lines, "", sslVerify, "")

	var plain, llm []string
	for _, stmt := range m.Agent.Globals {
		if p.llmGlobal(assignedName(stmt)) {
			llm = append(llm, stmt)
		} else {
			plain = append(plain, stmt)
		}
	}
	if len(plain) > 0 {
		if g.comments {
			lines = append(lines, "# constants")
		}
		lines = append(lines, plain...)
		lines = append(lines, "")
	}
	if needLLM {
		if p.llm.DefineModel {
			llm = append(llm, p.llm.ModelVar+" = "+parser.Quote(m.Agent.LLM.ModelName))
		}
		if len(llm) > 0 {
			if g.comments {
				lines = append(lines, "# model configuration")
			}
			lines = append(lines, llm...)
			lines = append(lines, "")
		}
		s, err := render("get_llm", p.llm)
		if err != nil {
			return "", err
		}
		lines = append(lines, "", s)
	} else if len(llm) > 0 {
		lines = append(lines, llm...)
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n", nil
}

// toolsFile holds the @tool functions, the tool map and the dispatch helper.
func (g *Generator) toolsFile(p *plan) (string, error) {
	m := p.m
	var code []string
	for _, t := range m.Agent.Tools {
		code = append(code, t.Body)
	}
	code = append(code, m.Agent.ToolGlobals...)

	lines := []string{moduleDoc("Tools."), ""}
	lines = append(lines, usedImports(p, strings.Join(code, "\n"))...)
	lines = append(lines, paramImport, toolImport, "", "from .config import *", "")
	sections := []string{strings.Join(lines, "\n")}

	for _, t := range m.Agent.Tools {
		s, err := tool(t)
		if err != nil {
			return "", err
		}
		sections = append(sections, s)
	}
	if p.needsDispatch() {
		sections = append(sections, strings.Join(p.toolMapDecl(), "\n"))
		s, err := render("invoke_tool", p.toolMap)
		if err != nil {
			return "", err
		}
		sections = append(sections, s)
	}
	return strings.Join(sections, "\n\n\n") + "\n", nil
}

// componentFile renders components/{node}_comp.py.
func (g *Generator) componentFile(p *plan, n ir.WorkflowNodeIR) (string, error) {
	init := plainInit
	if n.HasLLM {
		init = sharedInit(p.llm)
	}
	class, err := g.component(p, n, init)
	if err != nil {
		return "", err
	}

	lines := []string{moduleDoc(n.Name + " component."), ""}
	if carried := usedImports(p, n.ConvertedBody); len(carried) > 0 {
		lines = append(lines, carried...)
		lines = append(lines, "")
	}
	lines = append(lines, componentImports...)

	var config []string
	if n.HasLLM {
		config = append(config, "get_llm", p.llm.ModelVar)
	}
	for _, stmt := range p.m.Agent.Globals {
		name := assignedName(stmt)
		if name != "" && !contains(config, name) && refersTo(n.ConvertedBody, name) {
			config = append(config, name)
		}
	}
	if len(config) > 0 {
		lines = append(lines, "from ..config import "+strings.Join(config, ", "))
	}

	var tools []string
	if n.Dispatch {
		tools = append(tools, "invoke_tool")
	}
	if p.needsDispatch() && refersTo(n.ConvertedBody, p.toolMap) {
		tools = append(tools, p.toolMap)
	}
	for _, name := range n.UsesTools {
		if !contains(tools, name) {
			tools = append(tools, name)
		}
	}
	if len(tools) > 0 && p.hasTools {
		lines = append(lines, "from ..tools import "+strings.Join(tools, ", "))
	}
	return strings.Join(lines, "\n") + "\n\n\n" + class + "\n", nil
}

// routersFile holds the conditional routers with the constants they read.
func (g *Generator) routersFile(p *plan) string {
	lines := []string{moduleDoc("Routers."), ""}
	seen := make(map[string]bool)
	for _, e := range p.routers {
		for _, text := range e.RouterImports {
			if !seen[text] {
				seen[text] = true
				lines = append(lines, text)
			}
		}
	}
	lines = append(lines, "from openjiuwen.core.runtime.workflow import WorkflowRuntime")

	var consts []string
	for _, e := range p.routers {
		for _, name := range e.RouterGlobals {
			if p.defined[name] != "" && !contains(consts, name) {
				consts = append(consts, name)
			}
		}
	}
	if len(consts) > 0 {
		lines = append(lines, "from .config import "+strings.Join(consts, ", "))
	}
	sections := []string{strings.Join(lines, "\n")}
	for _, e := range p.routers {
		sections = append(sections, e.RouterBody)
	}
	if len(p.routers) == 0 && g.comments {
		sections = append(sections, "# no conditional routing")
	}
	return strings.Join(sections, "\n\n\n") + "\n"
}

// workflowFile assembles the components and routers into the workflow.
func (g *Generator) workflowFile(p *plan) string {
	lines := []string{
		moduleDoc("Workflow assembly."),
		"",
		"from openjiuwen.core.workflow.base import Workflow",
		"from openjiuwen.core.component.start_comp import Start",
		"from openjiuwen.core.component.end_comp import End",
		"",
	}
	for _, n := range p.m.Workflow.Nodes {
		lines = append(lines, fmt.Sprintf("from .components.%s import %s", componentModule(n), n.ClassName))
	}
	if len(p.routers) > 0 {
		names := make([]string, len(p.routers))
		for i, e := range p.routers {
			names[i] = e.RouterName
		}
		lines = append(lines, "from .routers import "+strings.Join(names, ", "))
	}
	return strings.Join(lines, "\n") + "\n\n\n" + g.builder(p) + "\n"
}
