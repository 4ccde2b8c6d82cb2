package codegen

import (
	"strings"
)

var frameworkImports = []string{
	"from openjiuwen.core.workflow.base import Workflow",
	"from openjiuwen.core.component.start_comp import Start",
	"from openjiuwen.core.component.end_comp import End",
	"from openjiuwen.core.component.base import WorkflowComponent",
	"from openjiuwen.core.runtime.base import ComponentExecutable, Input, Output",
	"from openjiuwen.core.runtime.runtime import Runtime",
	"from openjiuwen.core.runtime.workflow import WorkflowRuntime",
	"from openjiuwen.core.context_engine.base import Context",
}

const (
	llmImport   = "from openjiuwen.core.utils.llm.model_library.openai import OpenAIChatModel"
	paramImport = "from openjiuwen.core.utils.tool.param import Param"
	toolImport  = "from openjiuwen.core.utils.tool.tool import tool"
	sslVerify   = "os.environ['LLM_SSL_VERIFY'] = 'false'"
)

// single renders the whole program as {agent}_openjiuwen.py.
func (g *Generator) single(p *plan) (*Output, error) {
	m := p.m
	var sections []string

	head, err := render("header", m.Agent.Name)
	if err != nil {
		return nil, err
	}
	imports := []string{head, "", "import os", "import asyncio", "from typing import Any, Dict, List, Optional"}
	carried := map[string]bool{"import os": true, "import asyncio": true}
	add := func(text string) {
		if !carried[text] {
			carried[text] = true
			imports = append(imports, text)
		}
	}
	for _, im := range m.Agent.Imports {
		add(im.Text)
	}
	for _, e := range p.routers {
		for _, text := range e.RouterImports {
			add(text)
		}
	}
	imports = append(imports, "")
	imports = append(imports, frameworkImports...)
	if m.Workflow.HasLLM() {
		imports = append(imports, llmImport)
	}
	if p.hasTools {
		imports = append(imports, paramImport, toolImport)
	}
	imports = append(imports, "", sslVerify)
	if len(m.Agent.Globals) > 0 {
		imports = append(imports, "")
		imports = append(imports, m.Agent.Globals...)
	}
	sections = append(sections, strings.Join(imports, "\n"))

	for _, t := range m.Agent.Tools {
		s, err := tool(t)
		if err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	if p.needsDispatch() {
		sections = append(sections, strings.Join(p.toolMapDecl(), "\n"))
		s, err := render("invoke_tool", p.toolMap)
		if err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}

	for _, n := range m.Workflow.Nodes {
		init := plainInit
		if n.HasLLM {
			init = inlineInit(p.llm)
		}
		s, err := g.component(p, n, init)
		if err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}

	for _, e := range p.routers {
		sections = append(sections, e.RouterBody)
	}
	sections = append(sections, g.builder(p))

	mainSrc, err := g.main(p, false)
	if err != nil {
		return nil, err
	}
	sections = append(sections, mainSrc)

	return &Output{Files: []File{{
		Path:    p.slug + "_openjiuwen.py",
		Content: strings.Join(sections, "\n\n\n") + "\n",
	}}}, nil
}
