package codegen

import (
	"strings"
	"text/template"

	"github.com/DeusData/lg2jiuwen/internal/parser"
)

var funcs = template.FuncMap{
	"q":     parser.Quote,
	"ptype": paramType,
	"join":  strings.Join,
}

var templates = template.Must(template.New("codegen").Funcs(funcs).Parse(`
{{- define "header" -}}
"""
{{.}} - migrated to openJiuwen by lg2jiuwen
"""
{{- end}}

{{- define "component" -}}
class {{.ClassName}}(WorkflowComponent, ComponentExecutable):
{{.Doc}}

{{.Init}}

    async def invoke(
        self,
        inputs: Input,
        runtime: Runtime,
        context: Context
    ) -> Output:
{{.Body}}
{{- end}}

{{- define "tool" -}}
@tool(
    name={{q .Name}},
    description={{q .Description}},
{{- if .Params}}
    params=[
{{- range .Params}}
        Param(name={{q .Name}}, description={{q .Name}}, type={{q (ptype .Type)}}, required=True),
{{- end}}
    ],
{{- end}}
)
def {{.FuncName}}({{.Signature}}) -> {{.ReturnType}}:
{{.Doc}}
{{.Body}}
{{- end}}

{{- define "invoke_tool" -}}
def invoke_tool(tool_name: str, arg: str) -> str:
    """Invoke a tool by name with a single argument.

    Tools declared with @tool are called as tool.invoke(inputs={param: arg}),
    so the argument is bound to the tool's first declared parameter.
    """
    tool_func = {{.}}.get(tool_name)
    if tool_func is None:
        return f"unknown tool: {tool_name}"
    if hasattr(tool_func, "params") and tool_func.params:
        param_name = tool_func.params[0].name
    else:
        param_name = "input"
    return tool_func.invoke(inputs={param_name: arg})
{{- end}}

{{- define "main" -}}
async def main():
    """Run the workflow once with the example inputs."""
    workflow = build_{{.Slug}}_workflow()
    runtime = WorkflowRuntime()

    inputs = {
{{.Inputs}}
    }

    result = await workflow.invoke(inputs, runtime)
    print("result:", result)
{{- if .Run}}


def run(inputs: dict) -> dict:
    """Run the workflow with the given inputs."""
    workflow = build_{{.Slug}}_workflow()
    runtime = WorkflowRuntime()
    return asyncio.run(workflow.invoke(inputs, runtime))
{{- end}}


if __name__ == "__main__":
    asyncio.run(main())
{{- end}}

{{- define "main_file" -}}
"""
Entry point.
"""

import asyncio
import os
import sys

if __name__ == "__main__":
    sys.path.insert(0, os.path.dirname(os.path.dirname(os.path.abspath(__file__))))

from openjiuwen.core.runtime.workflow import WorkflowRuntime

from {{.Slug}}.workflow import build_{{.Slug}}_workflow


{{template "main" .}}
{{end}}

{{- define "package_init" -}}
{{template "header" .Name}}

from .workflow import build_{{.Slug}}_workflow

__all__ = ["build_{{.Slug}}_workflow"]
{{end}}

{{- define "components_init" -}}
"""
Workflow components.
"""

{{range .Items}}from .{{.Module}} import {{.ClassName}}
{{end}}
__all__ = [{{join .Names ", "}}]
{{end}}

{{- define "get_llm" -}}
def get_llm():
    """Return the chat model used by the components."""
    return OpenAIChatModel(api_key={{.APIKey}}, api_base={{.APIBase}})
{{- end}}
`))

func render(name string, data any) (string, error) {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

var paramTypes = map[string]string{
	"str":   "string",
	"int":   "integer",
	"float": "number",
	"bool":  "boolean",
	"list":  "array",
	"dict":  "object",
}

// paramType maps a Python annotation to the openJiuwen Param type name.
func paramType(annotation string) string {
	base := annotation
	if i := strings.IndexByte(base, '['); i >= 0 {
		base = base[:i]
	}
	if t, ok := paramTypes[strings.ToLower(strings.TrimSpace(base))]; ok {
		return t
	}
	return "string"
}
