package codegen

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/DeusData/lg2jiuwen/internal/ir"
	"github.com/DeusData/lg2jiuwen/internal/model"
)

func weatherIR() *ir.MigrationIR {
	return &ir.MigrationIR{
		Agent: ir.AgentIR{
			Name: "Weather",
			LLM: ir.LLMConfigIR{
				Detected: true, ModelName: "glm-4", APIKey: "sk", ModelNameVar: "LLM_MODEL",
				APIKeyVar: "LLM_API_KEY", APIBaseVar: "LLM_API_BASE",
			},
			Tools: []ir.ToolIR{{
				Name: "get_weather", FuncName: "get_weather", Description: "Look up the weather.",
				Parameters: []model.Param{{Name: "city", Type: "str"}},
				ReturnType: "str", Body: `return city + ": sunny"`,
			}},
			Imports:       []model.ImportStmt{{Text: "import json", Names: []string{"json"}}},
			Globals:       []string{`LLM_MODEL = "glm-4"`, `LLM_API_KEY = "sk"`, `LLM_API_BASE = "https://x"`, `MAX_RETRIES = 3`},
			ToolGlobals:   []string{`tool_map = {"weather": get_weather}`},
			ToolMapVar:    "tool_map",
			InitialInputs: []model.InputValue{{Key: "sentence", Placeholder: "${text}"}, {Key: "retries", Literal: "0"}},
			ExampleInputs: map[string]string{"sentence": `"tomorrow in Beijing"`},
		},
		Workflow: ir.WorkflowIR{
			EntryNode: "parse",
			Nodes: []ir.WorkflowNodeIR{
				{
					Name: "parse", ClassName: "ParseComp", Docstring: "Extract the city.",
					Inputs: []string{"sentence"}, Outputs: []string{"city"},
					GlobalOutputs: []string{}, LocalOutputs: []string{"city"},
					HasLLM: true, Origin: "rule",
					ConvertedBody: "city = (await self._llm.ainvoke(model_name=self.model_name, messages=[{\"role\": \"user\", \"content\": inputs[\"sentence\"]}])).content\nreturn __COLLECTED_OUTPUTS__",
				},
				{
					Name: "call_weather", ClassName: "CallWeatherComp",
					Inputs: []string{"city", "retries"}, Outputs: []string{"weather", "retries"},
					GlobalOutputs: []string{"retries"}, LocalOutputs: []string{"weather"},
					Origin: "rule", Dispatch: true,
					ConvertedBody: "retries = (inputs.get(\"retries\") or 0) + 1\n" +
						"if retries > MAX_RETRIES:\n" +
						"    return {\"weather\": \"\", \"retries\": retries}\n" +
						"weather = invoke_tool(\"weather\", inputs[\"city\"])\n" +
						"return {\"weather\": json.dumps(weather), \"retries\": retries}",
				},
			},
			Edges: []ir.WorkflowEdgeIR{
				{
					Source: "parse", IsConditional: true, Targets: []string{"call_weather", "end"},
					RouterName:    "parse_router",
					RouterBody:    "def parse_router(runtime: WorkflowRuntime) -> str:\n    \"\"\"Route on the output of parse.\"\"\"\n    if (runtime.get_global_state(\"retries\") or 0) > MAX_RETRIES:\n        return \"end\"\n    return \"call_weather\" if runtime.get_global_state(\"parse.city\") else \"end\"",
					SourceOutputs: []string{"city"},
					RouterGlobals: []string{"MAX_RETRIES"},
				},
				{Source: "call_weather", Target: "end", Targets: []string{"end"}},
			},
		},
		Stats:    ir.Stats{RuleCount: 2, TotalNodes: 2, TotalEdges: 2, TotalTools: 1},
		Warnings: []string{"no entry point declared"},
	}
}

func generate(t *testing.T, opts ...Option) map[string]string {
	t.Helper()
	out, err := New(opts...).Generate(weatherIR())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	files := make(map[string]string, len(out.Files))
	for _, f := range out.Files {
		files[f.Path] = f.Content
	}
	return files
}

func wantContains(t *testing.T, name, content string, parts ...string) {
	t.Helper()
	for _, p := range parts {
		if !strings.Contains(content, p) {
			t.Errorf("%s lacks %q\n--- content ---\n%s", name, p, content)
		}
	}
}

func TestGenerate_SingleFile(t *testing.T) {
	out, err := New().Generate(weatherIR())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if diff := cmp.Diff([]string{"weather_openjiuwen.py"}, out.Paths()); diff != "" {
		t.Fatalf("paths (-want +got):\n%s", diff)
	}
	src := out.Files[0].Content

	if !strings.HasPrefix(src, "\"\"\"\nWeather - migrated to openJiuwen by lg2jiuwen\n\"\"\"\n\nimport os\nimport asyncio\nfrom typing import Any, Dict, List, Optional\nimport json\n\n") {
		t.Errorf("header:\n%s", src[:200])
	}
	wantContains(t, "single", src,
		"from openjiuwen.core.utils.llm.model_library.openai import OpenAIChatModel\n",
		"from openjiuwen.core.utils.tool.tool import tool\n\nos.environ['LLM_SSL_VERIFY'] = 'false'\n\nLLM_MODEL = \"glm-4\"\n",
		"@tool(\n    name=\"get_weather\",\n    description=\"Look up the weather.\",\n    params=[\n"+
			"        Param(name=\"city\", description=\"city\", type=\"string\", required=True),\n    ],\n)\n"+
			"def get_weather(city: str) -> str:\n    \"\"\"Look up the weather.\"\"\"\n    return city + \": sunny\"\n",
		"tool_map = {\"weather\": get_weather}\n\n\ndef invoke_tool(tool_name: str, arg: str) -> str:",
		"    tool_func = tool_map.get(tool_name)\n",
		"class ParseComp(WorkflowComponent, ComponentExecutable):\n    \"\"\"Extract the city.\"\"\"\n\n    def __init__(self, llm=None):",
		"                api_key=LLM_API_KEY,\n                api_base=LLM_API_BASE\n",
		"        self.model_name = LLM_MODEL\n",
		"class CallWeatherComp(WorkflowComponent, ComponentExecutable):\n    \"\"\"call_weather component.\"\"\"\n\n    def __init__(self):\n        pass\n",
		"        retries = (runtime.get_global_state(\"retries\") or 0) + 1\n",
		"        weather = invoke_tool(\"weather\", inputs[\"city\"])\n",
		"            runtime.update_global_state({\"retries\": retries})\n            return {\"weather\": \"\", \"retries\": retries}\n",
		"def parse_router(runtime: WorkflowRuntime) -> str:",
		"def build_weather_workflow() -> Workflow:\n",
		"    workflow.set_start_comp(\"start\", Start(), inputs_schema={\n        \"sentence\": \"${sentence}\",\n        \"retries\": \"${retries}\",\n    })\n",
		"        inputs_schema={\"city\": \"${parse.city}\", \"retries\": \"${start.retries}\"}\n",
		"    workflow.set_end_comp(\"end\", End(), inputs_schema={\"city\": \"${parse.city}\", \"weather\": \"${call_weather.weather}\", \"retries\": \"${call_weather.retries}\"})\n",
		"    workflow.add_connection(\"start\", \"parse\")\n    workflow.add_conditional_connection(\"parse\", parse_router)\n    workflow.add_connection(\"call_weather\", \"end\")\n",
		"    inputs = {\n        \"sentence\": \"tomorrow in Beijing\",\n        \"retries\": 0\n    }\n",
		"if __name__ == \"__main__\":\n    asyncio.run(main())\n",
	)
	if strings.Contains(src, "__COLLECTED_OUTPUTS__") {
		t.Error("collected-outputs marker left in output")
	}
	if strings.Contains(src, "def run(") {
		t.Error("single file should not define run()")
	}
}

func TestGenerate_Idempotent(t *testing.T) {
	for _, layout := range []Layout{LayoutSingle, LayoutMulti} {
		a := generate(t, WithLayout(layout))
		b := generate(t, WithLayout(layout))
		if diff := cmp.Diff(a, b); diff != "" {
			t.Errorf("%s output differs between runs (-a +b):\n%s", layout, diff)
		}
	}
}

func TestGenerate_MultiFile(t *testing.T) {
	out, err := New(WithLayout(LayoutMulti)).Generate(weatherIR())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []string{
		"weather/__init__.py",
		"weather/config.py",
		"weather/tools.py",
		"weather/components/__init__.py",
		"weather/components/parse_comp.py",
		"weather/components/call_weather_comp.py",
		"weather/routers.py",
		"weather/workflow.py",
		"weather/main.py",
	}
	if diff := cmp.Diff(want, out.Paths()); diff != "" {
		t.Fatalf("paths (-want +got):\n%s", diff)
	}
	files := generate(t, WithLayout(LayoutMulti))

	wantContains(t, "__init__", files["weather/__init__.py"],
		"from .workflow import build_weather_workflow\n\n__all__ = [\"build_weather_workflow\"]\n")
	wantContains(t, "config", files["weather/config.py"],
		"import os\nfrom openjiuwen.core.utils.llm.model_library.openai import OpenAIChatModel\n",
		"# constants\nMAX_RETRIES = 3\n",
		"# model configuration\nLLM_MODEL = \"glm-4\"\nLLM_API_KEY = \"sk\"\nLLM_API_BASE = \"https://x\"\n",
		"def get_llm():\n    \"\"\"Return the chat model used by the components.\"\"\"\n    return OpenAIChatModel(api_key=LLM_API_KEY, api_base=LLM_API_BASE)\n",
	)
	wantContains(t, "tools", files["weather/tools.py"],
		"from .config import *\n",
		"def get_weather(city: str) -> str:",
		"def invoke_tool(tool_name: str, arg: str) -> str:",
	)
	wantContains(t, "components/__init__", files["weather/components/__init__.py"],
		"from .parse_comp import ParseComp\nfrom .call_weather_comp import CallWeatherComp\n\n__all__ = [\"ParseComp\", \"CallWeatherComp\"]\n")

	parse := files["weather/components/parse_comp.py"]
	wantContains(t, "parse_comp", parse,
		"from ..config import get_llm, LLM_MODEL\n",
		"            self._llm = get_llm()\n        self.model_name = LLM_MODEL\n",
	)
	if strings.Contains(parse, "from ..tools") || strings.Contains(parse, "import json") {
		t.Errorf("parse_comp imports unused names:\n%s", parse)
	}
	wantContains(t, "call_weather_comp", files["weather/components/call_weather_comp.py"],
		"\"\"\"\ncall_weather component.\n\"\"\"\n\nimport json\n\n",
		"from ..config import MAX_RETRIES\nfrom ..tools import invoke_tool\n",
	)
	wantContains(t, "routers", files["weather/routers.py"],
		"from openjiuwen.core.runtime.workflow import WorkflowRuntime\nfrom .config import MAX_RETRIES\n",
		"def parse_router(runtime: WorkflowRuntime) -> str:",
	)
	wantContains(t, "workflow", files["weather/workflow.py"],
		"from .components.parse_comp import ParseComp\nfrom .components.call_weather_comp import CallWeatherComp\nfrom .routers import parse_router\n",
		"def build_weather_workflow() -> Workflow:",
	)
	wantContains(t, "main", files["weather/main.py"],
		"from weather.workflow import build_weather_workflow\n",
		"def run(inputs: dict) -> dict:\n",
		"        \"sentence\": \"tomorrow in Beijing\",\n",
	)
	for path, content := range files {
		if !strings.HasSuffix(content, "\n") || strings.HasSuffix(content, "\n\n") {
			t.Errorf("%s should end with exactly one newline", path)
		}
	}
}

func TestGenerate_WithoutComments(t *testing.T) {
	src := generate(t, WithPreserveComments(false))["weather_openjiuwen.py"]
	for _, c := range []string{"# initialize outputs", "# component logic", "# publish process-wide state", "    # connections"} {
		if strings.Contains(src, c) {
			t.Errorf("comment %q emitted", c)
		}
	}
}

func TestGenerate_DefaultsWithoutLLMConfig(t *testing.T) {
	m := weatherIR()
	m.Agent.LLM = ir.LLMConfigIR{ModelName: "gpt-4", Temperature: 0.7}
	m.Agent.Globals = nil
	m.Agent.ToolGlobals = nil
	m.Agent.ToolMapVar = ""
	m.Workflow.Edges[0].RouterGlobals = nil

	out, err := New().Generate(m)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	wantContains(t, "single", out.Files[0].Content,
		"api_key=os.getenv(\"OPENAI_API_KEY\", \"\")",
		"self.model_name = \"gpt-4\"",
		"tool_map = {\n    \"get_weather\": get_weather,\n}",
	)

	out, err = New(WithLayout(LayoutMulti)).Generate(m)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, f := range out.Files {
		if f.Path == "weather/config.py" {
			wantContains(t, "config", f.Content, "MODEL_NAME = \"gpt-4\"\n")
		}
	}
}

func TestGenerate_NilIR(t *testing.T) {
	if _, err := New().Generate(nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseLayout(t *testing.T) {
	if l, err := ParseLayout(" Multi "); err != nil || l != LayoutMulti {
		t.Errorf("ParseLayout(Multi) = %q, %v", l, err)
	}
	if _, err := ParseLayout("auto"); err == nil {
		t.Error("auto is resolved by the caller, not the generator")
	}
}

func TestDumpIR(t *testing.T) {
	m := weatherIR()
	a, err := DumpIR(m)
	if err != nil {
		t.Fatalf("DumpIR: %v", err)
	}
	b, _ := DumpIR(weatherIR())
	if string(a) != string(b) {
		t.Error("dump not stable")
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(a, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var keys []string
	for k := range doc {
		keys = append(keys, k)
	}
	if len(keys) != 3 || doc["agent"] == nil || doc["workflow"] == nil || doc["extraction"] == nil {
		t.Errorf("top-level keys = %v", keys)
	}
	var ex struct {
		RuleCount int      `json:"rule_count"`
		AICount   int      `json:"ai_count"`
		Warnings  []string `json:"warnings"`
	}
	if err := json.Unmarshal(doc["extraction"], &ex); err != nil || ex.RuleCount != 2 || len(ex.Warnings) != 1 {
		t.Errorf("extraction = %+v, %v", ex, err)
	}
	if strings.Contains(string(a), `"sk"`) {
		t.Error("API key leaked into the IR dump")
	}
	if !strings.HasPrefix(string(a), "{\n  \"agent\": {\n    \"name\": \"Weather\",") {
		t.Errorf("dump layout:\n%s", a[:80])
	}
}
