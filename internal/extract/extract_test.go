package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/DeusData/lg2jiuwen/internal/discover"
	"github.com/DeusData/lg2jiuwen/internal/model"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

func extractFiles(t *testing.T, root string, files map[string]string) *model.ExtractionResult {
	t.Helper()
	contents := make(map[string][]byte, len(files))
	for p, s := range files {
		contents[p] = []byte(s)
	}
	set, err := parser.ParseSources(contents, discover.Order(contents, root))
	if err != nil {
		t.Fatalf("ParseSources: %v", err)
	}
	t.Cleanup(set.Close)
	res, err := Extract(context.Background(), set, Options{RootName: root})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return res
}

const weatherAgent = `import os
import httpx
from typing import TypedDict, Optional
from langchain_openai import ChatOpenAI
from langgraph.graph import StateGraph, END
from langchain_core.tools import tool

class AgentState(TypedDict):
    sentence: str
    city: Optional[str]
    date: Optional[str]
    weather: Optional[str]
    error: Optional[str]

SENIVERSE_API_KEY = "key"

@tool
def get_weather(city: str, date: str) -> str:
    """Look up the weather."""
    resp = httpx.get(f"https://example.com/{city}?d={date}&key={SENIVERSE_API_KEY}", timeout=10)
    return resp.text

llm = ChatOpenAI(
    model="glm-4-flash",
    openai_api_key="sk-test",
    openai_api_base="https://example.com/v4/",
    temperature=0
)

def parse_input_llm(state: AgentState) -> AgentState:
    """Extract city and date."""
    messages = [{"role": "user", "content": state["sentence"]}]
    ans = llm.invoke(messages).content.strip()
    try:
        import json
        obj = json.loads(ans)
        state["city"] = obj["city"]
        state["date"] = obj["date"]
    except Exception:
        state["error"] = ans
    return state

def route_after_extract(state: AgentState) -> str:
    return END if state.get("error") else "call_weather"

def call_weather(state: AgentState) -> AgentState:
    """Call the weather tool."""
    city = state.get("city")
    date = state.get("date")
    if not city or not date:
        state["error"] = "missing city or date"
        return state
    result = get_weather.invoke({"city": city, "date": date})
    state["weather"] = result
    return state

workflow = StateGraph(AgentState)
workflow.add_node("extract", parse_input_llm)
workflow.add_node("call_weather", call_weather)

workflow.set_entry_point("extract")
workflow.add_conditional_edges("extract", route_after_extract, {"call_weather": "call_weather", END: END})
workflow.add_edge("call_weather", END)

graph = workflow.compile()

if __name__ == "__main__":
    sentence = "tomorrow in Beijing"
    result = graph.invoke({"sentence": sentence})
    print(result)
`

func TestExtract_SingleFileAgent(t *testing.T) {
	res := extractFiles(t, "", map[string]string{"weather_agent.py": weatherAgent})

	if res.StateClass != "AgentState" {
		t.Errorf("state class = %q", res.StateClass)
	}
	if diff := cmp.Diff([]string{"sentence", "city", "date", "weather", "error"}, res.StateFieldNames()); diff != "" {
		t.Errorf("state fields (-want +got):\n%s", diff)
	}
	if res.LLM == nil || res.LLM.ModelName != "glm-4-flash" || res.LLM.APIKey != "sk-test" || res.LLM.Temperature == nil || *res.LLM.Temperature != 0 {
		t.Errorf("llm = %+v", res.LLM)
	}
	if len(res.Tools) != 1 || res.Tools[0].Name != "get_weather" || res.Tools[0].Description != "Look up the weather." {
		t.Fatalf("tools = %+v", res.Tools)
	}
	if diff := cmp.Diff([]model.Param{{Name: "city", Type: "str"}, {Name: "date", Type: "str"}}, res.Tools[0].Parameters); diff != "" {
		t.Errorf("tool params (-want +got):\n%s", diff)
	}

	if res.RuleCount != 2 || res.Pending.Len() != 0 {
		t.Fatalf("rule=%d pending=%d warnings=%v", res.RuleCount, res.Pending.Len(), res.Warnings)
	}
	extract, ok := res.Node("extract")
	if !ok {
		t.Fatal("node extract missing")
	}
	if extract.Function != "parse_input_llm" || extract.Docstring != "Extract city and date." {
		t.Errorf("extract node = %+v", extract)
	}
	if diff := cmp.Diff([]string{"city", "date", "error"}, extract.OutputKeys); diff != "" {
		t.Errorf("extract outputs (-want +got):\n%s", diff)
	}
	cw, _ := res.Node("call_weather")
	if !strings.Contains(cw.ConvertedBody, `result = get_weather.invoke(inputs={"city": city, "date": date})`) {
		t.Errorf("call_weather body:\n%s", cw.ConvertedBody)
	}

	if res.EntryPoint != "extract" {
		t.Errorf("entry = %q", res.EntryPoint)
	}
	wantEdges := []model.EdgeSpec{
		{Source: "extract", IsConditional: true, Router: "route_after_extract",
			ConditionMap: []model.Branch{{Value: "call_weather", Target: "call_weather"}, {Value: "end", Target: "end"}}},
		{Source: "call_weather", Target: "end"},
	}
	if diff := cmp.Diff(wantEdges, res.Edges, cmpEdge); diff != "" {
		t.Errorf("edges (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(res.Edges[0].RouterSource, "def route_after_extract(state: AgentState) -> str:") {
		t.Errorf("router source = %q", res.Edges[0].RouterSource)
	}
	if g := res.Graph[0]; !g.IsConditional || !cmp.Equal([]string{"call_weather", "end"}, g.ConditionReturnValues) {
		t.Errorf("graph node = %+v", g)
	}

	if diff := cmp.Diff([]model.InputValue{{Key: "sentence", Placeholder: "${sentence}"}}, res.InitialInputs); diff != "" {
		t.Errorf("initial inputs (-want +got):\n%s", diff)
	}
	if got := res.ExampleInputs["sentence"]; got != `"tomorrow in Beijing"` {
		t.Errorf("example = %q", got)
	}

	var imports []string
	for _, im := range res.Imports {
		imports = append(imports, im.Text)
	}
	if diff := cmp.Diff([]string{"import os", "import httpx"}, imports); diff != "" {
		t.Errorf("imports (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{`SENIVERSE_API_KEY = "key"`}, res.Globals); diff != "" {
		t.Errorf("globals (-want +got):\n%s", diff)
	}
}

var cmpEdge = cmp.Comparer(func(a, b model.EdgeSpec) bool {
	return a.Source == b.Source && a.Target == b.Target && a.IsConditional == b.IsConditional &&
		a.Router == b.Router && cmp.Equal(a.ConditionMap, b.ConditionMap)
})

// reactAgent is a package whose router, tools and nodes live in separate
// files from the graph that wires them.
func reactAgent() map[string]string {
	return map[string]string{
		"config.py": `from langchain_openai import ChatOpenAI

LLM_MODEL_NAME = "glm-4-flash"
LLM_API_KEY = "sk-test"
LLM_API_BASE = "https://example.com/v4/"

llm = ChatOpenAI(model=LLM_MODEL_NAME, openai_api_key=LLM_API_KEY, openai_api_base=LLM_API_BASE, temperature=0)
`,
		"state.py": `from typing import TypedDict, Optional

MAX_LOOPS = 3

class AgentState(TypedDict):
    input: str
    selected_tool: Optional[str]
    tool_input: str
    result: str
    is_end: bool
    loop_count: int
`,
		"tools/__init__.py": `from .calculator import calculator

tool_map = {
    "Calculator": calculator,
}

__all__ = ["calculator", "tool_map"]
`,
		"tools/calculator.py": `from langchain_core.tools import tool


@tool
def calculator(expression: str) -> str:
    """Evaluate arithmetic."""
    return str(eval(expression))
`,
		"nodes.py": `from .state import AgentState
from .config import llm
from .tools import tool_map


def think_node(state: AgentState) -> dict:
    """Pick a tool."""
    response = llm.invoke([{"role": "user", "content": state["input"]}]).content
    loop_count = state.get("loop_count", 0) + 1
    return {"selected_tool": "Calculator", "tool_input": response, "loop_count": loop_count}


def select_tool_node(state: AgentState) -> dict:
    selected_tool = state.get("selected_tool")
    tool_input = state.get("tool_input", "")
    result = tool_map[selected_tool].invoke(tool_input)
    return {"result": result}
`,
		"router.py": `from .state import AgentState, MAX_LOOPS


def judge_router(state: AgentState) -> str:
    """Stop after enough loops."""
    if state.get("loop_count", 0) >= MAX_LOOPS:
        return "end"
    return "think"
`,
		"graph.py": `from langgraph.graph import StateGraph, END

from .state import AgentState
from .nodes import think_node, select_tool_node
from .router import judge_router

graph = StateGraph(AgentState)
graph.add_node("think", think_node)
graph.add_node("select_tool", select_tool_node)
graph.set_entry_point("think")
graph.add_edge("think", "select_tool")
graph.add_conditional_edges("select_tool", judge_router, {"end": END, "think": "think"})
app = graph.compile()
`,
		"main.py": `import sys

from react_agent.graph import app


def run(input_text: str) -> dict:
    return app.invoke({"input": input_text, "is_end": False, "loop_count": 0})


if __name__ == "__main__":
    result = run("100+200")
    print(result)
`,
	}
}

func TestExtract_CrossFileReferences(t *testing.T) {
	res := extractFiles(t, "react_agent", reactAgent())

	if len(res.Edges) != 2 {
		t.Fatalf("edges = %+v\nwarnings = %v", res.Edges, res.Warnings)
	}
	cond := res.Edges[1]
	if !cond.IsConditional || cond.Router != "judge_router" || cond.Source != "select_tool" {
		t.Fatalf("conditional edge = %+v", cond)
	}
	if !strings.Contains(cond.RouterSource, `state.get("loop_count", 0) >= MAX_LOOPS`) {
		t.Errorf("router source = %q", cond.RouterSource)
	}
	if diff := cmp.Diff([]string{"MAX_LOOPS"}, cond.RouterGlobals); diff != "" {
		t.Errorf("router globals (-want +got):\n%s", diff)
	}

	think, ok := res.Node("think")
	if !ok {
		t.Fatalf("think not converted; pending=%d warnings=%v", res.Pending.Len(), res.Warnings)
	}
	if !strings.Contains(think.ConvertedBody, `(await self._llm.ainvoke(model_name=self.model_name, messages=[{"role": "user", "content": inputs["input"]}])).content`) {
		t.Errorf("think body:\n%s", think.ConvertedBody)
	}
	sel, _ := res.Node("select_tool")
	if !strings.Contains(sel.ConvertedBody, "result = invoke_tool(selected_tool, tool_input)") {
		t.Errorf("select_tool body:\n%s", sel.ConvertedBody)
	}

	if res.ToolMapVar != "tool_map" {
		t.Errorf("tool map var = %q", res.ToolMapVar)
	}
	if len(res.ToolGlobals) != 1 || !strings.HasPrefix(res.ToolGlobals[0], "tool_map = {") {
		t.Errorf("tool globals = %q", res.ToolGlobals)
	}
	for _, g := range res.Globals {
		if strings.Contains(g, "compile(") || strings.Contains(g, "StateGraph(") || strings.HasPrefix(g, "llm") {
			t.Errorf("graph plumbing kept as global: %q", g)
		}
	}
	if got := res.LLM; got == nil || got.ModelNameVar != "LLM_MODEL_NAME" || got.ModelName != "glm-4-flash" || got.APIBaseVar != "LLM_API_BASE" {
		t.Errorf("llm = %+v", got)
	}

	wantInputs := []model.InputValue{
		{Key: "input", Placeholder: "${input_text}"},
		{Key: "is_end", Literal: "False"},
		{Key: "loop_count", Literal: "0"},
	}
	if diff := cmp.Diff(wantInputs, res.InitialInputs); diff != "" {
		t.Errorf("initial inputs (-want +got):\n%s", diff)
	}
	if got := res.ExampleInputs["input"]; got != `"100+200"` {
		t.Errorf("wrapper example = %q", got)
	}
	for _, im := range res.Imports {
		if strings.Contains(im.Text, "react_agent") || strings.HasPrefix(im.Text, "from .") {
			t.Errorf("project import carried: %q", im.Text)
		}
	}
}

func TestExtract_ForeignCallBecomesPending(t *testing.T) {
	res := extractFiles(t, "", map[string]string{"agent.py": `import requests
from typing import TypedDict
from langgraph.graph import StateGraph, END

class S(TypedDict):
    url: str
    body: str
    status: int

def fetch(state: S) -> S:
    state["status"] = 0
    resp = requests.get(state["url"])
    state["body"] = resp.text
    return state

g = StateGraph(S)
g.add_node("fetch", fetch)
g.set_entry_point("fetch")
g.add_edge("fetch", END)
app = g.compile()
`})
	if res.RuleCount != 0 {
		t.Fatalf("rule count = %d", res.RuleCount)
	}
	items := res.Pending.Close()
	if len(items) != 1 {
		t.Fatalf("pending = %+v", items)
	}
	it := items[0]
	if it.ID != parser.EncodePath("agent.py")+":fetch" || it.Category != model.PendingNodeBody {
		t.Errorf("item = %+v", it)
	}
	if it.Reason != "unsupported third-party call requests.get (requests)" {
		t.Errorf("reason = %q", it.Reason)
	}
	if diff := cmp.Diff([]string{"status", "body"}, it.Context.KnownOutputs); diff != "" {
		t.Errorf("known outputs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"url", "body", "status"}, it.Context.StateFields); diff != "" {
		t.Errorf("state fields (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(it.SourceText, "def fetch(state: S) -> S:") || it.Location != "agent.py:10" {
		t.Errorf("source/location = %q %q", it.SourceText, it.Location)
	}
}

func TestExtract_UnresolvedReferences(t *testing.T) {
	res := extractFiles(t, "", map[string]string{"agent.py": `from langgraph.graph import StateGraph, END
from typing import TypedDict

class S(TypedDict):
    x: int

def a(state):
    return {"x": 1}

g = StateGraph(S)
g.add_node("a", a)
g.add_node("b", missing_fn)
g.add_edge("a", "b")
g.add_conditional_edges("b", nowhere, {"a": "a"})
`})
	if len(res.Edges) != 1 {
		t.Errorf("edges = %+v", res.Edges)
	}
	joined := strings.Join(res.Warnings, "\n")
	for _, want := range []string{`unresolved router "nowhere"`, `unresolved node "missing_fn"`} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q:\n%s", want, joined)
		}
	}
	items := res.Pending.Close()
	if len(items) != 1 || items[0].NodeName != "b" || items[0].SourceText != `g.add_node("b", missing_fn)` {
		t.Errorf("pending = %+v", items)
	}
	if res.EntryPoint != "a" {
		t.Errorf("entry fallback = %q", res.EntryPoint)
	}
}

func TestExtract_AggregatorsToolObjectsAndLambdaRouter(t *testing.T) {
	res := extractFiles(t, "", map[string]string{"agent.py": `from typing import Annotated, TypedDict
import operator
from langgraph.graph import StateGraph, START, END
from langchain.tools import Tool

class S(TypedDict):
    items: Annotated[list, operator.add]
    query: str
    answer: str

def do_search(q: str) -> str:
    """Search the web."""
    return q

search_tool = Tool(name="Search", func=do_search, description="web search")

def answer(state):
    return {"answer": search_tool.invoke({"q": state["query"]}), "items": [1]}

g = StateGraph(S)
g.add_node(answer)
g.add_edge(START, "answer")
g.add_conditional_edges("answer", lambda s: "end" if s["answer"] else "answer")
app = g.compile()
app.invoke({"query": "go", "items": []})
`})
	if f := res.StateFields[0]; !f.HasAggregator || f.AggregatorRef != "operator.add" || f.Type != "list" {
		t.Errorf("aggregator field = %+v", f)
	}
	if len(res.Tools) != 1 || res.Tools[0].Name != "Search" || res.Tools[0].FuncName != "do_search" || res.Tools[0].Description != "web search" {
		t.Fatalf("tools = %+v", res.Tools)
	}
	n, ok := res.Node("answer")
	if !ok {
		t.Fatalf("answer not converted: %v", res.Warnings)
	}
	if !strings.Contains(n.ConvertedBody, `do_search.invoke(inputs={"q": inputs["query"]})`) {
		t.Errorf("alias not resolved:\n%s", n.ConvertedBody)
	}
	if res.EntryPoint != "answer" {
		t.Errorf("entry = %q", res.EntryPoint)
	}
	e := res.Edges[0]
	if e.Router != "lambda" || e.RouterSource != "def route(s):\n    return \"end\" if s[\"answer\"] else \"answer\"\n" {
		t.Errorf("lambda router = %+v", e)
	}
	if diff := cmp.Diff([]string{"end", "answer"}, res.Graph[0].ConditionReturnValues); diff != "" {
		t.Errorf("return values (-want +got):\n%s", diff)
	}
	for _, g := range res.Globals {
		if strings.Contains(g, "Tool(") {
			t.Errorf("tool construction kept as global: %q", g)
		}
	}
	if diff := cmp.Diff([]model.InputValue{{Key: "query", Literal: `"go"`}, {Key: "items", Literal: "[]"}}, res.InitialInputs); diff != "" {
		t.Errorf("inputs (-want +got):\n%s", diff)
	}
}

func TestExtract_Cancelled(t *testing.T) {
	set, err := parser.ParseSources(map[string][]byte{"a.py": []byte("x = 1\n")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer set.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Extract(ctx, set, Options{}); err == nil {
		t.Fatal("expected cancellation error")
	}
}
