package report

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/DeusData/lg2jiuwen/internal/ir"
	"github.com/DeusData/lg2jiuwen/internal/model"
)

func sample() (*model.ExtractionResult, *ir.MigrationIR) {
	res := model.NewExtractionResult()
	res.StateClass = "AgentState"
	res.EntryPoint = "agent"
	res.Nodes = []model.ConvertedNode{
		{Name: "agent", Origin: model.OriginRule, InputKeys: []string{"messages"}, OutputKeys: []string{"messages"}},
		{Name: "tools", Origin: model.OriginAI, OutputKeys: []string{"messages", "steps"}},
	}
	res.Edges = []model.EdgeSpec{
		{Source: "agent", IsConditional: true, Router: "should_continue", ConditionMap: []model.Branch{
			{Value: "continue", Target: "tools"}, {Value: "end", Target: "end"},
		}},
		{Source: "tools", Target: "agent"},
	}
	res.Tools = []model.ToolSpec{{
		Name: "search", FuncName: "search",
		Description: "Search the web for the latest information | results",
		Parameters:  []model.Param{{Name: "query", Type: "str"}},
	}}
	res.RuleCount, res.AICount = 3, 1
	pe := &model.ParseError{Path: "broken.py", Line: 3, Column: 1, Msg: "syntax error"}
	res.ParseErrors = []error{pe}
	res.Warn(pe.Error())
	m := &ir.MigrationIR{
		Agent:    ir.AgentIR{Name: "ReAct"},
		Warnings: append(append([]string(nil), res.Warnings...), "tool lookup: unresolved"),
	}
	return res, m
}

func TestRender(t *testing.T) {
	res, m := sample()
	out := Render(res, m, []string{"react/main.py", "react/workflow.py"}, "abc123")

	for _, want := range []string{
		"# LangGraph to openJiuwen migration report\n\n- Tool version: lg2jiuwen dev\n- Source digest: `abc123`\n",
		"- Agent: ReAct\n- State class: AgentState\n- Entry node: agent\n- Nodes: 2\n- Edges: 2\n- Tools: 1\n",
		"| Rules | 3 | 75.0% |\n| AI | 1 | 25.0% |\n| **Total** | **4** | **100%** |",
		"| agent | rule | messages | messages |\n| tools | ai | - | messages, steps |",
		"| agent | continue -> tools, end -> end | conditional |\n| tools | agent | plain |",
		"| search | Search the web for the latest ... | query |",
		"- parse broken.py:3:1: syntax error\n- tool lookup: unresolved",
		"- react/main.py\n- react/workflow.py",
		"- [ ] Review 1 AI-converted nodes\n- [ ] Verify tool parameter and return mapping",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report lacks %q\n--- report ---\n%s", want, out)
		}
	}
	if again := Render(res, m, []string{"react/main.py", "react/workflow.py"}, "abc123"); again != out {
		t.Error("report not deterministic")
	}
}

func TestRender_Empty(t *testing.T) {
	out := Render(model.NewExtractionResult(), nil, nil, "")
	for _, want := range []string{
		"- Agent: Unknown",
		"- State class: not detected",
		"| Rules | 0 | 0.0% |",
		"No tools defined.",
		"## Warnings\n\nNone.",
		"## Generated files\n\n- none",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report lacks %q", want)
		}
	}
	if strings.Contains(out, "Source digest") {
		t.Error("empty digest should be omitted")
	}
}

func TestChecklist(t *testing.T) {
	want := []string{
		"Verify LLM credentials (API key, API base)",
		"Verify routing logic of conditional edges",
		"Verify async execution context",
		"Check state field mapping",
	}
	if diff := cmp.Diff(want, Checklist(model.NewExtractionResult())); diff != "" {
		t.Errorf("base checklist (-want +got):\n%s", diff)
	}
	res, _ := sample()
	if got := Checklist(res); len(got) != 6 {
		t.Errorf("checklist = %v", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("天气查询工具", 4); got != "天气查询..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 30); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}
