// Package report renders the markdown summary of a migration run.
package report

import (
	"fmt"
	"strings"

	"github.com/DeusData/lg2jiuwen/internal/ir"
	"github.com/DeusData/lg2jiuwen/internal/model"
)

// Version is printed in the report header. The CLI overrides it with the
// build version.
var Version = "dev"

const descWidth = 30

// Render builds the report for one run. files are the generated paths
// relative to the output directory and digest is the source fingerprint.
// The output carries no timestamp, so equal inputs give equal reports.
func Render(res *model.ExtractionResult, m *ir.MigrationIR, files []string, digest string) string {
	sections := []string{
		header(digest),
		summary(res, m),
		stats(res),
		nodes(res),
		edges(res),
		tools(res),
		warnings(res, m),
		generated(files),
		checklist(res),
		"---\nGenerated by lg2jiuwen.",
	}
	return strings.Join(sections, "\n\n") + "\n"
}

func header(digest string) string {
	lines := []string{"# LangGraph to openJiuwen migration report", "", "- Tool version: lg2jiuwen " + Version}
	if digest != "" {
		lines = append(lines, "- Source digest: `"+digest+"`")
	}
	return strings.Join(lines, "\n")
}

func summary(res *model.ExtractionResult, m *ir.MigrationIR) string {
	name := "Unknown"
	if m != nil && m.Agent.Name != "" {
		name = m.Agent.Name
	}
	return strings.Join([]string{
		"## Summary",
		"",
		"- Agent: " + name,
		"- State class: " + orNone(res.StateClass),
		"- Entry node: " + orNone(res.EntryPoint),
		fmt.Sprintf("- Nodes: %d", len(res.Nodes)),
		fmt.Sprintf("- Edges: %d", len(res.Edges)),
		fmt.Sprintf("- Tools: %d", len(res.Tools)),
	}, "\n")
}

func stats(res *model.ExtractionResult) string {
	total := res.RuleCount + res.AICount
	pct := func(n int) float64 {
		if total == 0 {
			return 0
		}
		return float64(n) / float64(total) * 100
	}
	return strings.Join([]string{
		"## Conversion statistics",
		"",
		"| Method | Count | Share |",
		"|--------|-------|-------|",
		fmt.Sprintf("| Rules | %d | %.1f%% |", res.RuleCount, pct(res.RuleCount)),
		fmt.Sprintf("| AI | %d | %.1f%% |", res.AICount, pct(res.AICount)),
		fmt.Sprintf("| **Total** | **%d** | **100%%** |", total),
	}, "\n")
}

func nodes(res *model.ExtractionResult) string {
	lines := []string{"## Nodes", "", "| Node | Converted by | Inputs | Outputs |", "|------|--------------|--------|---------|"}
	for _, n := range res.Nodes {
		lines = append(lines, row(n.Name, string(n.Origin), list(n.InputKeys), list(n.OutputKeys)))
	}
	return strings.Join(lines, "\n")
}

func edges(res *model.ExtractionResult) string {
	lines := []string{"## Edges", "", "| Source | Target | Type |", "|--------|--------|------|"}
	for _, e := range res.Edges {
		kind, target := "plain", e.Target
		if e.IsConditional {
			kind = "conditional"
			target = mapping(e)
		}
		lines = append(lines, row(e.Source, target, kind))
	}
	return strings.Join(lines, "\n")
}

// mapping renders the branches of a conditional edge as value -> target.
func mapping(e model.EdgeSpec) string {
	if len(e.ConditionMap) == 0 {
		return list(e.Targets())
	}
	parts := make([]string, len(e.ConditionMap))
	for i, b := range e.ConditionMap {
		parts[i] = b.Value + " -> " + b.Target
	}
	return strings.Join(parts, ", ")
}

func tools(res *model.ExtractionResult) string {
	if len(res.Tools) == 0 {
		return "## Tools\n\nNo tools defined."
	}
	lines := []string{"## Tools", "", "| Tool | Description | Parameters |", "|------|-------------|------------|"}
	for _, t := range res.Tools {
		names := make([]string, len(t.Parameters))
		for i, p := range t.Parameters {
			names[i] = p.Name
		}
		lines = append(lines, row(t.Name, truncate(t.Description, descWidth), list(names)))
	}
	return strings.Join(lines, "\n")
}

func warnings(res *model.ExtractionResult, m *ir.MigrationIR) string {
	// Parse errors and escalation failures are recorded as warnings
	// upstream.
	all := res.Warnings
	if m != nil {
		all = m.Warnings
	}
	if len(all) == 0 {
		return "## Warnings\n\nNone."
	}
	lines := []string{"## Warnings", ""}
	for _, w := range all {
		lines = append(lines, "- "+w)
	}
	return strings.Join(lines, "\n")
}

func generated(files []string) string {
	lines := []string{"## Generated files", ""}
	for _, f := range files {
		lines = append(lines, "- "+f)
	}
	if len(files) == 0 {
		lines = append(lines, "- none")
	}
	return strings.Join(lines, "\n")
}

// Checklist returns the manual review items for a run.
func Checklist(res *model.ExtractionResult) []string {
	items := []string{
		"Verify LLM credentials (API key, API base)",
		"Verify routing logic of conditional edges",
		"Verify async execution context",
		"Check state field mapping",
	}
	ai := 0
	for _, n := range res.Nodes {
		if n.Origin == model.OriginAI {
			ai++
		}
	}
	if ai > 0 {
		items = append(items, fmt.Sprintf("Review %d AI-converted nodes", ai))
	}
	if len(res.Tools) > 0 {
		items = append(items, "Verify tool parameter and return mapping")
	}
	return items
}

func checklist(res *model.ExtractionResult) string {
	lines := []string{"## Manual review", ""}
	for _, item := range Checklist(res) {
		lines = append(lines, "- [ ] "+item)
	}
	return strings.Join(lines, "\n")
}

func row(cells ...string) string {
	for i, c := range cells {
		cells[i] = strings.ReplaceAll(strings.ReplaceAll(c, "|", `\|`), "\n", " ")
	}
	return "| " + strings.Join(cells, " | ") + " |"
}

func list(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orNone(s string) string {
	if s == "" {
		return "not detected"
	}
	return s
}

// truncate shortens s to n runes followed by an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
