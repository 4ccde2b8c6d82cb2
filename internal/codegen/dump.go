package codegen

import (
	"bytes"
	"encoding/json"

	"github.com/DeusData/lg2jiuwen/internal/ir"
)

type irDump struct {
	Agent      ir.AgentIR    `json:"agent"`
	Workflow   ir.WorkflowIR `json:"workflow"`
	Extraction extraction    `json:"extraction"`
}

type extraction struct {
	RuleCount int      `json:"rule_count"`
	AICount   int      `json:"ai_count"`
	Warnings  []string `json:"warnings"`
}

// DumpIR serialises m as indented JSON. Field order follows the struct
// definitions and map keys are sorted, so equal IRs give equal bytes.
func DumpIR(m *ir.MigrationIR) ([]byte, error) {
	d := irDump{
		Agent:    m.Agent,
		Workflow: m.Workflow,
		Extraction: extraction{
			RuleCount: m.Stats.RuleCount,
			AICount:   m.Stats.AICount,
			Warnings:  m.Warnings,
		},
	}
	if d.Extraction.Warnings == nil {
		d.Extraction.Warnings = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
