package codegen

import (
	"strings"

	"github.com/DeusData/lg2jiuwen/internal/ir"
	"github.com/DeusData/lg2jiuwen/internal/model"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// wiring answers data-flow questions over the workflow graph. Conditional
// edges count as edges to each of their possible targets.
type wiring struct {
	nodes    []ir.WorkflowNodeIR
	produces map[string]map[string]bool
	preds    map[string][]string
}

func newWiring(w *ir.WorkflowIR) *wiring {
	wr := &wiring{
		nodes:    w.Nodes,
		produces: make(map[string]map[string]bool, len(w.Nodes)),
		preds:    make(map[string][]string),
	}
	for _, n := range w.Nodes {
		set := make(map[string]bool, len(n.Outputs))
		for _, k := range n.Outputs {
			set[k] = true
		}
		wr.produces[n.Name] = set
	}
	for _, e := range w.Edges {
		for _, t := range e.Targets {
			if !contains(wr.preds[t], e.Source) {
				wr.preds[t] = append(wr.preds[t], e.Source)
			}
		}
	}
	return wr
}

// producer returns the nearest upstream node of consumer, by edge count,
// that outputs key. Ties go to the earlier edge. It returns "start" when no
// upstream node produces the key.
func (wr *wiring) producer(consumer, key string) string {
	seen := map[string]bool{consumer: true}
	frontier := []string{consumer}
	for len(frontier) > 0 {
		var next []string
		for _, n := range frontier {
			for _, p := range wr.preds[n] {
				if seen[p] || p == model.StartNode {
					continue
				}
				seen[p] = true
				if wr.produces[p][key] {
					return p
				}
				next = append(next, p)
			}
		}
		frontier = next
	}
	return model.StartNode
}

// inputsSchema renders the inputs_schema dict of a component.
func (wr *wiring) inputsSchema(n ir.WorkflowNodeIR) string {
	parts := make([]string, 0, len(n.Inputs))
	for _, k := range n.Inputs {
		parts = append(parts, parser.Quote(k)+": "+parser.Quote("${"+wr.producer(n.Name, k)+"."+k+"}"))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// reachesEnd returns the nodes from which the terminal node is reachable.
// When no edge leads to the terminal every node is included.
func (wr *wiring) reachesEnd() map[string]bool {
	out := make(map[string]bool)
	frontier := []string{model.EndNode}
	for len(frontier) > 0 {
		var next []string
		for _, n := range frontier {
			for _, p := range wr.preds[n] {
				if !out[p] {
					out[p] = true
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	if len(out) == 0 {
		for _, n := range wr.nodes {
			out[n.Name] = true
		}
	}
	return out
}

// endSchema collects every output of the nodes that can reach the terminal
// node, in node order then output order. The first producer of a key wins.
func (wr *wiring) endSchema() string {
	reach := wr.reachesEnd()
	var parts []string
	seen := make(map[string]bool)
	for _, n := range wr.nodes {
		if !reach[n.Name] {
			continue
		}
		for _, k := range n.Outputs {
			if seen[k] {
				continue
			}
			seen[k] = true
			parts = append(parts, parser.Quote(k)+": "+parser.Quote("${"+n.Name+"."+k+"}"))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// startKeys are the keys the start component accepts: the initial inputs,
// else the entry node's inputs.
func startKeys(m *ir.MigrationIR) []string {
	if len(m.Agent.InitialInputs) > 0 {
		keys := make([]string, 0, len(m.Agent.InitialInputs))
		for _, in := range m.Agent.InitialInputs {
			keys = append(keys, in.Key)
		}
		return keys
	}
	if n, ok := m.Workflow.Node(m.Workflow.EntryNode); ok {
		return n.Inputs
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
