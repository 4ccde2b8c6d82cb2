package extract

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/DeusData/lg2jiuwen/internal/model"
	"github.com/DeusData/lg2jiuwen/internal/parser"
	"github.com/DeusData/lg2jiuwen/internal/rules"
)

// classifyGlobals drops graph plumbing and client constructions from the
// collected globals, and moves tool-related ones to ToolGlobals. The first
// dict literal mapping to tools names the tool map variable.
func (x *extractor) classifyGlobals() {
	var toolRefs []*regexp.Regexp
	for _, t := range x.res.Tools {
		toolRefs = append(toolRefs, regexp.MustCompile(`\b`+regexp.QuoteMeta(t.FuncName)+`\b`))
	}
	for alias := range x.toolAliases {
		toolRefs = append(toolRefs, regexp.MustCompile(`\b`+regexp.QuoteMeta(alias)+`\b`))
	}

	for _, g := range x.globals {
		switch {
		case isGraphStatement(g.text), x.llmStmts[g.name], x.compiledVars[g.name]:
			continue
		case g.rhs.Kind() == "call" && calleeName(g.rhs, g.src) == "Tool":
			continue
		case x.toolAliases[g.name] != "":
			continue
		}
		rhs := parser.NodeText(g.rhs, g.src)
		related := false
		for _, re := range toolRefs {
			if re.MatchString(rhs) {
				related = true
				break
			}
		}
		if !related {
			x.res.Globals = append(x.res.Globals, g.text)
			continue
		}
		if g.rhs.Kind() == "list" && strings.Contains(rhs, "Tool(") {
			continue
		}
		x.res.ToolGlobals = append(x.res.ToolGlobals, g.text)
		if x.res.ToolMapVar == "" && g.rhs.Kind() == "dictionary" {
			x.res.ToolMapVar = g.name
		}
	}
}

// ruleContext gathers the program-wide facts the rule engine needs.
func (x *extractor) ruleContext(info *unitInfo) *rules.Context {
	ctx := &rules.Context{
		LLMVars:    x.llmVars,
		Tools:      make(map[string]rules.ToolSig, len(x.res.Tools)),
		ToolMapVar: x.res.ToolMapVar,
	}
	for _, t := range x.res.Tools {
		params := make([]string, 0, len(t.Parameters))
		for _, p := range t.Parameters {
			params = append(params, p.Name)
		}
		ctx.Tools[t.FuncName] = rules.ToolSig{Name: t.FuncName, Params: params}
	}
	for alias, fn := range x.toolAliases {
		if sig, ok := ctx.Tools[fn]; ok {
			ctx.Tools[alias] = sig
		}
	}
	if info != nil {
		ctx.Foreign = info.foreign
	}
	return ctx
}

// convertNodes runs the rule engine over every bound node function. A body
// that fails becomes exactly one pending item.
func (x *extractor) convertNodes(ctx context.Context) error {
	for _, b := range x.reg.Nodes() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("extract: %w", err)
		}
		def := x.reg.Resolve(b.Function, b.Module, x.importMaps[b.Module])
		if def == nil {
			err := &model.UnresolvedReferenceError{Kind: "node", Name: b.Function, Location: b.Location}
			x.res.Warn(err.Error())
			x.pushPending(model.PendingItem{
				ID:         pendingID(b.Location, b.ID),
				Category:   model.PendingNodeBody,
				NodeName:   b.ID,
				Function:   b.Function,
				SourceText: b.Text,
				Context:    x.pendingContext(nil, nil),
				Question:   fmt.Sprintf("The function %s bound to node %q was not found. Write the component body for this node.", b.Function, b.ID),
				Location:   b.Location,
				Reason:     "node function not found",
			})
			continue
		}

		res := rules.ConvertFunction(rules.Func{Name: def.Name, Node: def.Node, Source: def.Source}, x.ruleContext(x.unitFor(def.File)))
		location := fmt.Sprintf("%s:%d", def.File, def.Line())
		if res.OK {
			x.res.Nodes = append(x.res.Nodes, model.ConvertedNode{
				Name:          b.ID,
				Function:      def.Name,
				OriginalText:  def.Text(),
				ConvertedBody: res.Code,
				InputKeys:     res.Inputs,
				OutputKeys:    res.Outputs,
				Origin:        model.OriginRule,
				Docstring:     def.Docstring,
			})
			x.res.RuleCount++
			slog.Debug("extract.node", "node", b.ID, "origin", model.OriginRule, "inputs", len(res.Inputs), "outputs", len(res.Outputs))
			continue
		}

		slog.Info("extract.node.pending", "node", b.ID, "location", location, "reason", res.Reason())
		x.pushPending(model.PendingItem{
			ID:         pendingID(def.File, b.ID),
			Category:   model.PendingNodeBody,
			NodeName:   b.ID,
			Function:   def.Name,
			SourceText: def.Text(),
			Context:    x.pendingContext(res.Inputs, res.Outputs),
			Question:   question(def.Name, res.Failures),
			Location:   location,
			Docstring:  def.Docstring,
			Reason:     res.Reason(),
		})
	}
	return nil
}

func (x *extractor) pushPending(item model.PendingItem) {
	if err := x.res.Pending.Push(item); err != nil {
		x.res.Warn(err.Error())
	}
}

func (x *extractor) pendingContext(inputs, outputs []string) model.PendingContext {
	tools := x.res.ToolNames()
	if tools == nil {
		tools = []string{}
	}
	fields := x.res.StateFieldNames()
	if fields == nil {
		fields = []string{}
	}
	return model.PendingContext{
		StateFields:  fields,
		Tools:        tools,
		KnownInputs:  inputs,
		KnownOutputs: outputs,
	}
}

// pendingID is "<encoded file>:<node>"; the file part strips any line suffix.
func pendingID(file, node string) string {
	if i := strings.LastIndexByte(file, ':'); i > 0 {
		file = file[:i]
	}
	return parser.EncodePath(file) + ":" + node
}

func question(fn string, failures []rules.Failure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following statements in %s could not be converted by rule:\n", fn)
	for _, f := range failures {
		fmt.Fprintf(&b, "- line %d: `%s` (%s)\n", f.Line, f.Text, f.Reason)
	}
	b.WriteString(`Convert the function into an openJiuwen component body:
1. state["x"] reads become inputs["x"]
2. state writes become local variables returned in a dict
3. llm.invoke(msgs) becomes await self._llm.ainvoke(model_name=self.model_name, messages=msgs)
4. keep the original logic unchanged`)
	return b.String()
}
