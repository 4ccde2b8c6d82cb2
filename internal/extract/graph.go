package extract

import (
	"fmt"
	"log/slog"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/lang"
	"github.com/DeusData/lg2jiuwen/internal/model"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// graphVars are variable names treated as the compiled graph when no
// .compile() assignment names one.
var graphVars = map[string]bool{"app": true, "graph": true, "workflow": true, "agent": true}

// invokeMethods are the compiled-graph entry calls carrying initial inputs.
var invokeMethods = map[string]bool{"invoke": true, "ainvoke": true, "stream": true, "astream": true}

func (x *extractor) collectEdges(info *unitInfo) {
	u := info.unit
	src := u.Source
	for _, call := range calls(u.Root()) {
		if enclosingFunction(call) != nil && !inBuilderFunction(call, src) {
			continue
		}
		pos, kw := callArgs(call, src)
		switch calleeName(call, src) {
		case "add_edge":
			x.plainEdges(info, call, pos, kw)
		case "add_conditional_edges":
			x.conditionalEdge(info, call, pos, kw)
		case "set_entry_point":
			if id, ok := x.stringArg(arg(pos, kw, 0, "key"), src); ok {
				x.setEntry(id, u.Location(call))
			}
		case "set_finish_point":
			if id, ok := x.stringArg(arg(pos, kw, 0, "key"), src); ok {
				x.res.Edges = append(x.res.Edges, model.EdgeSpec{Source: id, Target: model.EndNode})
			}
		}
	}
}

// inBuilderFunction reports whether a call sits in a function that builds
// the graph, such as def build_graph(): g = StateGraph(...).
func inBuilderFunction(call *tree_sitter.Node, src []byte) bool {
	builder := false
	parser.Walk(enclosingFunction(call), func(n *tree_sitter.Node) bool {
		if builder {
			return false
		}
		if n.Kind() == "call" && calleeName(n, src) == "StateGraph" {
			builder = true
		}
		return true
	})
	return builder
}

func (x *extractor) setEntry(id, location string) {
	if x.res.EntryPoint != "" && x.res.EntryPoint != id {
		x.res.Warn(fmt.Sprintf("%s: entry point %q replaces %q", location, id, x.res.EntryPoint))
	}
	x.res.EntryPoint = id
}

func (x *extractor) plainEdges(info *unitInfo, call *tree_sitter.Node, pos []*tree_sitter.Node, kw map[string]*tree_sitter.Node) {
	src := info.unit.Source
	srcArg := arg(pos, kw, 0, "start_key")
	target, ok := x.stringArg(arg(pos, kw, 1, "end_key"), src)
	if srcArg == nil || !ok {
		x.res.Warn(fmt.Sprintf("%s: unsupported add_edge form", info.unit.Location(call)))
		return
	}
	var sources []string
	if srcArg.Kind() == "list" || srcArg.Kind() == "tuple" {
		for _, el := range parser.NamedChildren(srcArg) {
			if s, ok := x.stringArg(el, src); ok {
				sources = append(sources, s)
			}
		}
	} else if s, ok := x.stringArg(srcArg, src); ok {
		sources = append(sources, s)
	}
	for _, s := range sources {
		if s == model.StartNode {
			x.setEntry(target, info.unit.Location(call))
			continue
		}
		x.res.Edges = append(x.res.Edges, model.EdgeSpec{Source: s, Target: target})
	}
}

func (x *extractor) conditionalEdge(info *unitInfo, call *tree_sitter.Node, pos []*tree_sitter.Node, kw map[string]*tree_sitter.Node) {
	u := info.unit
	src := u.Source
	source, ok := x.stringArg(arg(pos, kw, 0, "source"), src)
	routerArg := arg(pos, kw, 1, "path")
	if !ok || routerArg == nil {
		x.res.Warn(fmt.Sprintf("%s: unsupported add_conditional_edges form", u.Location(call)))
		return
	}
	if source == model.StartNode {
		x.res.Warn(fmt.Sprintf("%s: conditional entry routing is not supported", u.Location(call)))
		return
	}

	edge := model.EdgeSpec{Source: source, IsConditional: true}
	var body *tree_sitter.Node
	var bodySrc []byte
	var bodyInfo *unitInfo
	if routerArg.Kind() == "lambda" {
		edge.Router = "lambda"
		edge.RouterSource = lambdaRouter(routerArg, src)
		body, bodySrc, bodyInfo = routerArg, src, info
	} else {
		name := dottedName(routerArg, src)
		def := x.resolve(info, name)
		if def == nil {
			err := &model.UnresolvedReferenceError{Kind: "router", Name: name, Location: u.Location(call)}
			x.res.Warn(err.Error())
			return
		}
		edge.Router = def.Name
		edge.RouterSource = parser.NodeText(def.Node, def.Source)
		body, bodySrc, bodyInfo = def.Node, def.Source, x.unitFor(def.File)
	}

	if m := arg(pos, kw, 2, "path_map"); m != nil {
		edge.ConditionMap = x.conditionMap(m, src)
	}
	edge.RouterGlobals, edge.RouterImports = x.routerDeps(body, bodySrc, bodyInfo)
	x.res.Edges = append(x.res.Edges, edge)
	slog.Debug("extract.edge", "source", source, "router", edge.Router, "branches", len(edge.ConditionMap))
}

// lambdaRouter turns lambda s: expr into an equivalent def.
func lambdaRouter(l *tree_sitter.Node, src []byte) string {
	param := "state"
	if ps := l.ChildByFieldName("parameters"); ps != nil {
		if first := parser.NamedChildren(ps); len(first) > 0 {
			param = parser.NodeText(first[0], src)
		}
	}
	return fmt.Sprintf("def route(%s):\n    return %s\n", param, parser.NodeText(l.ChildByFieldName("body"), src))
}

// conditionMap reads a {value: target} dict or a [target, ...] list.
func (x *extractor) conditionMap(m *tree_sitter.Node, src []byte) []model.Branch {
	var out []model.Branch
	switch m.Kind() {
	case "dictionary":
		for _, p := range parser.ChildrenOfKind(m, "pair") {
			key := p.ChildByFieldName("key")
			value, ok := x.stringArg(p.ChildByFieldName("value"), src)
			if !ok {
				continue
			}
			k, ok := x.stringArg(key, src)
			if !ok {
				k = parser.NodeText(key, src)
			}
			out = append(out, model.Branch{Value: k, Target: value})
		}
	case "list", "tuple":
		for _, el := range parser.NamedChildren(m) {
			if t, ok := x.stringArg(el, src); ok {
				out = append(out, model.Branch{Value: t, Target: t})
			}
		}
	}
	return out
}

// routerDeps lists module constants and carried imports a router body uses.
func (x *extractor) routerDeps(body *tree_sitter.Node, src []byte, info *unitInfo) (globals, imports []string) {
	used := identifiers(body, src)
	for _, name := range used {
		if x.moduleNames[name] && !excludedGlobals[name] {
			globals = append(globals, name)
		}
	}
	if info == nil {
		return globals, nil
	}
	seen := make(map[string]bool)
	for _, im := range info.imports {
		if !contains(used, im.Local) || seen[im.Text] || !x.modules.carried(im, x.opts.RootName) {
			continue
		}
		seen[im.Text] = true
		imports = append(imports, im.Text)
	}
	return globals, imports
}

func (x *extractor) unitFor(path string) *unitInfo {
	for _, info := range x.units {
		if info.unit.Path == path {
			return info
		}
	}
	return nil
}

// collectGraph materializes GraphNodes from the bindings and marks the
// sources of conditional edges.
func (x *extractor) collectGraph() {
	for _, b := range x.reg.Nodes() {
		g := model.GraphNode{ID: b.ID, Function: simpleName(b.Function)}
		if def := x.reg.Resolve(b.Function, b.Module, x.importMaps[b.Module]); def != nil {
			g.Function = def.Name
		}
		for _, e := range x.res.Edges {
			if !e.IsConditional || e.Source != b.ID {
				continue
			}
			g.IsConditional = true
			if len(e.ConditionMap) > 0 {
				for _, br := range e.ConditionMap {
					g.ConditionReturnValues = appendUnique(g.ConditionReturnValues, br.Value)
				}
			} else {
				g.ConditionReturnValues = appendUnique(g.ConditionReturnValues, routerReturns(e.RouterSource)...)
			}
		}
		x.res.Graph = append(x.res.Graph, g)
	}
	if x.res.EntryPoint == "" && len(x.res.Graph) > 0 {
		x.res.EntryPoint = x.res.Graph[0].ID
		x.res.Warn(fmt.Sprintf("no entry point declared; using first node %q", x.res.EntryPoint))
	}
}

// routerReturns lists the string literals and END returned by a router.
func routerReturns(text string) []string {
	src := []byte(text)
	tree, err := parser.Parse(lang.Python, src)
	if err != nil {
		return nil
	}
	defer tree.Close()
	var out []string
	add := func(n *tree_sitter.Node) {
		n = parser.Unwrap(n)
		if s, ok := parser.StringValue(n, src); ok {
			out = appendUnique(out, s)
		} else if n.Kind() == "identifier" && parser.NodeText(n, src) == "END" {
			out = appendUnique(out, model.EndNode)
		}
	}
	parser.Walk(tree.RootNode(), func(n *tree_sitter.Node) bool {
		if n.Kind() != "return_statement" || n.NamedChildCount() == 0 {
			return true
		}
		v := parser.Unwrap(n.NamedChild(0))
		if v.Kind() == "conditional_expression" {
			named := parser.NamedChildren(v)
			if len(named) == 3 {
				add(named[0])
				add(named[2])
			}
			return false
		}
		add(v)
		return false
	})
	return out
}

func appendUnique(list []string, vals ...string) []string {
	for _, v := range vals {
		if !contains(list, v) {
			list = append(list, v)
		}
	}
	return list
}

// collectExamples records literal assignments inside __main__ blocks.
func (x *extractor) collectExamples() {
	for _, info := range x.units {
		src := info.unit.Source
		for _, stmt := range parser.ChildrenOfKind(info.unit.Root(), "if_statement") {
			if !isMainGuard(stmt, src) {
				continue
			}
			for _, s := range parser.NamedChildren(stmt.ChildByFieldName("consequence")) {
				a := assignmentOf(s)
				if a == nil {
					continue
				}
				name := assignedName(a, src)
				right := a.ChildByFieldName("right")
				if name == "" || right == nil || !parser.IsLiteral(right, src) {
					continue
				}
				if _, dup := x.examples[name]; !dup {
					x.examples[name] = parser.NodeText(right, src)
				}
			}
		}
	}
}

// collectInitialInputs reads the dict passed to the compiled graph's invoke.
func (x *extractor) collectInitialInputs(info *unitInfo) {
	src := info.unit.Source
	for _, call := range calls(info.unit.Root()) {
		recv := receiver(call, src)
		if !invokeMethods[calleeName(call, src)] || !(x.compiledVars[recv] || graphVars[recv]) {
			continue
		}
		pos, kw := callArgs(call, src)
		d := arg(pos, kw, 0, "input")
		if d == nil || d.Kind() != "dictionary" {
			continue
		}
		wrapper := enclosingFunction(call)
		for _, p := range parser.ChildrenOfKind(d, "pair") {
			key, ok := parser.StringValue(p.ChildByFieldName("key"), src)
			if !ok || x.hasInput(key) {
				continue
			}
			x.res.InitialInputs = append(x.res.InitialInputs, x.inputValue(info, key, p.ChildByFieldName("value"), wrapper))
		}
	}
}

func (x *extractor) hasInput(key string) bool {
	for _, in := range x.res.InitialInputs {
		if in.Key == key {
			return true
		}
	}
	return false
}

func (x *extractor) inputValue(info *unitInfo, key string, v *tree_sitter.Node, wrapper *tree_sitter.Node) model.InputValue {
	src := info.unit.Source
	switch {
	case parser.IsLiteral(v, src):
		in := model.InputValue{Key: key, Literal: parser.NodeText(v, src)}
		x.res.ExampleInputs[key] = in.Literal
		return in
	case v.Kind() == "identifier":
		name := parser.NodeText(v, src)
		in := model.InputValue{Key: key, Placeholder: "${" + name + "}"}
		if ex, ok := x.examples[name]; ok {
			x.res.ExampleInputs[key] = ex
		} else if ex, ok := x.wrapperExample(info, wrapper, name); ok {
			x.res.ExampleInputs[key] = ex
		}
		return in
	}
	x.res.Warn(fmt.Sprintf("%s: initial input %q is not a literal; using None", info.unit.Location(v), key))
	return model.InputValue{Key: key, Literal: "None"}
}

// wrapperExample finds an example for parameter param of the function that
// wraps the invoke call, from a literal argument at one of its call sites.
func (x *extractor) wrapperExample(info *unitInfo, wrapper *tree_sitter.Node, param string) (string, bool) {
	if wrapper == nil {
		return "", false
	}
	def := newFuncDef(wrapper, info.unit, info.module)
	idx := -1
	for i, p := range def.Params {
		if p.Name == param {
			idx = i
		}
	}
	if idx < 0 {
		return "", false
	}
	for _, other := range x.units {
		osrc := other.unit.Source
		for _, call := range calls(other.unit.Root()) {
			if simpleName(dottedName(call.ChildByFieldName("function"), osrc)) != def.Name {
				continue
			}
			pos, kw := callArgs(call, osrc)
			a := arg(pos, kw, idx, param)
			if a == nil {
				continue
			}
			if parser.IsLiteral(a, osrc) {
				return parser.NodeText(a, osrc), true
			}
			if a.Kind() == "identifier" {
				if ex, ok := x.examples[parser.NodeText(a, osrc)]; ok {
					return ex, true
				}
			}
		}
	}
	return "", false
}

// isGraphStatement reports whether a global is graph-builder plumbing.
func isGraphStatement(text string) bool {
	for _, p := range []string{".compile(", "StateGraph(", "add_node(", "add_edge(", "add_conditional_edges("} {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
