// Package extract turns parsed LangGraph sources into a model.ExtractionResult.
//
// Extraction runs in two passes over the dependency-ordered units. Pass 1
// builds the global function registry and node bindings so that references
// resolve across files. Pass 2 walks each unit for state, LLM, tools, edges
// and invocation inputs. Node bodies are converted last, once every tool and
// client name is known.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/discover"
	"github.com/DeusData/lg2jiuwen/internal/fqn"
	"github.com/DeusData/lg2jiuwen/internal/model"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// Options tunes extraction.
type Options struct {
	// RootName is the project directory name. Absolute imports that start
	// with it resolve to project modules.
	RootName string
}

// unitInfo is the per-file view shared by both passes.
type unitInfo struct {
	unit      *parser.SourceUnit
	module    string
	imports   []discover.Import
	importMap map[string]string
	foreign   map[string]string
}

// constant is a module-level name bound to a literal.
type constant struct {
	text   string // literal source text
	str    string // string value when isStr
	isStr  bool
	module string
}

// globalAssign is a module-level assignment that may become a generated
// global.
type globalAssign struct {
	name string
	text string
	rhs  *tree_sitter.Node
	src  []byte
}

type extractor struct {
	opts    Options
	res     *model.ExtractionResult
	reg     *Registry
	units   []*unitInfo
	modules projectModules

	importMaps   map[string]map[string]string
	constants    map[string]constant
	moduleNames  map[string]bool // every module-level assigned name
	compiledVars map[string]bool

	globals     []globalAssign
	seenGlobal  map[string]bool
	seenImport  map[string]bool
	llmVars     []string
	llmStmts    map[string]bool
	toolAliases map[string]string
	examples    map[string]string
}

// Extract runs both passes over set and converts every bound node function.
// It fails only on cancellation; per-file and per-reference problems are
// recorded on the result.
func Extract(ctx context.Context, set *parser.ParseSet, opts Options) (*model.ExtractionResult, error) {
	start := time.Now()
	x := &extractor{
		opts:         opts,
		res:          model.NewExtractionResult(),
		reg:          NewRegistry(),
		modules:      make(projectModules),
		importMaps:   make(map[string]map[string]string),
		constants:    make(map[string]constant),
		moduleNames:  make(map[string]bool),
		compiledVars: make(map[string]bool),
		seenGlobal:   make(map[string]bool),
		seenImport:   make(map[string]bool),
		llmStmts:     make(map[string]bool),
		toolAliases:  make(map[string]string),
		examples:     make(map[string]string),
	}
	x.res.ParseErrors = append(x.res.ParseErrors, set.Errors...)
	for _, err := range set.Errors {
		x.res.Warn(err.Error())
	}

	ordered := set.Ordered()
	for _, u := range ordered {
		x.modules[fqn.ModuleName(u.Path)] = true
	}
	for _, u := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		x.index(u)
	}
	slog.Debug("extract.index", "functions", x.reg.Size(), "nodes", len(x.reg.Nodes()))

	for _, info := range x.units {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		x.collectImports(info)
		x.collectGlobals(info)
		x.collectState(info)
		x.collectLLM(info)
		x.collectTools(info)
		x.collectEdges(info)
	}
	x.collectExamples()
	for _, info := range x.units {
		x.collectInitialInputs(info)
	}

	x.classifyGlobals()
	x.collectGraph()
	if err := x.convertNodes(ctx); err != nil {
		return nil, err
	}

	slog.Info("extract.done",
		"nodes", len(x.res.Graph), "edges", len(x.res.Edges), "tools", len(x.res.Tools),
		"rule", x.res.RuleCount, "pending", x.res.Pending.Len(),
		"elapsed", time.Since(start))
	return x.res, nil
}

// index is pass 1 for one unit: imports, function definitions, node
// bindings, module constants and compiled graph variables.
func (x *extractor) index(u *parser.SourceUnit) {
	info := &unitInfo{unit: u, module: fqn.ModuleName(u.Path)}
	root := u.Root()
	info.imports = discover.Imports(root, u.Source, u.Path)
	info.importMap = x.modules.importMap(info.imports, x.opts.RootName)
	info.foreign = x.modules.foreign(info.imports, x.opts.RootName)
	x.importMaps[info.module] = info.importMap
	x.units = append(x.units, info)

	for _, fn := range functionDefs(root) {
		x.reg.Register(newFuncDef(fn, u, info.module))
	}

	for _, stmt := range parser.NamedChildren(root) {
		a := assignmentOf(stmt)
		if a == nil {
			continue
		}
		name := assignedName(a, u.Source)
		if name == "" {
			continue
		}
		x.moduleNames[name] = true
		right := a.ChildByFieldName("right")
		if right == nil || !parser.IsLiteral(right, u.Source) {
			continue
		}
		if _, dup := x.constants[name]; dup {
			continue
		}
		c := constant{text: u.Text(right), module: info.module}
		c.str, c.isStr = parser.StringValue(right, u.Source)
		x.constants[name] = c
	}

	for _, call := range calls(root) {
		switch calleeName(call, u.Source) {
		case "add_node":
			x.bindNode(info, call)
		case "compile":
			if p := call.Parent(); p != nil && p.Kind() == "assignment" {
				if name := assignedName(p, u.Source); name != "" {
					x.compiledVars[name] = true
				}
			}
			_, kw := callArgs(call, u.Source)
			if v, ok := parser.StringValue(kw["name"], u.Source); ok && x.res.GraphName == "" {
				x.res.GraphName = v
			}
		}
	}
}

// bindNode records graph.add_node("id", fn) and graph.add_node(fn).
func (x *extractor) bindNode(info *unitInfo, call *tree_sitter.Node) {
	src := info.unit.Source
	pos, kw := callArgs(call, src)
	var id, fn string
	switch {
	case len(pos) >= 2:
		id, _ = x.stringArg(pos[0], src)
		fn = dottedName(pos[1], src)
		if fn == "" {
			fn = parser.NodeText(pos[1], src)
		}
	case len(pos) == 1 && kw["action"] != nil:
		id, _ = x.stringArg(pos[0], src)
		fn = dottedName(kw["action"], src)
	case len(pos) == 1:
		fn = dottedName(pos[0], src)
		id = simpleName(fn)
	}
	if id == "" || fn == "" {
		x.res.Warn(fmt.Sprintf("%s: unsupported add_node form", info.unit.Location(call)))
		return
	}
	if !x.reg.BindNode(NodeBinding{
		ID:       id,
		Function: fn,
		Module:   info.module,
		Location: info.unit.Location(call),
		Text:     info.unit.Text(call),
	}) {
		x.res.Warn(fmt.Sprintf("%s: node %q registered twice; keeping the first", info.unit.Location(call), id))
	}
}

// stringArg resolves a node name argument: a string literal, START or END,
// or a module constant holding a string.
func (x *extractor) stringArg(n *tree_sitter.Node, src []byte) (string, bool) {
	if n == nil {
		return "", false
	}
	if s, ok := parser.StringValue(n, src); ok {
		return s, true
	}
	name := dottedName(n, src)
	switch simpleName(name) {
	case "END":
		return model.EndNode, true
	case "START":
		return model.StartNode, true
	}
	if c, ok := x.constants[name]; ok && c.isStr {
		return c.str, true
	}
	return "", false
}

// resolve finds a function referenced from a unit.
func (x *extractor) resolve(info *unitInfo, name string) *FuncDef {
	return x.reg.Resolve(name, info.module, info.importMap)
}
