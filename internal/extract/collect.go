package extract

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/model"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// excludedGlobals are module names never carried as globals: graph builders,
// the compiled app and default client names.
var excludedGlobals = map[string]bool{
	"workflow": true, "graph": true, "builder": true, "graph_builder": true,
	"llm": true, "model": true, "__all__": true,
}

// llmConstructors are chat model classes whose construction yields the LLM
// configuration.
var llmConstructors = map[string]bool{
	"ChatOpenAI": true, "AzureChatOpenAI": true, "ChatAnthropic": true,
	"ChatOllama": true, "ChatModel": true, "ChatTongyi": true,
}

func (x *extractor) collectImports(info *unitInfo) {
	src := info.unit.Source
	for _, stmt := range parser.NamedChildren(info.unit.Root()) {
		if stmt.Kind() != "import_statement" && stmt.Kind() != "import_from_statement" {
			continue
		}
		text := parser.NodeText(stmt, src)
		var names []string
		for _, im := range info.imports {
			if im.Text == text && x.modules.carried(im, x.opts.RootName) {
				names = append(names, im.Local)
			}
		}
		if len(names) == 0 || x.seenImport[text] {
			continue
		}
		x.seenImport[text] = true
		x.res.Imports = append(x.res.Imports, model.ImportStmt{Text: text, Names: names})
	}
}

func (x *extractor) collectGlobals(info *unitInfo) {
	src := info.unit.Source
	for _, stmt := range parser.NamedChildren(info.unit.Root()) {
		a := assignmentOf(stmt)
		if a == nil {
			continue
		}
		name := assignedName(a, src)
		right := a.ChildByFieldName("right")
		if name == "" || right == nil || excludedGlobals[name] || x.seenGlobal[name] {
			continue
		}
		x.seenGlobal[name] = true
		x.globals = append(x.globals, globalAssign{name: name, text: parser.NodeText(a, src), rhs: right, src: src})
	}
}

// collectState finds the TypedDict state declaration. Subclassing
// MessagesState, or building the graph on it directly, contributes the
// implicit messages field.
func (x *extractor) collectState(info *unitInfo) {
	src := info.unit.Source
	parser.Walk(info.unit.Root(), func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "class_definition":
			bases := baseNames(n, src)
			typed := contains(bases, "TypedDict")
			messages := contains(bases, "MessagesState")
			if !typed && !messages {
				return false
			}
			if x.res.StateClass != "" {
				x.res.Warn(fmt.Sprintf("%s: additional state class %s ignored", info.unit.Location(n), parser.NodeText(n.ChildByFieldName("name"), src)))
				return false
			}
			x.res.StateClass = parser.NodeText(n.ChildByFieldName("name"), src)
			if messages {
				x.addMessagesField()
			}
			x.stateFields(n.ChildByFieldName("body"), info)
			return false
		case "call":
			if calleeName(n, src) != "StateGraph" || x.res.StateClass != "" {
				return true
			}
			if pos, _ := callArgs(n, src); len(pos) > 0 && dottedName(pos[0], src) == "MessagesState" {
				x.res.StateClass = "MessagesState"
				x.addMessagesField()
			}
		}
		return true
	})
}

func (x *extractor) addMessagesField() {
	x.res.StateFields = append(x.res.StateFields, model.StateField{
		Name: "messages", Type: "list", HasAggregator: true, AggregatorRef: "add_messages",
	})
	x.res.Warn("state field messages uses aggregator add_messages; aggregation is not replicated")
}

func (x *extractor) stateFields(body *tree_sitter.Node, info *unitInfo) {
	src := info.unit.Source
	for _, stmt := range parser.NamedChildren(body) {
		a := assignmentOf(stmt)
		if a == nil {
			continue
		}
		name := assignedName(a, src)
		typ := a.ChildByFieldName("type")
		if name == "" || typ == nil {
			continue
		}
		field := model.StateField{Name: name, Type: parser.NodeText(typ, src)}
		if inner, agg, ok := annotated(field.Type); ok {
			field.Type = inner
			field.HasAggregator = true
			field.AggregatorRef = agg
			x.res.Warn(fmt.Sprintf("state field %s uses aggregator %s; aggregation is not replicated", name, agg))
		}
		x.res.StateFields = append(x.res.StateFields, field)
	}
}

// annotated splits "Annotated[T, fn]" into T and fn.
func annotated(typ string) (inner, agg string, ok bool) {
	t := strings.TrimSpace(typ)
	for _, p := range []string{"Annotated[", "typing.Annotated[", "typing_extensions.Annotated["} {
		if strings.HasPrefix(t, p) && strings.HasSuffix(t, "]") {
			args := splitTopLevel(t[len(p) : len(t)-1])
			if len(args) < 2 {
				return "", "", false
			}
			return args[0], args[len(args)-1], true
		}
	}
	return "", "", false
}

// splitTopLevel splits on commas outside brackets.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '[', '(', '{':
			depth++
		case ']', ')', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func baseNames(class *tree_sitter.Node, src []byte) []string {
	var out []string
	for _, b := range parser.NamedChildren(class.ChildByFieldName("superclasses")) {
		if name := dottedName(b, src); name != "" {
			out = append(out, simpleName(name))
		}
	}
	return out
}

// collectLLM records every chat model construction. The first one supplies
// the configuration; every assigned name becomes a known client variable.
func (x *extractor) collectLLM(info *unitInfo) {
	src := info.unit.Source
	parser.Walk(info.unit.Root(), func(n *tree_sitter.Node) bool {
		if n.Kind() != "assignment" {
			return true
		}
		right := n.ChildByFieldName("right")
		if right == nil || right.Kind() != "call" || !llmConstructors[calleeName(right, src)] {
			return true
		}
		name := assignedName(n, src)
		if name != "" && !contains(x.llmVars, name) {
			x.llmVars = append(x.llmVars, name)
		}
		if enclosingFunction(n) == nil {
			x.llmStmts[name] = true
		}
		if x.res.LLM != nil {
			return false
		}
		x.res.LLM = x.llmConfig(name, right, src)
		slog.Debug("extract.llm", "var", name, "provider", x.res.LLM.Provider, "model", x.res.LLM.ModelName)
		return false
	})
}

func (x *extractor) llmConfig(name string, call *tree_sitter.Node, src []byte) *model.LLMConfig {
	cfg := &model.LLMConfig{Var: name, Provider: calleeName(call, src)}
	_, kw := callArgs(call, src)
	for _, k := range []string{"model", "model_name"} {
		if v, ok := kw[k]; ok {
			cfg.ModelName, cfg.ModelNameVar = x.resolveString(v, src)
			break
		}
	}
	for _, k := range []string{"openai_api_key", "api_key"} {
		if v, ok := kw[k]; ok {
			cfg.APIKey, cfg.APIKeyVar = x.resolveString(v, src)
			break
		}
	}
	for _, k := range []string{"openai_api_base", "api_base", "base_url"} {
		if v, ok := kw[k]; ok {
			cfg.APIBase, cfg.APIBaseVar = x.resolveString(v, src)
			break
		}
	}
	if v, ok := kw["temperature"]; ok {
		text := parser.NodeText(v, src)
		if c, ok := x.constants[text]; ok && v.Kind() == "identifier" {
			text = c.text
		}
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			cfg.Temperature = &f
		}
	}
	return cfg
}

// resolveString returns a string argument's value and, when it came from a
// module constant, the constant's name. Non-constant expressions resolve to
// nothing but keep their variable name.
func (x *extractor) resolveString(n *tree_sitter.Node, src []byte) (value, varName string) {
	if s, ok := parser.StringValue(n, src); ok {
		return s, ""
	}
	if n.Kind() != "identifier" {
		return "", ""
	}
	name := parser.NodeText(n, src)
	if c, ok := x.constants[name]; ok && c.isStr {
		return c.str, name
	}
	return "", name
}

// collectTools records @tool functions and Tool(...) constructions.
func (x *extractor) collectTools(info *unitInfo) {
	u := info.unit
	src := u.Source
	for _, fn := range functionDefs(u.Root()) {
		def := newFuncDef(fn, u, info.module)
		name, desc, ok := toolDecorator(def, x)
		if !ok {
			continue
		}
		if name == "" {
			name = def.Name
		}
		if desc == "" {
			desc = def.Docstring
		}
		x.addTool(model.ToolSpec{
			Name:         name,
			FuncName:     def.Name,
			Description:  desc,
			Parameters:   def.Params,
			OriginalBody: parser.NodeText(def.Node, src),
		})
	}

	for _, call := range calls(u.Root()) {
		// Tool(name, func, description) and StructuredTool.from_function(func, name, description).
		funcAt, nameAt := 1, 0
		switch calleeName(call, src) {
		case "Tool":
		case "from_function":
			if receiver(call, src) != "StructuredTool" {
				continue
			}
			funcAt, nameAt = 0, 1
		default:
			continue
		}
		pos, kw := callArgs(call, src)
		fnName := dottedName(arg(pos, kw, funcAt, "func"), src)
		if fnName == "" {
			continue
		}
		def := x.resolve(info, fnName)
		if def == nil {
			err := &model.UnresolvedReferenceError{Kind: "tool", Name: fnName, Location: u.Location(call)}
			x.res.Warn(err.Error())
			continue
		}
		name, _ := parser.StringValue(arg(pos, kw, nameAt, "name"), src)
		if name == "" {
			name = def.Name
		}
		desc, _ := parser.StringValue(arg(pos, kw, 2, "description"), src)
		if desc == "" {
			desc = def.Docstring
		}
		if p := call.Parent(); p != nil && p.Kind() == "assignment" {
			if alias := assignedName(p, src); alias != "" && alias != def.Name {
				x.toolAliases[alias] = def.Name
			}
		}
		x.addTool(model.ToolSpec{
			Name:         name,
			FuncName:     def.Name,
			Description:  desc,
			Parameters:   def.Params,
			OriginalBody: parser.NodeText(def.Node, def.Source),
		})
	}
}

func (x *extractor) addTool(t model.ToolSpec) {
	for _, existing := range x.res.Tools {
		if existing.FuncName == t.FuncName || existing.Name == t.Name {
			return
		}
	}
	t.ConvertedBody = t.OriginalBody
	x.res.Tools = append(x.res.Tools, t)
	slog.Debug("extract.tool", "name", t.Name, "func", t.FuncName, "params", len(t.Parameters))
}

// toolDecorator reports whether def carries @tool or @tool("name", ...),
// returning the declared name and description if given.
func toolDecorator(def *FuncDef, x *extractor) (name, desc string, ok bool) {
	if def.Def == def.Node {
		return "", "", false
	}
	for _, d := range parser.ChildrenOfKind(def.Def, "decorator") {
		expr := d.NamedChild(0)
		if expr == nil {
			continue
		}
		switch expr.Kind() {
		case "identifier", "attribute":
			if simpleName(dottedName(expr, def.Source)) == "tool" {
				return "", "", true
			}
		case "call":
			if simpleName(dottedName(expr.ChildByFieldName("function"), def.Source)) != "tool" {
				continue
			}
			pos, kw := callArgs(expr, def.Source)
			if len(pos) > 0 {
				name, _ = x.stringArg(pos[0], def.Source)
			}
			desc, _ = parser.StringValue(kw["description"], def.Source)
			return name, desc, true
		}
	}
	return "", "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
