package rules

import (
	"errors"
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// CollectedOutputs stands for the dict of every output a body produced. The
// code generator replaces it once the output set is final.
const CollectedOutputs = "__COLLECTED_OUTPUTS__"

// Converter holds the state of one body conversion. Rewrites are spliced
// into the original source text, children first, so everything no rule
// touches keeps its original spelling.
type Converter struct {
	ctx      *Context
	chain    Chain
	src      []byte
	stateVar string
	llmVars  map[string]bool
	router   *routerMode

	inputs   keySet
	outputs  keySet
	tools    keySet
	dispatch bool
	failures []Failure
	kinds    map[Kind]int

	// written holds the state keys the body assigns. Reads of them use the
	// local, which starts out as the input value.
	written keySet

	cur   *tree_sitter.Node
	depth int
}

type routerMode struct {
	source  string
	outputs map[string]bool
	// branches maps returned values to their targets.
	branches map[string]string
}

func newConverter(ctx *Context, src []byte, stateVar string) *Converter {
	if ctx == nil {
		ctx = &Context{}
	}
	return &Converter{
		ctx:      ctx,
		chain:    DefaultChain(),
		src:      src,
		stateVar: stateVar,
		llmVars:  make(map[string]bool),
		kinds:    make(map[Kind]int),
	}
}

// ConvertFunction rewrites the body of fn. The docstring is dropped from
// the body; a single unconvertible statement fails the whole body.
func ConvertFunction(fn Func, ctx *Context) Result {
	body := fn.Node.ChildByFieldName("body")
	c := newConverter(ctx, fn.Source, firstParam(fn.Node.ChildByFieldName("parameters"), fn.Source))
	c.written = c.assignedKeys(body)

	stmts := make([]*tree_sitter.Node, 0, body.ChildCount())
	for i := uint(0); i < body.ChildCount(); i++ {
		stmts = append(stmts, body.Child(i))
	}
	if len(stmts) > 0 && isDocstring(stmts[0]) {
		stmts = stmts[1:]
	}

	code := "pass"
	if len(stmts) > 0 {
		var b strings.Builder
		b.WriteString(c.indentOf(stmts[0]))
		pos := stmts[0].StartByte()
		for _, st := range stmts {
			b.Write(c.src[pos:st.StartByte()])
			b.WriteString(c.renderStatement(st))
			pos = st.EndByte()
		}
		code = Reindent(b.String(), "")
	}

	res := Result{
		OK:        len(c.failures) == 0,
		Code:      code,
		Inputs:    c.inputs.list(),
		Outputs:   c.outputs.list(),
		Failures:  c.failures,
		ToolsUsed: c.tools.list(),
		Dispatch:  c.dispatch,
		Kinds:     c.kinds,
	}
	return res
}

// Classify returns the statement kind of n under ctx, using the default
// chain. The state variable is assumed to be "state".
func Classify(n *tree_sitter.Node, src []byte, ctx *Context) Kind {
	c := newConverter(ctx, src, "state")
	return c.chain.Classify(c, newStmt(n))
}

func (c *Converter) fail(reason string) {
	f := Failure{Reason: reason}
	if c.cur != nil {
		f.Line = parser.Line(c.cur)
		f.Text = firstLine(parser.NodeText(c.cur, c.src))
	}
	c.failures = append(c.failures, f)
}

func (c *Converter) renderStatement(n *tree_sitter.Node) string {
	if n.Kind() == "comment" {
		return parser.NodeText(n, c.src)
	}
	prev := c.cur
	c.cur = n
	defer func() { c.cur = prev }()

	s := newStmt(n)
	out, err := c.chain.Apply(c, s)
	c.kinds[s.Kind]++
	if err != nil {
		c.fail(err.Error())
		return parser.NodeText(n, c.src)
	}
	return out
}

func (c *Converter) renderBlock(b *tree_sitter.Node) string {
	var sb strings.Builder
	pos := b.StartByte()
	for i := uint(0); i < b.ChildCount(); i++ {
		child := b.Child(i)
		sb.Write(c.src[pos:child.StartByte()])
		sb.WriteString(c.renderStatement(child))
		pos = child.EndByte()
	}
	sb.Write(c.src[pos:b.EndByte()])
	return sb.String()
}

func (c *Converter) render(n *tree_sitter.Node) string {
	if n == nil {
		return ""
	}
	if out, ok := c.rewrite(n); ok {
		return out
	}
	return c.splice(n)
}

func (c *Converter) splice(n *tree_sitter.Node) string {
	switch n.Kind() {
	case "block":
		return c.renderBlock(n)
	case "comment", "parameters", "lambda_parameters", "string_content", "escape_sequence":
		return parser.NodeText(n, c.src)
	case "keyword_argument":
		v := n.ChildByFieldName("value")
		if v == nil {
			return parser.NodeText(n, c.src)
		}
		return string(c.src[n.StartByte():v.StartByte()]) + c.render(v) + string(c.src[v.EndByte():n.EndByte()])
	case "attribute":
		obj := n.ChildByFieldName("object")
		return c.render(obj) + string(c.src[obj.EndByte():n.EndByte()])
	case "function_definition", "class_definition", "lambda":
		c.depth++
		defer func() { c.depth-- }()
	}
	if n.ChildCount() == 0 {
		return parser.NodeText(n, c.src)
	}
	var b strings.Builder
	pos := n.StartByte()
	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		b.Write(c.src[pos:child.StartByte()])
		b.WriteString(c.render(child))
		pos = child.EndByte()
	}
	b.Write(c.src[pos:n.EndByte()])
	return b.String()
}

// rewrite applies the expression-level rewrites. It reports false when n is
// left for splice.
func (c *Converter) rewrite(n *tree_sitter.Node) (string, bool) {
	switch n.Kind() {
	case "identifier":
		name := parser.NodeText(n, c.src)
		if name == c.stateVar {
			c.fail("state used as a value")
		}
		if name == "END" && c.router != nil {
			return `"end"`, true
		}
		return name, true

	case "subscript":
		if !c.isStateSubscript(n) {
			return "", false
		}
		key, ok := parser.StringValue(n.ChildByFieldName("subscript"), c.src)
		if !ok {
			c.fail(errNonLiteralKey.Error())
			return parser.NodeText(n, c.src), true
		}
		c.inputs.add(key)
		if c.router != nil {
			return c.globalRead(key), true
		}
		if c.written.has(key) {
			return key, true
		}
		return "inputs[" + parser.NodeText(n.ChildByFieldName("subscript"), c.src) + "]", true

	case "await":
		if inner := parser.Unwrap(n.NamedChild(0)); inner != nil && c.router == nil && c.isLLMCall(inner) {
			return c.render(inner), true
		}
		return "", false

	case "call":
		return c.rewriteCall(n)
	}
	return "", false
}

func (c *Converter) rewriteCall(n *tree_sitter.Node) (string, bool) {
	switch {
	case c.isStateMethod(n, "get"):
		pos, _ := callArgs(n, c.src)
		if len(pos) == 0 {
			c.fail(errNonLiteralKey.Error())
			return parser.NodeText(n, c.src), true
		}
		key, ok := parser.StringValue(pos[0], c.src)
		if !ok {
			c.fail(errNonLiteralKey.Error())
			return parser.NodeText(n, c.src), true
		}
		c.inputs.add(key)
		if c.router != nil {
			if len(pos) > 1 {
				return "(" + c.globalRead(key) + " or " + c.render(pos[1]) + ")", true
			}
			return c.globalRead(key), true
		}
		if c.written.has(key) {
			if len(pos) > 1 {
				return "(" + key + " if " + key + " is not None else " + c.render(pos[1]) + ")", true
			}
			return key, true
		}
		// The key keeps its original quoting so reads inside f-strings stay valid.
		keyText := parser.NodeText(pos[0], c.src)
		if len(pos) > 1 {
			return "inputs.get(" + keyText + ", " + c.render(pos[1]) + ")", true
		}
		return "inputs.get(" + keyText + ")", true

	case c.isStateMethod(n, "update"):
		c.fail("state.update used as an expression")
		return parser.NodeText(n, c.src), true
	}

	if name := calleeName(n, c.src); name != "" {
		for _, u := range UnsupportedCalls {
			if name == u {
				c.fail(fmt.Sprintf("unsupported LangGraph primitive %s", u))
				return parser.NodeText(n, c.src), true
			}
		}
	}
	if root := rootIdent(n.ChildByFieldName("function"), c.src); root != "" && c.ctx.Foreign != nil {
		if mod, ok := c.ctx.Foreign[root]; ok {
			c.fail(fmt.Sprintf("unsupported third-party call %s (%s)", calleeText(n, c.src), mod))
			return parser.NodeText(n, c.src), true
		}
	}
	if c.router != nil {
		return "", false
	}

	switch {
	case c.isLLMCall(n):
		return c.rewriteLLMCall(n), true
	case c.isToolCall(n):
		return c.rewriteToolCall(n), true
	case c.isDispatch(n):
		return c.rewriteDispatch(n), true
	}
	return "", false
}

func (c *Converter) rewriteLLMCall(n *tree_sitter.Node) string {
	messages := "messages"
	pos, kw := callArgs(n, c.src)
	if len(pos) > 0 {
		messages = c.render(pos[0])
	} else if v, ok := kw["messages"]; ok {
		messages = c.render(v)
	}
	out := "await self._llm.ainvoke(model_name=self.model_name, messages=" + messages + ")"
	if needsParens(n) {
		return "(" + out + ")"
	}
	return out
}

func (c *Converter) rewriteToolCall(n *tree_sitter.Node) string {
	fn := n.ChildByFieldName("function")
	direct := fn.Kind() == "identifier"
	name := parser.NodeText(fn, c.src)
	if !direct {
		name = parser.NodeText(fn.ChildByFieldName("object"), c.src)
	}
	sig, _ := c.ctx.tool(name)
	if sig.Name != "" {
		name = sig.Name
	}
	c.tools.add(name)

	pos, kw := callArgs(n, c.src)
	if v, ok := kw["inputs"]; ok && !direct {
		return name + ".invoke(inputs=" + c.render(v) + ")"
	}
	if len(pos) == 1 && len(kw) == 0 && (!direct || pos[0].Kind() == "dictionary") {
		return name + ".invoke(inputs=" + c.render(pos[0]) + ")"
	}

	parts := make([]string, 0, len(pos)+len(kw))
	for i, p := range pos {
		pname := fmt.Sprintf("arg%d", i)
		if i < len(sig.Params) {
			pname = sig.Params[i]
		}
		parts = append(parts, parser.Quote(pname)+": "+c.render(p))
	}
	for _, a := range parser.NamedChildren(n.ChildByFieldName("arguments")) {
		if a.Kind() != "keyword_argument" {
			continue
		}
		k := parser.NodeText(a.ChildByFieldName("name"), c.src)
		parts = append(parts, parser.Quote(k)+": "+c.render(a.ChildByFieldName("value")))
	}
	return name + ".invoke(inputs={" + strings.Join(parts, ", ") + "})"
}

func (c *Converter) rewriteDispatch(n *tree_sitter.Node) string {
	sub := n.ChildByFieldName("function").ChildByFieldName("object")
	key := c.render(sub.ChildByFieldName("subscript"))
	arg := `""`
	if pos, _ := callArgs(n, c.src); len(pos) > 0 {
		arg = c.render(pos[0])
	}
	c.dispatch = true
	return "invoke_tool(" + key + ", " + arg + ")"
}

func (c *Converter) renderReturnValue(v *tree_sitter.Node) string {
	switch v.Kind() {
	case "identifier":
		switch parser.NodeText(v, c.src) {
		case c.stateVar:
			return CollectedOutputs
		case "END":
			return `"end"`
		}
	case "parenthesized_expression", "conditional_expression":
		var b strings.Builder
		pos := v.StartByte()
		named := 0
		for i := uint(0); i < v.ChildCount(); i++ {
			child := v.Child(i)
			b.Write(c.src[pos:child.StartByte()])
			switch {
			case !child.IsNamed():
				b.WriteString(parser.NodeText(child, c.src))
			case v.Kind() == "conditional_expression" && named == 1:
				b.WriteString(c.render(child))
			default:
				b.WriteString(c.renderReturnValue(child))
			}
			if child.IsNamed() {
				named++
			}
			pos = child.EndByte()
		}
		b.Write(c.src[pos:v.EndByte()])
		return b.String()
	case "dictionary":
		for _, pair := range parser.ChildrenOfKind(v, "pair") {
			if key, ok := parser.StringValue(pair.ChildByFieldName("key"), c.src); ok {
				c.outputs.add(key)
			}
		}
	}
	return c.render(v)
}

func (c *Converter) globalRead(key string) string {
	if c.router.outputs[key] {
		return fmt.Sprintf("runtime.get_global_state(%s)", parser.Quote(c.router.source+"."+key))
	}
	return fmt.Sprintf("runtime.get_global_state(%s)", parser.Quote(key))
}

func (c *Converter) isStateSubscript(n *tree_sitter.Node) bool {
	if n == nil || n.Kind() != "subscript" {
		return false
	}
	v := n.ChildByFieldName("value")
	return v != nil && v.Kind() == "identifier" && parser.NodeText(v, c.src) == c.stateVar
}

func (c *Converter) isStateMethod(n *tree_sitter.Node, method string) bool {
	if n == nil || n.Kind() != "call" {
		return false
	}
	fn := n.ChildByFieldName("function")
	if fn == nil || fn.Kind() != "attribute" {
		return false
	}
	obj := fn.ChildByFieldName("object")
	return obj.Kind() == "identifier" && parser.NodeText(obj, c.src) == c.stateVar &&
		parser.NodeText(fn.ChildByFieldName("attribute"), c.src) == method
}

func (c *Converter) stateKeyName(sub *tree_sitter.Node) (string, error) {
	key, ok := parser.StringValue(sub.ChildByFieldName("subscript"), c.src)
	if !ok {
		return "", errNonLiteralKey
	}
	if !isIdentifier(key) {
		return "", errBadKeyName
	}
	return key, nil
}

// receiverName returns the name a method is called on: the identifier
// itself, or the last attribute of a dotted receiver such as self.llm.
func (c *Converter) receiverName(n *tree_sitter.Node) string {
	switch n.Kind() {
	case "identifier":
		return parser.NodeText(n, c.src)
	case "attribute":
		return parser.NodeText(n.ChildByFieldName("attribute"), c.src)
	}
	return ""
}

func (c *Converter) isLLMCall(n *tree_sitter.Node) bool {
	if n == nil || n.Kind() != "call" {
		return false
	}
	fn := n.ChildByFieldName("function")
	if fn.Kind() != "attribute" || !contains(LLMMethods, parser.NodeText(fn.ChildByFieldName("attribute"), c.src)) {
		return false
	}
	recv := c.receiverName(fn.ChildByFieldName("object"))
	return recv != "" && (c.llmVars[recv] || c.ctx.isLLMVar(recv))
}

var toolMethods = []string{"invoke", "run", "ainvoke", "arun"}

func (c *Converter) isToolCall(n *tree_sitter.Node) bool {
	if n == nil || n.Kind() != "call" {
		return false
	}
	fn := n.ChildByFieldName("function")
	switch fn.Kind() {
	case "identifier":
		_, ok := c.ctx.tool(parser.NodeText(fn, c.src))
		return ok
	case "attribute":
		obj := fn.ChildByFieldName("object")
		if obj.Kind() != "identifier" || !contains(toolMethods, parser.NodeText(fn.ChildByFieldName("attribute"), c.src)) {
			return false
		}
		_, ok := c.ctx.tool(parser.NodeText(obj, c.src))
		return ok
	}
	return false
}

func (c *Converter) isDispatch(n *tree_sitter.Node) bool {
	if n == nil || n.Kind() != "call" {
		return false
	}
	fn := n.ChildByFieldName("function")
	if fn.Kind() != "attribute" || !contains(toolMethods, parser.NodeText(fn.ChildByFieldName("attribute"), c.src)) {
		return false
	}
	sub := fn.ChildByFieldName("object")
	if sub.Kind() != "subscript" {
		return false
	}
	v := sub.ChildByFieldName("value")
	if v.Kind() != "identifier" {
		return false
	}
	name := parser.NodeText(v, c.src)
	if name == c.stateVar {
		return false
	}
	return c.ctx.isToolMap(name) || strings.Contains(strings.ToLower(name), "tool")
}

// chainHead descends through attribute, method-call and await wrappers of
// v and returns the first node satisfying pred.
func (c *Converter) chainHead(v *tree_sitter.Node, pred func(*tree_sitter.Node) bool) *tree_sitter.Node {
	for v = parser.Unwrap(v); v != nil; v = parser.Unwrap(v) {
		if pred(v) {
			return v
		}
		switch v.Kind() {
		case "call":
			v = v.ChildByFieldName("function")
		case "attribute":
			v = v.ChildByFieldName("object")
		case "await":
			v = v.NamedChild(0)
		default:
			return nil
		}
	}
	return nil
}

func (c *Converter) containsState(n *tree_sitter.Node) bool {
	found := false
	parser.Walk(n, func(x *tree_sitter.Node) bool {
		if x.Kind() == "identifier" && parser.NodeText(x, c.src) == c.stateVar {
			found = true
		}
		return !found
	})
	return found
}

func (c *Converter) containsStateSubscript(n *tree_sitter.Node) bool {
	found := false
	parser.Walk(n, func(x *tree_sitter.Node) bool {
		if c.isStateSubscript(x) {
			found = true
		}
		return !found
	})
	return found
}

// assignedKeys returns the state keys body assigns outside nested
// definitions, through subscript writes or state.update.
func (c *Converter) assignedKeys(body *tree_sitter.Node) keySet {
	var ks keySet
	literal := func(n *tree_sitter.Node) {
		if key, ok := parser.StringValue(n, c.src); ok && isIdentifier(key) {
			ks.add(key)
		}
	}
	parser.Walk(body, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "function_definition", "class_definition", "lambda":
			return false
		case "assignment", "augmented_assignment":
			if left := n.ChildByFieldName("left"); c.isStateSubscript(left) {
				literal(left.ChildByFieldName("subscript"))
			}
		case "call":
			if !c.isStateMethod(n, "update") {
				break
			}
			for _, arg := range parser.NamedChildren(n.ChildByFieldName("arguments")) {
				switch arg.Kind() {
				case "dictionary":
					for _, pair := range parser.ChildrenOfKind(arg, "pair") {
						literal(pair.ChildByFieldName("key"))
					}
				case "keyword_argument":
					ks.add(parser.NodeText(arg.ChildByFieldName("name"), c.src))
				}
			}
		}
		return true
	})
	return ks
}

// startsLine reports whether only whitespace precedes n on its line.
func (c *Converter) startsLine(n *tree_sitter.Node) bool {
	i := int(n.StartByte())
	for i > 0 && c.src[i-1] != '\n' {
		i--
		if ch := c.src[i]; ch != ' ' && ch != '\t' {
			return false
		}
	}
	return true
}

// indentOf returns the whitespace preceding n on its line.
func (c *Converter) indentOf(n *tree_sitter.Node) string {
	start := int(n.StartByte())
	i := start
	for i > 0 && c.src[i-1] != '\n' {
		i--
	}
	prefix := string(c.src[i:start])
	if strings.TrimLeft(prefix, " \t") != "" {
		return strings.Repeat(" ", len(prefix))
	}
	return prefix
}

// callArgs splits the arguments of a call into positional arguments and
// keyword arguments by name.
func callArgs(call *tree_sitter.Node, src []byte) ([]*tree_sitter.Node, map[string]*tree_sitter.Node) {
	var pos []*tree_sitter.Node
	kw := make(map[string]*tree_sitter.Node)
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil, kw
	}
	for _, a := range parser.NamedChildren(args) {
		switch a.Kind() {
		case "comment":
		case "keyword_argument":
			name := a.ChildByFieldName("name")
			if name != nil {
				kw[parser.NodeText(name, src)] = a.ChildByFieldName("value")
			}
		default:
			pos = append(pos, a)
		}
	}
	return pos, kw
}

// needsParens reports whether an await expression replacing n must be
// parenthesized to keep its binding inside the parent.
func needsParens(n *tree_sitter.Node) bool {
	p := n.Parent()
	if p == nil {
		return false
	}
	switch p.Kind() {
	case "attribute", "subscript", "call", "binary_operator", "comparison_operator",
		"boolean_operator", "unary_operator", "not_operator", "conditional_expression":
		return true
	}
	return false
}

func calleeName(call *tree_sitter.Node, src []byte) string {
	fn := call.ChildByFieldName("function")
	if fn.Kind() == "identifier" {
		return parser.NodeText(fn, src)
	}
	return ""
}

func calleeText(call *tree_sitter.Node, src []byte) string {
	return parser.NodeText(call.ChildByFieldName("function"), src)
}

// rootIdent returns the leftmost identifier of a dotted expression.
func rootIdent(n *tree_sitter.Node, src []byte) string {
	for n != nil {
		switch n.Kind() {
		case "identifier":
			return parser.NodeText(n, src)
		case "attribute":
			n = n.ChildByFieldName("object")
		default:
			return ""
		}
	}
	return ""
}

func firstParam(params *tree_sitter.Node, src []byte) string {
	for _, p := range parser.NamedChildren(params) {
		var name string
		switch p.Kind() {
		case "identifier":
			name = parser.NodeText(p, src)
		case "typed_parameter":
			if id := p.NamedChild(0); id != nil && id.Kind() == "identifier" {
				name = parser.NodeText(id, src)
			}
		case "default_parameter", "typed_default_parameter":
			name = parser.NodeText(p.ChildByFieldName("name"), src)
		}
		if name != "" && name != "self" && name != "cls" {
			return name
		}
	}
	return "state"
}

func isDocstring(n *tree_sitter.Node) bool {
	if n.Kind() != "expression_statement" || n.NamedChildCount() != 1 {
		return false
	}
	k := n.NamedChild(0).Kind()
	return k == "string" || k == "concatenated_string"
}

var errEmptyRouter = errors.New("router has no function definition")
