package extract

import (
	"sort"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/model"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// FuncDef is one module-level or nested function definition.
type FuncDef struct {
	Name       string
	Module     string // dotted module of the defining file
	File       string // relative path of the defining file
	Node       *tree_sitter.Node
	Source     []byte
	Params     []model.Param
	Docstring  string
	Decorators []string
	// Def is the node including decorators.
	Def *tree_sitter.Node
}

// QualifiedName returns module.name, or name for a root-level module.
func (f *FuncDef) QualifiedName() string {
	if f.Module == "" {
		return f.Name
	}
	return f.Module + "." + f.Name
}

// Text returns the function source including decorators.
func (f *FuncDef) Text() string {
	return parser.NodeText(f.Def, f.Source)
}

// Line returns the 1-based line of the def keyword.
func (f *FuncDef) Line() int {
	return parser.Line(f.Node)
}

// Registry indexes function definitions by qualified and simple name, and
// graph node IDs by the function they are bound to.
type Registry struct {
	mu     sync.RWMutex
	exact  map[string]*FuncDef
	byName map[string][]string

	nodes     map[string]NodeBinding
	nodeOrder []string
}

// NodeBinding is one add_node registration. Function is the reference as
// written at the registration site, resolved from Module.
type NodeBinding struct {
	ID       string
	Function string
	Module   string
	Location string
	Text     string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		exact:  make(map[string]*FuncDef),
		byName: make(map[string][]string),
		nodes:  make(map[string]NodeBinding),
	}
}

// Register adds a function definition. A later definition with the same
// qualified name replaces the earlier one.
func (r *Registry) Register(fn *FuncDef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	qn := fn.QualifiedName()
	r.exact[qn] = fn
	for _, existing := range r.byName[fn.Name] {
		if existing == qn {
			return
		}
	}
	r.byName[fn.Name] = append(r.byName[fn.Name], qn)
}

// BindNode records a graph node registration. The first binding of an ID
// wins; it reports whether the binding was new.
func (r *Registry) BindNode(b NodeBinding) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[b.ID]; ok {
		return false
	}
	r.nodes[b.ID] = b
	r.nodeOrder = append(r.nodeOrder, b.ID)
	return true
}

// Nodes returns the bindings in registration order.
func (r *Registry) Nodes() []NodeBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeBinding, 0, len(r.nodeOrder))
	for _, id := range r.nodeOrder {
		out = append(out, r.nodes[id])
	}
	return out
}

// Node returns the binding for a node ID.
func (r *Registry) Node(id string) (NodeBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.nodes[id]
	return b, ok
}

// IsNodeFunction reports whether fn backs some graph node.
func (r *Registry) IsNodeFunction(fn *FuncDef, importMaps map[string]map[string]string) bool {
	for _, b := range r.Nodes() {
		if got := r.Resolve(b.Function, b.Module, importMaps[b.Module]); got == fn {
			return true
		}
	}
	return false
}

// Resolve finds the definition a name refers to from inside module, using a
// prioritized strategy:
//  1. Import map lookup (local name -> qualified name)
//  2. Same-module match
//  3. Project-wide single match by simple name
//  4. Closest module by shared dotted prefix
func (r *Registry) Resolve(name, module string, importMap map[string]string) *FuncDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefix, suffix, _ := strings.Cut(name, ".")

	if fn := r.resolveViaImportMap(prefix, suffix, importMap); fn != nil {
		return fn
	}
	qn := module + "." + name
	if module == "" {
		qn = name
	}
	if fn, ok := r.exact[qn]; ok {
		return fn
	}
	return r.resolveViaNameLookup(name, module)
}

func (r *Registry) resolveViaImportMap(prefix, suffix string, importMap map[string]string) *FuncDef {
	if importMap == nil {
		return nil
	}
	resolved, ok := importMap[prefix]
	if !ok {
		return nil
	}
	candidate := resolved
	if suffix != "" {
		candidate = resolved + "." + suffix
	}
	if fn, ok := r.exact[candidate]; ok {
		return fn
	}
	// Re-exports: "from .tools import calculator" where tools/__init__.py
	// itself imports calculator from a submodule.
	simple := simpleName(candidate)
	var matches []string
	for _, qn := range r.byName[simple] {
		if strings.HasPrefix(qn, qualifiedNamePrefix(candidate)+".") {
			matches = append(matches, qn)
		}
	}
	if len(matches) == 1 {
		return r.exact[matches[0]]
	}
	return nil
}

func (r *Registry) resolveViaNameLookup(name, module string) *FuncDef {
	candidates := r.byName[simpleName(name)]
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return r.exact[candidates[0]]
	}
	return r.exact[bestByImportDistance(candidates, module)]
}

// Exists reports whether a function with the given simple name is registered
// anywhere in the project.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName[name]) > 0
}

// Size returns the number of registered functions.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.exact)
}

// Functions returns every definition sorted by qualified name.
func (r *Registry) Functions() []*FuncDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.exact))
	for k := range r.exact {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*FuncDef, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.exact[k])
	}
	return out
}

func simpleName(qn string) string {
	if idx := strings.LastIndex(qn, "."); idx >= 0 {
		return qn[idx+1:]
	}
	return qn
}

func qualifiedNamePrefix(qn string) string {
	if idx := strings.LastIndex(qn, "."); idx >= 0 {
		return qn[:idx]
	}
	return ""
}

// bestByImportDistance picks the candidate sharing the longest dotted prefix
// with the caller's module. Ties go to the lexically smallest name.
func bestByImportDistance(candidates []string, callerModule string) string {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	best := ""
	bestLen := -1
	for _, c := range sorted {
		if n := commonPrefixLen(qualifiedNamePrefix(c), callerModule); n > bestLen {
			bestLen = n
			best = c
		}
	}
	return best
}

func commonPrefixLen(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")
	count := 0
	for i := 0; i < len(aParts) && i < len(bParts); i++ {
		if aParts[i] != bParts[i] {
			break
		}
		count++
	}
	return count
}
