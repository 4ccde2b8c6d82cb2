package parser

import (
	"fmt"
	"log/slog"
	"sort"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/lang"
	"github.com/DeusData/lg2jiuwen/internal/model"
)

// SourceUnit is one parsed file. It is immutable after creation.
type SourceUnit struct {
	Path    string // original path
	Encoded string // EncodePath(Path)
	Source  []byte
	Tree    *tree_sitter.Tree
}

// Root returns the module node.
func (u *SourceUnit) Root() *tree_sitter.Node {
	return u.Tree.RootNode()
}

// Text returns the source text of a node in this unit.
func (u *SourceUnit) Text(n *tree_sitter.Node) string {
	return NodeText(n, u.Source)
}

// Location formats a node position as path:line.
func (u *SourceUnit) Location(n *tree_sitter.Node) string {
	return fmt.Sprintf("%s:%d", u.Path, Line(n))
}

// ParseSet is the parser stage output: units keyed by encoded path, the
// encoded processing order, and the per-file errors.
type ParseSet struct {
	Units  map[string]*SourceUnit
	Order  []string
	Errors []error
}

// Ordered returns the units in processing order.
func (s *ParseSet) Ordered() []*SourceUnit {
	out := make([]*SourceUnit, 0, len(s.Order))
	for _, enc := range s.Order {
		if u, ok := s.Units[enc]; ok {
			out = append(out, u)
		}
	}
	return out
}

// Close releases all trees.
func (s *ParseSet) Close() {
	for _, u := range s.Units {
		if u.Tree != nil {
			u.Tree.Close()
		}
	}
}

// ParseSources parses every file in files. order is the dependency order
// computed by discovery; paths missing from it are appended sorted. A file
// that fails to parse is reported in Errors and skipped; if every file fails,
// ParseSources returns an error wrapping model.ErrAllFilesFailed.
func ParseSources(files map[string][]byte, order []string) (*ParseSet, error) {
	set := &ParseSet{Units: make(map[string]*SourceUnit, len(files))}

	seen := make(map[string]bool, len(files))
	var paths []string
	for _, p := range order {
		if _, ok := files[p]; ok && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	var rest []string
	for p := range files {
		if !seen[p] {
			rest = append(rest, p)
		}
	}
	sort.Strings(rest)
	paths = append(paths, rest...)

	for _, p := range paths {
		src := files[p]
		tree, err := Parse(lang.Python, src)
		if err != nil {
			set.Errors = append(set.Errors, &model.ParseError{Path: p, Msg: err.Error()})
			continue
		}
		root := tree.RootNode()
		if root.HasError() {
			pe := &model.ParseError{Path: p, Msg: "syntax error"}
			if bad := firstError(root); bad != nil {
				pos := bad.StartPosition()
				pe.Line = int(pos.Row) + 1
				pe.Column = int(pos.Column) + 1
				if bad.IsMissing() {
					pe.Msg = "missing " + bad.Kind()
				}
			}
			tree.Close()
			slog.Warn("parse.error", "path", p, "line", pe.Line, "err", pe.Msg)
			set.Errors = append(set.Errors, pe)
			continue
		}
		enc := EncodePath(p)
		set.Units[enc] = &SourceUnit{Path: p, Encoded: enc, Source: src, Tree: tree}
		set.Order = append(set.Order, enc)
	}

	if len(set.Units) == 0 {
		if len(set.Errors) > 0 {
			return set, fmt.Errorf("parse: %w: %v", model.ErrAllFilesFailed, set.Errors[0])
		}
		return set, fmt.Errorf("parse: %w", model.ErrAllFilesFailed)
	}
	return set, nil
}
