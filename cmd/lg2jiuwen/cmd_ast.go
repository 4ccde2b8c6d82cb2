package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/lg2jiuwen/internal/lang"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// astCmd prints the syntax tree the extractor works on. It needs no config.
func astCmd() *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:    "ast <file.py>",
		Short:  "Print the Python syntax tree of a source file",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			tree, err := parser.Parse(lang.Python, src)
			if err != nil {
				return err
			}
			defer tree.Close()
			printAST(cmd.OutOrStdout(), tree.RootNode(), src, 0, depth)
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "Stop below this depth (0 for the whole tree)")
	return cmd
}

func printAST(w io.Writer, node *tree_sitter.Node, source []byte, indent, maxDepth int) {
	if node == nil || (maxDepth > 0 && indent >= maxDepth) {
		return
	}
	text := string(source[node.StartByte():node.EndByte()])
	if len(text) > 60 {
		text = text[:60] + "..."
	}
	field := ""
	if p := node.Parent(); p != nil {
		for i := uint(0); i < p.ChildCount(); i++ {
			if c := p.Child(i); c != nil && c.Id() == node.Id() {
				if name := p.FieldNameForChild(uint32(i)); name != "" {
					field = name + ": "
				}
				break
			}
		}
	}
	fmt.Fprintf(w, "%s%s%s [%d] %q\n", strings.Repeat("  ", indent), field, node.Kind(), parser.Line(node), text)
	for i := uint(0); i < node.ChildCount(); i++ {
		printAST(w, node.Child(i), source, indent+1, maxDepth)
	}
}
