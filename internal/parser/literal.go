package parser

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// StringValue returns the value of a plain Python string literal. f-strings
// and byte strings are rejected, as is anything that is not a literal.
func StringValue(node *tree_sitter.Node, source []byte) (string, bool) {
	node = Unwrap(node)
	if node == nil {
		return "", false
	}
	switch node.Kind() {
	case "string":
		for _, c := range NamedChildren(node) {
			if c.Kind() == "interpolation" {
				return "", false
			}
		}
		return unquote(NodeText(node, source))
	case "concatenated_string":
		var b strings.Builder
		for _, c := range NamedChildren(node) {
			s, ok := StringValue(c, source)
			if !ok {
				return "", false
			}
			b.WriteString(s)
		}
		return b.String(), true
	}
	return "", false
}

func unquote(text string) (string, bool) {
	i := 0
	raw := false
	for i < len(text) && strings.ContainsRune("rRuUbBfF", rune(text[i])) {
		switch text[i] {
		case 'r', 'R':
			raw = true
		case 'b', 'B', 'f', 'F':
			return "", false
		}
		i++
	}
	text = text[i:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(text) >= 2*len(q) && strings.HasPrefix(text, q) && strings.HasSuffix(text, q) {
			body := text[len(q) : len(text)-len(q)]
			if raw {
				return body, true
			}
			return unescape(body), true
		}
	}
	return "", false
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\', '\'', '"':
			b.WriteByte(s[i])
		case '\n':
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Quote renders s as a double-quoted Python string literal.
func Quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// IsLiteral reports whether node is a constant literal expression: strings,
// numbers, booleans, None, and containers of literals.
func IsLiteral(node *tree_sitter.Node, source []byte) bool {
	node = Unwrap(node)
	if node == nil {
		return false
	}
	switch node.Kind() {
	case "integer", "float", "true", "false", "none":
		return true
	case "string", "concatenated_string":
		_, ok := StringValue(node, source)
		return ok
	case "unary_operator":
		arg := node.ChildByFieldName("argument")
		return arg != nil && (arg.Kind() == "integer" || arg.Kind() == "float")
	case "list", "tuple", "set":
		for _, c := range NamedChildren(node) {
			if !IsLiteral(c, source) {
				return false
			}
		}
		return true
	case "dictionary":
		for _, c := range NamedChildren(node) {
			if c.Kind() != "pair" {
				return false
			}
			if !IsLiteral(c.ChildByFieldName("key"), source) || !IsLiteral(c.ChildByFieldName("value"), source) {
				return false
			}
		}
		return true
	}
	return false
}
