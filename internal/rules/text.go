package rules

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// Reindent removes the common leading whitespace of code and prefixes each
// line with prefix. Lines that continue a multi-line string literal are
// kept byte for byte; blank lines are emptied.
func Reindent(code, prefix string) string {
	lines := strings.Split(code, "\n")
	protected := stringContinuations(code)

	common := -1
	for i, l := range lines {
		if protected[i] || strings.TrimSpace(l) == "" {
			continue
		}
		if w := leadingSpace(l); common < 0 || w < common {
			common = w
		}
	}
	if common < 0 {
		common = 0
	}
	for i, l := range lines {
		switch {
		case protected[i]:
		case strings.TrimSpace(l) == "":
			lines[i] = ""
		default:
			lines[i] = prefix + l[common:]
		}
	}
	return strings.Join(lines, "\n")
}

// stringContinuations returns the 0-based line numbers that start inside a
// string literal spanning several lines. It scans lexically so that it works
// on indented fragments that do not parse as a module.
func stringContinuations(code string) map[int]bool {
	out := make(map[int]bool)
	line := 0
	for i := 0; i < len(code); i++ {
		switch ch := code[i]; ch {
		case '\n':
			line++
		case '#':
			for i < len(code) && code[i] != '\n' {
				i++
			}
			i--
		case '"', '\'':
			quote := string(ch)
			if strings.HasPrefix(code[i:], strings.Repeat(quote, 3)) {
				quote = strings.Repeat(quote, 3)
			}
			startLine := line
			i += len(quote)
			unterminated := false
			for i < len(code) && !strings.HasPrefix(code[i:], quote) {
				if code[i] == '\\' && i+1 < len(code) {
					if code[i+1] == '\n' {
						line++
					}
					i += 2
					continue
				}
				if code[i] == '\n' {
					if len(quote) == 1 {
						unterminated = true
						break
					}
					line++
				}
				i++
			}
			if unterminated {
				i--
			} else {
				i += len(quote) - 1
			}
			for r := startLine + 1; r <= line; r++ {
				out[r] = true
			}
		}
	}
	return out
}

func leadingSpace(l string) int {
	return len(l) - len(strings.TrimLeft(l, " \t"))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var pyKeywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true, "assert": true,
	"async": true, "await": true, "break": true, "class": true, "continue": true,
	"def": true, "del": true, "elif": true, "else": true, "except": true,
	"finally": true, "for": true, "from": true, "global": true, "if": true,
	"import": true, "in": true, "is": true, "lambda": true, "nonlocal": true,
	"not": true, "or": true, "pass": true, "raise": true, "return": true,
	"try": true, "while": true, "with": true, "yield": true,
}

// isIdentifier reports whether s can be used as a Python variable name.
func isIdentifier(s string) bool {
	if s == "" || pyKeywords[s] {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		case r > 127:
		default:
			return false
		}
	}
	return true
}

// isAtom reports whether n binds tighter than any binary operator.
func isAtom(n *tree_sitter.Node) bool {
	switch n.Kind() {
	case "identifier", "integer", "float", "string", "concatenated_string", "true", "false", "none",
		"call", "attribute", "subscript", "parenthesized_expression", "list", "dictionary", "tuple", "set":
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
