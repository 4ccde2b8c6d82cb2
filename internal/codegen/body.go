package codegen

import (
	"regexp"
	"strings"

	"github.com/DeusData/lg2jiuwen/internal/ir"
	"github.com/DeusData/lg2jiuwen/internal/parser"
	"github.com/DeusData/lg2jiuwen/internal/rules"
)

const bodyIndent = "        "

// componentBody renders the statements of a component's invoke method at
// method-body indentation: output initialisation, the converted body with
// process-wide reads and publishes applied, and the final return.
func componentBody(n ir.WorkflowNodeIR, globalKeys map[string]bool, comments bool) string {
	outputs := dictOf(n.Outputs)
	var b strings.Builder

	if len(n.Outputs) == 0 {
		if comments {
			b.WriteString(bodyIndent + "# no outputs\n")
		}
	} else {
		if comments {
			b.WriteString(bodyIndent + "# initialize outputs\n")
		}
		reads := make(map[string]bool, len(n.Inputs))
		for _, k := range n.Inputs {
			reads[k] = true
		}
		for _, k := range n.Outputs {
			init := "None"
			switch {
			case reads[k] && globalKeys[k]:
				init = "runtime.get_global_state(" + parser.Quote(k) + ")"
			case reads[k]:
				init = "inputs.get(" + parser.Quote(k) + ")"
			}
			b.WriteString(bodyIndent + k + " = " + init + "\n")
		}
	}

	body := strings.ReplaceAll(n.ConvertedBody, rules.CollectedOutputs, outputs)
	body = rewriteGlobalReads(body, globalKeys)
	if strings.TrimSpace(body) == "" {
		body = "pass"
	}

	publish := ""
	if len(n.GlobalOutputs) > 0 {
		publish = "runtime.update_global_state(" + dictOf(n.GlobalOutputs) + ")"
	}
	comment := ""
	if comments {
		comment = "# publish process-wide state"
	}
	body, final := rules.PublishBeforeReturns(body, publish, comment)

	if comments {
		b.WriteString(bodyIndent + "# component logic (converted by " + n.Origin + ")\n")
	}
	b.WriteString(rules.Reindent(strings.Trim(body, "\n"), bodyIndent))
	if !final {
		if publish != "" {
			if comments {
				b.WriteString("\n" + bodyIndent + "# publish process-wide state")
			}
			b.WriteString("\n" + bodyIndent + publish)
		}
		b.WriteString("\n" + bodyIndent + "return " + outputs)
	}
	return b.String()
}

// dictOf renders {"k": k, ...} for the given variable names.
func dictOf(keys []string) string {
	if len(keys) == 0 {
		return "{}"
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = parser.Quote(k) + ": " + k
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// rewriteGlobalReads turns reads of process-wide keys from the component
// inputs into runtime lookups:
//
//	inputs["k"]            -> runtime.get_global_state("k")
//	inputs.get("k")        -> runtime.get_global_state("k")
//	inputs.get("k", d)     -> (runtime.get_global_state("k") or d)
//
// The key keeps its original quoting so reads inside f-strings stay valid.
func rewriteGlobalReads(body string, keys map[string]bool) string {
	if len(keys) == 0 {
		return body
	}
	var b strings.Builder
	for i := 0; i < len(body); {
		if !identStart(body, i) {
			b.WriteByte(body[i])
			i++
			continue
		}
		switch {
		case strings.HasPrefix(body[i:], "inputs.get("):
			open := i + len("inputs.get")
			if end := matchClose(body, open); end > 0 {
				args := splitArgs(body[open+1 : end])
				if len(args) >= 1 && len(args) <= 2 {
					if key, ok := quotedKey(args[0]); ok && keys[key] {
						lookup := "runtime.get_global_state(" + strings.TrimSpace(args[0]) + ")"
						if len(args) == 2 {
							lookup = "(" + lookup + " or " + rewriteGlobalReads(strings.TrimSpace(args[1]), keys) + ")"
						}
						b.WriteString(lookup)
						i = end + 1
						continue
					}
				}
			}
		case strings.HasPrefix(body[i:], "inputs["):
			open := i + len("inputs")
			if end := matchClose(body, open); end > 0 {
				arg := body[open+1 : end]
				if key, ok := quotedKey(arg); ok && keys[key] {
					b.WriteString("runtime.get_global_state(" + strings.TrimSpace(arg) + ")")
					i = end + 1
					continue
				}
			}
		}
		b.WriteByte(body[i])
		i++
	}
	return b.String()
}

// identStart reports whether an identifier may begin at s[i], that is the
// previous byte is neither part of a name nor an attribute dot.
func identStart(s string, i int) bool {
	if s[i] != 'i' {
		return false
	}
	if i == 0 {
		return true
	}
	c := s[i-1]
	return !(c == '_' || c == '.' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9')
}

// quotedKey returns the content of a plain string literal.
func quotedKey(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if len(arg) < 2 {
		return "", false
	}
	q := arg[0]
	if (q != '"' && q != '\'') || arg[len(arg)-1] != q {
		return "", false
	}
	inner := arg[1 : len(arg)-1]
	if strings.ContainsAny(inner, "\"'\\{}") {
		return "", false
	}
	return inner, true
}

// scanCode calls fn for each byte of s outside string literals, with the
// bracket depth in effect before that byte. It stops when fn returns false.
func scanCode(s string, fn func(i, depth int) bool) {
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\'' {
			i = skipString(s, i) - 1
			continue
		}
		if !fn(i, depth) {
			return
		}
		switch c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
	}
}

// skipString returns the index just past the string literal opening at i.
func skipString(s string, i int) int {
	quote := s[i : i+1]
	if strings.HasPrefix(s[i:], strings.Repeat(quote, 3)) {
		quote = strings.Repeat(quote, 3)
	}
	j := i + len(quote)
	for j < len(s) {
		if s[j] == '\\' {
			j += 2
			continue
		}
		if strings.HasPrefix(s[j:], quote) {
			return j + len(quote)
		}
		if s[j] == '\n' && len(quote) == 1 {
			return j
		}
		j++
	}
	return len(s)
}

// matchClose returns the index of the bracket closing the one at s[open], or
// -1.
func matchClose(s string, open int) int {
	end := -1
	scanCode(s[open:], func(i, depth int) bool {
		switch s[open+i] {
		case ')', ']', '}':
			if depth == 1 {
				end = open + i
				return false
			}
		}
		return true
	})
	return end
}

// splitArgs splits an argument list on top-level commas.
func splitArgs(s string) []string {
	var out []string
	start := 0
	scanCode(s, func(i, depth int) bool {
		if s[i] == ',' && depth == 0 {
			out = append(out, s[start:i])
			start = i + 1
		}
		return true
	})
	if last := s[start:]; strings.TrimSpace(last) != "" || len(out) > 0 {
		out = append(out, last)
	}
	return out
}

// docstring renders text as a triple-quoted docstring at indent.
func docstring(text, indent string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, `"""`, `\"\"\"`))
	if strings.HasSuffix(text, `"`) {
		text += " "
	}
	first, rest, multi := strings.Cut(text, "\n")
	if !multi {
		return indent + `"""` + text + `"""`
	}
	return indent + `"""` + first + "\n" + rules.Reindent(rest, indent) + "\n" + indent + `"""`
}

// refersTo reports whether code mentions name as a whole word.
func refersTo(code, name string) bool {
	if name == "" || !strings.Contains(code, name) {
		return false
	}
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`).MatchString(code)
}
