package escalate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/DeusData/lg2jiuwen/internal/model"
	"github.com/DeusData/lg2jiuwen/internal/rules"
)

const systemPrompt = `You convert LangGraph node functions into openJiuwen workflow component bodies.

The body you write runs inside:
    async def invoke(self, inputs: Input, runtime: Runtime, context: Context) -> Output:

Rules:
- read state values with inputs["field"] or inputs.get("field", default)
- values shared across the whole workflow are read with runtime.get_global_state("field")
- call the model with: await self._llm.ainvoke(model_name=self.model_name, messages=[...])
- call a tool with: tool_name.invoke(inputs={"param": value})
- never mutate inputs; return every produced value in a dict: return {"field": value}
- keep the original logic unchanged

Reply with the body only, inside one python code block, without the def line and without explanations.`

// Config tunes an Escalator.
type Config struct {
	// Timeout bounds a single item; zero means no limit beyond ctx.
	Timeout     time.Duration
	Concurrency int
	// KnownKeys is the key universe. Inferred inputs outside it are dropped.
	KnownKeys []string
}

// Escalator resolves pending items with one model call each.
type Escalator struct {
	client      Client
	logger      *slog.Logger
	timeout     time.Duration
	concurrency int
	known       map[string]bool
}

// New returns an Escalator. A nil client yields placeholders for every item.
func New(client Client, cfg Config) *Escalator {
	e := &Escalator{
		client:      client,
		logger:      slog.Default().With("component", "escalate"),
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
	}
	if e.concurrency <= 0 {
		e.concurrency = 4
	}
	if len(cfg.KnownKeys) > 0 {
		e.known = make(map[string]bool, len(cfg.KnownKeys))
		for _, k := range cfg.KnownKeys {
			e.known[k] = true
		}
	}
	return e
}

// Available reports whether a model is configured.
func (e *Escalator) Available() bool {
	return e != nil && e.client != nil
}

// Escalate makes exactly one attempt at converting item.
func (e *Escalator) Escalate(ctx context.Context, item model.PendingItem) (model.ConvertedNode, error) {
	if !e.Available() {
		return model.ConvertedNode{}, ErrNoClient
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	start := time.Now()
	reply, err := e.client.Complete(ctx, systemPrompt, userPrompt(item))
	if err != nil {
		return model.ConvertedNode{}, err
	}
	code := functionBody(extractCode(reply))
	if strings.TrimSpace(code) == "" {
		return model.ConvertedNode{}, errors.New("empty response")
	}

	inputs := e.filterKnown(item, inferInputs(code))
	outputs := inferOutputs(code)
	if len(outputs) == 0 {
		outputs = item.Context.KnownOutputs
	}
	e.logger.Debug("escalate.item", "id", item.ID, "inputs", len(inputs), "outputs", len(outputs), "elapsed", time.Since(start))
	return model.ConvertedNode{
		Name:          item.NodeName,
		Function:      item.Function,
		OriginalText:  item.SourceText,
		ConvertedBody: code,
		InputKeys:     inputs,
		OutputKeys:    outputs,
		Origin:        model.OriginAI,
		Docstring:     item.Docstring,
	}, nil
}

func userPrompt(item model.PendingItem) string {
	var b strings.Builder
	b.WriteString("## Context\n")
	fmt.Fprintf(&b, "- state fields: %s\n", strings.Join(item.Context.StateFields, ", "))
	fmt.Fprintf(&b, "- available tools: %s\n", strings.Join(item.Context.Tools, ", "))
	if len(item.Context.KnownOutputs) > 0 {
		fmt.Fprintf(&b, "- fields written so far: %s\n", strings.Join(item.Context.KnownOutputs, ", "))
	}
	b.WriteString("\n## Original code\n```python\n")
	b.WriteString(strings.TrimRight(item.SourceText, "\n"))
	b.WriteString("\n```\n\n## Question\n")
	b.WriteString(item.Question)
	b.WriteString("\n")
	return b.String()
}

var (
	pythonFence = regexp.MustCompile("(?s)```python\\s*(.*?)\\s*```")
	anyFence    = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
	inputRef    = regexp.MustCompile(`inputs\[["'](\w+)["']\]|inputs\.get\(["'](\w+)["']`)
	returnDict  = regexp.MustCompile(`\breturn\s*\{`)
	dictKey     = regexp.MustCompile(`["'](\w+)["']\s*:`)
)

// extractCode returns the first python fence, else the first fence, else
// the trimmed reply.
func extractCode(reply string) string {
	if m := pythonFence.FindStringSubmatch(reply); m != nil {
		return m[1]
	}
	if m := anyFence.FindStringSubmatch(reply); m != nil {
		return m[1]
	}
	return strings.TrimSpace(reply)
}

// functionBody strips a leading def line if the model returned a whole
// function, and dedents the result.
func functionBody(code string) string {
	lines := strings.Split(code, "\n")
	for i, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" || strings.HasPrefix(t, "@") {
			continue
		}
		if strings.HasPrefix(t, "def ") || strings.HasPrefix(t, "async def ") {
			for j := i; j < len(lines); j++ {
				if strings.HasSuffix(strings.TrimSpace(lines[j]), ":") {
					lines = lines[j+1:]
					break
				}
			}
		}
		break
	}
	return strings.Trim(rules.Reindent(strings.Join(lines, "\n"), ""), "\n")
}

func inferInputs(code string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range inputRef.FindAllStringSubmatch(code, -1) {
		k := m[1]
		if k == "" {
			k = m[2]
		}
		if k != "" && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// messageKeys appear in chat message dicts, never as state keys.
var messageKeys = map[string]bool{"role": true, "content": true}

// inferOutputs collects the string keys of dict literals returned by code.
// The reply need not parse, so returns are found lexically: each
// "return {" runs to its closing brace, or to the end of code when the
// braces do not balance.
func inferOutputs(code string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, loc := range returnDict.FindAllStringIndex(code, -1) {
		open := loc[1] - 1
		span := code[open:closingBrace(code, open)]
		for _, m := range dictKey.FindAllStringSubmatch(span, -1) {
			if k := m[1]; !messageKeys[k] && !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// closingBrace returns the index just past the brace matching code[open],
// skipping string literals, or len(code).
func closingBrace(code string, open int) int {
	depth := 0
	for i := open; i < len(code); i++ {
		switch c := code[i]; c {
		case '"', '\'':
			for i++; i < len(code) && code[i] != c && code[i] != '\n'; i++ {
				if code[i] == '\\' {
					i++
				}
			}
		case '{':
			depth++
		case '}':
			if depth--; depth == 0 {
				return i + 1
			}
		}
	}
	return len(code)
}

func (e *Escalator) filterKnown(item model.PendingItem, keys []string) []string {
	known := e.known
	if known == nil {
		known = make(map[string]bool)
		for _, k := range item.Context.StateFields {
			known[k] = true
		}
		for _, k := range item.Context.KnownInputs {
			known[k] = true
		}
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !known[k] {
			e.logger.Debug("escalate.unknown_input", "id", item.ID, "key", k)
			continue
		}
		out = append(out, k)
	}
	return out
}

// Placeholder is the fallback body for item: an annotated copy of the
// original code that still declares the statically known outputs.
func Placeholder(item model.PendingItem) model.ConvertedNode {
	reason := item.Reason
	if reason == "" {
		reason = "rule conversion failed"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# TODO: manual migration required (%s)\n", reason)
	b.WriteString("# original code:\n")
	for _, l := range strings.Split(strings.TrimRight(item.SourceText, "\n"), "\n") {
		if l == "" {
			b.WriteString("#\n")
			continue
		}
		b.WriteString("# " + l + "\n")
	}
	b.WriteString("pass")
	return model.ConvertedNode{
		Name:          item.NodeName,
		Function:      item.Function,
		OriginalText:  item.SourceText,
		ConvertedBody: b.String(),
		InputKeys:     item.Context.KnownInputs,
		OutputKeys:    item.Context.KnownOutputs,
		Origin:        model.OriginAI,
		Docstring:     item.Docstring,
	}
}
