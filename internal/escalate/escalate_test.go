package escalate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/DeusData/lg2jiuwen/internal/model"
)

type fakeClient struct {
	mu      sync.Mutex
	replies map[string]string // keyed by a substring of the user prompt
	err     error
	delay   time.Duration
	calls   atomic.Int32
	prompts []string
}

func (f *fakeClient) Complete(ctx context.Context, system, user string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, user)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	for k, v := range f.replies {
		if strings.Contains(user, k) {
			return v, nil
		}
	}
	return "", errors.New("no reply configured")
}

func item(id, node string) model.PendingItem {
	return model.PendingItem{
		ID:         "agent.py:" + id,
		Category:   model.PendingNodeBody,
		NodeName:   node,
		Function:   node + "_fn",
		SourceText: "def " + node + "_fn(state):\n    state[\"body\"] = fetch(state[\"url\"])\n\n    return state",
		Context: model.PendingContext{
			StateFields:  []string{"url", "body", "status"},
			Tools:        []string{},
			KnownOutputs: []string{"body"},
		},
		Question: "convert " + node,
		Reason:   "unsupported third-party call requests.get (requests)",
	}
}

func TestEscalate_ParsesReply(t *testing.T) {
	reply := "Here you go:\n```python\nurl = inputs[\"url\"]\nmsgs = [{\"role\": \"user\", \"content\": url}]\ntext = inputs.get('ghost', '')\nreturn {\"body\": url, \"status\": 200}\n```\nDone."
	e := New(&fakeClient{replies: map[string]string{"convert fetch": reply}}, Config{})

	got, err := e.Escalate(context.Background(), item("fetch", "fetch"))
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if got.Origin != model.OriginAI || got.Name != "fetch" {
		t.Errorf("node = %+v", got)
	}
	if diff := cmp.Diff([]string{"url"}, got.InputKeys); diff != "" {
		t.Errorf("inputs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"body", "status"}, got.OutputKeys); diff != "" {
		t.Errorf("outputs (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(got.ConvertedBody, `url = inputs["url"]`) || strings.Contains(got.ConvertedBody, "```") {
		t.Errorf("body = %q", got.ConvertedBody)
	}
}

func TestInferOutputs(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string
	}{
		{"well formed", "x = inputs[\"url\"]\nreturn {\"body\": x, \"status\": 200}", []string{"body", "status"}},
		{"unbalanced call", "resp = fetch(inputs[\"url\"]\nreturn {\"body\": resp.text, \"status\": resp.code}", []string{"body", "status"}},
		{"unbalanced list", "data = [1, 2\nreturn {\"body\": data, \"status\": 0}", []string{"body", "status"}},
		{"unclosed return dict", "return {\"body\": x,\n", []string{"body"}},
		{"message keys skipped", "return {\"messages\": [{\"role\": \"user\", \"content\": q}]}", []string{"messages"}},
		{"brace in string", "return {\"body\": \"}\", \"status\": 1}", []string{"body", "status"}},
		{"only returned dicts", "cfg = {\"mode\": 1}\nreturn {\"body\": cfg}", []string{"body"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, inferOutputs(tt.code)); diff != "" {
				t.Errorf("outputs (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFunctionBody_StripsDef(t *testing.T) {
	code := "async def invoke(self, inputs, runtime, context):\n    x = inputs[\"a\"]\n    return {\"b\": x}"
	want := "x = inputs[\"a\"]\nreturn {\"b\": x}"
	if got := functionBody(code); got != want {
		t.Errorf("functionBody = %q, want %q", got, want)
	}
}

func TestExtractCode(t *testing.T) {
	tests := []struct{ in, want string }{
		{"```python\nx = 1\n```", "x = 1"},
		{"text\n```\ny = 2\n```", "y = 2"},
		{"  z = 3  ", "z = 3"},
	}
	for _, tt := range tests {
		if got := extractCode(tt.in); got != tt.want {
			t.Errorf("extractCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlaceholder(t *testing.T) {
	got := Placeholder(item("fetch", "fetch"))
	want := "# TODO: manual migration required (unsupported third-party call requests.get (requests))\n" +
		"# original code:\n" +
		"# def fetch_fn(state):\n" +
		"#     state[\"body\"] = fetch(state[\"url\"])\n" +
		"#\n" +
		"#     return state\n" +
		"pass"
	if got.ConvertedBody != want {
		t.Errorf("body:\n%s\nwant:\n%s", got.ConvertedBody, want)
	}
	if got.Origin != model.OriginAI || !cmp.Equal([]string{"body"}, got.OutputKeys) {
		t.Errorf("placeholder = %+v", got)
	}
}

func TestDrain_ResolvesEveryItemInIDOrder(t *testing.T) {
	q := model.NewPendingQueue()
	for _, id := range []string{"c", "a", "b"} {
		if err := q.Push(item(id, id)); err != nil {
			t.Fatal(err)
		}
	}
	client := &fakeClient{
		replies: map[string]string{
			"convert a": "```python\nreturn {\"body\": 1}\n```",
			"convert c": "```python\nreturn {\"status\": 2}\n```",
		},
		delay: 5 * time.Millisecond,
	}
	esc := New(client, Config{Concurrency: 2, KnownKeys: []string{"url", "body", "status"}})

	nodes, warnings, err := Drain(context.Background(), q, esc)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !q.Drained() {
		t.Fatal("queue not drained")
	}
	var names []string
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, names); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v", warnings)
	}
	var ef *model.EscalationFailure
	if !errors.As(warnings[0], &ef) || ef.ItemID != "agent.py:b" {
		t.Errorf("warning = %v", warnings[0])
	}
	if !strings.HasPrefix(nodes[1].ConvertedBody, "# TODO: manual migration required") {
		t.Errorf("b should be a placeholder: %q", nodes[1].ConvertedBody)
	}
	if got := client.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want exactly one per item", got)
	}
	results, err := q.Results()
	if err != nil || len(results) != 3 {
		t.Errorf("Results = %v, %v", results, err)
	}
}

func TestDrain_NoClientUsesPlaceholders(t *testing.T) {
	q := model.NewPendingQueue()
	_ = q.Push(item("x", "x"))
	nodes, warnings, err := Drain(context.Background(), q, New(nil, Config{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || !strings.Contains(nodes[0].ConvertedBody, "pass") {
		t.Fatalf("nodes = %+v", nodes)
	}
	if len(warnings) != 1 || !IsDisabled(warnings[0]) {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestDrain_TimeoutFallsBack(t *testing.T) {
	q := model.NewPendingQueue()
	_ = q.Push(item("slow", "slow"))
	client := &fakeClient{replies: map[string]string{"convert": "return {}"}, delay: time.Second}
	nodes, warnings, err := Drain(context.Background(), q, New(client, Config{Timeout: 10 * time.Millisecond}))
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 || !errors.Is(warnings[0], context.DeadlineExceeded) {
		t.Errorf("warnings = %v", warnings)
	}
	if !strings.HasPrefix(nodes[0].ConvertedBody, "# TODO") {
		t.Errorf("body = %q", nodes[0].ConvertedBody)
	}
}

func TestDrain_Cancelled(t *testing.T) {
	q := model.NewPendingQueue()
	_ = q.Push(item("x", "x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &fakeClient{delay: time.Second}
	if _, _, err := Drain(ctx, q, New(client, Config{})); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestDrain_Empty(t *testing.T) {
	q := model.NewPendingQueue()
	nodes, warnings, err := Drain(context.Background(), q, New(nil, Config{}))
	if err != nil || nodes != nil || warnings != nil || !q.Drained() {
		t.Errorf("empty drain = %v %v %v", nodes, warnings, err)
	}
}
