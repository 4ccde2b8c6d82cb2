package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DeusData/lg2jiuwen/internal/store"
)

const greetAgent = `from typing import TypedDict
from langgraph.graph import StateGraph, END

class GreetState(TypedDict):
    name: str
    greeting: str

def greet(state: GreetState) -> dict:
    return {"greeting": "hello " + state["name"]}

g = StateGraph(GreetState)
g.add_node("greet", greet)
g.set_entry_point("greet")
g.add_edge("greet", END)
app = g.compile()
`

// cliEnv isolates config lookup and history in temp dirs and returns the
// source file path.
func cliEnv(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("LG2JIUWEN_DB", filepath.Join(t.TempDir(), "history.db"))
	t.Setenv("LOG_LEVEL", "error")
	src := filepath.Join(t.TempDir(), "greet_agent.py")
	if err := os.WriteFile(src, []byte(greetAgent), 0o644); err != nil {
		t.Fatal(err)
	}
	return src
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCLI_Version(t *testing.T) {
	out, _, err := execute(t, "--version")
	if err != nil {
		t.Fatalf("--version: %v", err)
	}
	if !strings.HasPrefix(out, "lg2jiuwen version ") {
		t.Fatalf("unexpected --version output: %q", out)
	}
}

func TestCLI_MigrateRunsShow(t *testing.T) {
	src := cliEnv(t)
	outDir := filepath.Join(t.TempDir(), "out")

	out, _, err := execute(t, "migrate", src, "-o", outDir, "-n", "Greet")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, want := range []string{"Migrated Greet (single layout)", "greet_openjiuwen.py", "greet_report.md", "Manual review:", "Run: "} {
		if !strings.Contains(out, want) {
			t.Errorf("migrate output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "greet_openjiuwen.py")); err != nil {
		t.Fatalf("program not written: %v", err)
	}

	out, _, err = execute(t, "migrate", src, "-o", outDir, "-n", "Greet")
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if !strings.Contains(out, "greet_openjiuwen.py (unchanged)") {
		t.Errorf("rerun output:\n%s", out)
	}

	out, _, err = execute(t, "runs", "--json")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	var runs []store.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("runs json: %v\n%s", err, out)
	}
	if len(runs) != 2 || runs[0].Agent != "Greet" || runs[0].Status != store.StatusOK {
		t.Errorf("runs = %+v", runs)
	}

	out, _, err = execute(t, "runs")
	if err != nil || !strings.Contains(out, runs[0].ID) {
		t.Errorf("runs table: %v\n%s", err, out)
	}

	out, _, err = execute(t, "show", "latest", "greet_openjiuwen.py")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	disk, _ := os.ReadFile(filepath.Join(outDir, "greet_openjiuwen.py"))
	if out != string(disk) {
		t.Error("show output differs from the written file")
	}

	if _, _, err := execute(t, "show", runs[0].ID, "missing.py"); err == nil {
		t.Error("show of a missing artifact should fail")
	}
}

func TestCLI_NoHistory(t *testing.T) {
	src := cliEnv(t)
	if _, _, err := execute(t, "migrate", src, "-o", filepath.Join(t.TempDir(), "out"), "--no-history", "--no-ir", "--no-report"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	out, _, err := execute(t, "runs")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if strings.TrimSpace(out) != "No runs recorded." {
		t.Errorf("runs output = %q", out)
	}
}

func TestCLI_MigrateErrors(t *testing.T) {
	src := cliEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing source", []string{"migrate", filepath.Join(t.TempDir(), "nope.py")}, "source path"},
		{"bad layout", []string{"migrate", src, "--layout", "tree"}, "output.layout"},
		{"no args", []string{"migrate"}, "accepts 1 arg"},
		{"bad log format", []string{"--log-format", "xml", "runs"}, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestCLI_AST(t *testing.T) {
	src := cliEnv(t)
	out, _, err := execute(t, "ast", src, "--depth", "2")
	if err != nil {
		t.Fatalf("ast: %v", err)
	}
	if !strings.HasPrefix(out, "module [1]") || !strings.Contains(out, "  class_definition [4]") {
		t.Errorf("ast output:\n%s", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "    ") {
			t.Errorf("depth limit ignored: %q", line)
		}
	}
}
