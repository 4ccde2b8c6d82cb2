package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// clearEnv unsets every variable Load consults, restoring them after t.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LG2JIUWEN_AI_API_KEY", "OPENAI_API_KEY", "LG2JIUWEN_AI_BASE_URL",
		"OPENAI_API_BASE", "LG2JIUWEN_AI_MODEL", "LG2JIUWEN_DB", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
	if cfg.Path != "" {
		t.Errorf("Path = %q, want empty", cfg.Path)
	}
}

func TestLoad_FileInWorkingDirectory(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	yml := `
output:
  dir: ./migrated
  layout: multi
  report: false
ai:
  enabled: true
  model: glm-4
  timeout: 30s
  concurrency: 2
store:
  path: ""
discover:
  ignore: ["**/legacy/**"]
run:
  python: /usr/bin/python3.12
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path != FileName {
		t.Errorf("Path = %q", cfg.Path)
	}
	if cfg.Output.Dir != "./migrated" || cfg.Output.Layout != "multi" || cfg.Output.Report || !cfg.Output.IR {
		t.Errorf("output = %+v", cfg.Output)
	}
	if !cfg.AI.Enabled || cfg.AI.Model != "glm-4" || cfg.AI.Timeout != 30*time.Second || cfg.AI.Concurrency != 2 {
		t.Errorf("ai = %+v", cfg.AI)
	}
	if cfg.Store.Path != "" {
		t.Errorf("store.path = %q, want disabled", cfg.Store.Path)
	}
	if diff := cmp.Diff([]string{"**/legacy/**"}, cfg.Discover.Ignore); diff != "" {
		t.Errorf("ignore (-want +got):\n%s", diff)
	}
	if cfg.Run.Python != "/usr/bin/python3.12" || cfg.Run.Timeout != 120*time.Second {
		t.Errorf("run = %+v", cfg.Run)
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-fallback")
	t.Setenv("OPENAI_API_BASE", "https://fallback")
	t.Setenv("LG2JIUWEN_AI_BASE_URL", "https://primary")
	t.Setenv("LG2JIUWEN_AI_MODEL", "qwen")
	t.Setenv("LG2JIUWEN_DB", "/tmp/h.db")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AI.APIKey != "sk-fallback" || cfg.AI.BaseURL != "https://primary" || cfg.AI.Model != "qwen" {
		t.Errorf("ai = %+v", cfg.AI)
	}
	if cfg.Store.Path != "/tmp/h.db" {
		t.Errorf("store.path = %q", cfg.Store.Path)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("level = %v", cfg.Level())
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	dotenv := "OPENAI_API_KEY=sk-dotenv\nLG2JIUWEN_AI_MODEL=from-dotenv\nLG2JIUWEN_DB=\n"
	if err := os.WriteFile(filepath.Join(dir, DotEnvFile), []byte(dotenv), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LG2JIUWEN_AI_MODEL", "from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AI.APIKey != "sk-dotenv" {
		t.Errorf("api key = %q, want the .env value", cfg.AI.APIKey)
	}
	if cfg.AI.Model != "from-env" {
		t.Errorf("model = %q, process env should win over .env", cfg.AI.Model)
	}
	if cfg.Store.Path != "" {
		t.Errorf("store.path = %q, an empty .env value disables history", cfg.Store.Path)
	}
	if _, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
		t.Error(".env values leaked into the process environment")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"layout", func(c *Config) { c.Output.Layout = "tree" }},
		{"level", func(c *Config) { c.Log.Level = "loud" }},
		{"format", func(c *Config) { c.Log.Format = "xml" }},
		{"concurrency", func(c *Config) { c.AI.Concurrency = -1 }},
		{"timeout", func(c *Config) { c.Run.Timeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestResolveLayout(t *testing.T) {
	c := Default()
	if got := c.ResolveLayout(true); got != "multi" {
		t.Errorf("auto dir = %s", got)
	}
	if got := c.ResolveLayout(false); got != "single" {
		t.Errorf("auto file = %s", got)
	}
	c.Output.Layout = "Single"
	if got := c.ResolveLayout(true); got != "single" {
		t.Errorf("explicit = %s", got)
	}
}
