// Package config loads lg2jiuwen.yaml and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the working directory
// when no explicit path is given.
const FileName = "lg2jiuwen.yaml"

// DotEnvFile supplies environment overrides not set in the process
// environment. It is read from the working directory.
const DotEnvFile = ".env"

// Output controls where and how generated files are written.
type Output struct {
	Dir string `yaml:"dir"`
	// Layout is auto, single or multi. Auto picks multi for directory
	// sources and single for file sources.
	Layout string `yaml:"layout"`
	Name   string `yaml:"name"`
	Report bool   `yaml:"report"`
	IR     bool   `yaml:"ir"`
}

// AI configures escalation of constructs the rules cannot convert.
type AI struct {
	Enabled     bool          `yaml:"enabled"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	Temperature float32       `yaml:"temperature"`
}

// Store locates the run history database. An empty Path disables history.
type Store struct {
	Path string `yaml:"path"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Discover struct {
	Ignore []string `yaml:"ignore"`
}

// Run configures execution of generated programs.
type Run struct {
	Python  string        `yaml:"python"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the full tool configuration.
type Config struct {
	Output   Output   `yaml:"output"`
	AI       AI       `yaml:"ai"`
	Store    Store    `yaml:"store"`
	Log      Log      `yaml:"log"`
	Discover Discover `yaml:"discover"`
	Run      Run      `yaml:"run"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Output: Output{Dir: "./output", Layout: "auto", Report: true, IR: true},
		AI: AI{
			Model:       "gpt-4o-mini",
			Timeout:     60 * time.Second,
			Concurrency: 4,
		},
		Store: Store{Path: defaultStorePath()},
		Log:   Log{Level: "info", Format: "text"},
		Run:   Run{Python: "python3", Timeout: 120 * time.Second},
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cache", "lg2jiuwen", "history.db")
}

// Load reads the configuration at path. An empty path falls back to
// lg2jiuwen.yaml in the working directory, and a missing fallback file
// yields the defaults. Environment overrides, falling back to .env, are
// applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = FileName
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		cfg.Path = path
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("config: %w", err)
	}
	dotenv, err := godotenv.Read(DotEnvFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config %s: %w", DotEnvFile, err)
	}
	cfg.applyEnv(envLookup(dotenv))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	firstEnv := func(keys ...string) string {
		for _, k := range keys {
			if v, _ := lookup(k); v != "" {
				return v
			}
		}
		return ""
	}
	if v := firstEnv("LG2JIUWEN_AI_API_KEY", "OPENAI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := firstEnv("LG2JIUWEN_AI_BASE_URL", "OPENAI_API_BASE"); v != "" {
		c.AI.BaseURL = v
	}
	if v := firstEnv("LG2JIUWEN_AI_MODEL"); v != "" {
		c.AI.Model = v
	}
	if v, ok := lookup("LG2JIUWEN_DB"); ok {
		c.Store.Path = v
	}
	if v := firstEnv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// envLookup consults the process environment first, then dotenv.
func envLookup(dotenv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

// Validate checks enumerated fields and numeric bounds.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Output.Layout) {
	case "", "auto", "single", "multi":
	default:
		return fmt.Errorf("config: output.layout %q: want auto, single or multi", c.Output.Layout)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log.format %q: want text or json", c.Log.Format)
	}
	if c.AI.Concurrency < 0 {
		return fmt.Errorf("config: ai.concurrency must not be negative, got %d", c.AI.Concurrency)
	}
	if c.AI.Timeout < 0 || c.Run.Timeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels. Numeric
// levels are accepted as well.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return slog.Level(n), nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() slog.Level {
	l, err := ParseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// ResolveLayout turns an auto layout into single or multi.
func (c *Config) ResolveLayout(multiFileSource bool) string {
	switch l := strings.ToLower(c.Output.Layout); l {
	case "single", "multi":
		return l
	}
	if multiFileSource {
		return "multi"
	}
	return "single"
}
