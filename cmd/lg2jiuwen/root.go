package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DeusData/lg2jiuwen/internal/config"
	"github.com/DeusData/lg2jiuwen/internal/escalate"
	"github.com/DeusData/lg2jiuwen/internal/logging"
	"github.com/DeusData/lg2jiuwen/internal/report"
	"github.com/DeusData/lg2jiuwen/internal/store"
)

// app holds the state shared by all subcommands.
type app struct {
	configPath string
	verbose    bool
	logFormat  string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "lg2jiuwen",
		Short: "Migrate LangGraph agents to openJiuwen workflows",
		Long: `lg2jiuwen reads a LangGraph agent (one Python file or a project
directory), converts its state, nodes, edges, tools and model setup, and
writes an equivalent openJiuwen workflow program with a migration report.

Constructs the rules cannot convert are sent to a language model when AI
escalation is enabled, and become annotated placeholders otherwise.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (default: ./"+config.FileName+" when present)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Debug logging")
	pf.StringVar(&a.logFormat, "log-format", "", "Log format: text or json (default from config)")

	root.AddCommand(
		a.migrateCmd(),
		a.watchCmd(),
		a.serveCmd(),
		a.runsCmd(),
		a.showCmd(),
		astCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logging.Init(cfg.Level(), cfg.Log.Format, cmd.ErrOrStderr())
	report.Version = version
	a.cfg = cfg
	return nil
}

// client returns the escalation client for cfg, or nil when AI is off.
func client(cfg *config.Config) escalate.Client {
	if !cfg.AI.Enabled {
		return nil
	}
	return escalate.NewOpenAI(escalate.OpenAIConfig{
		APIKey:      cfg.AI.APIKey,
		BaseURL:     cfg.AI.BaseURL,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
}

// openStore opens the run history. It returns nil when history is
// disabled in the config.
func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Store.Path == "" {
		return nil, nil
	}
	st, err := store.OpenPath(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return st, nil
}

// requireStore is openStore for commands that read history.
func requireStore(cfg *config.Config) (*store.Store, error) {
	st, err := openStore(cfg)
	if err == nil && st == nil {
		err = fmt.Errorf("run history is disabled (store.path is empty)")
	}
	return st, err
}
