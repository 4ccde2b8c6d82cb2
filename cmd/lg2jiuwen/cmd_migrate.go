package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/DeusData/lg2jiuwen/internal/config"
	"github.com/DeusData/lg2jiuwen/internal/pipeline"
	"github.com/DeusData/lg2jiuwen/internal/store"
)

// migrateFlags are shared by migrate and watch.
type migrateFlags struct {
	output    string
	name      string
	layout    string
	ai        bool
	noReport  bool
	noIR      bool
	noHistory bool
}

func (f *migrateFlags) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&f.output, "output", "o", "", "Output directory (default from config: ./output)")
	fs.StringVarP(&f.name, "name", "n", "", "Agent name override")
	fs.StringVar(&f.layout, "layout", "", "Output layout: auto, single or multi (default from config)")
	fs.BoolVar(&f.ai, "ai", false, "Escalate unconvertible constructs to the language model")
	fs.BoolVar(&f.noReport, "no-report", false, "Do not write the migration report")
	fs.BoolVar(&f.noIR, "no-ir", false, "Do not write the IR dump")
	fs.BoolVar(&f.noHistory, "no-history", false, "Do not record the run in history")
}

// apply returns a copy of base with the flags that were set on fs.
func (f *migrateFlags) apply(base *config.Config, fs *pflag.FlagSet) (*config.Config, error) {
	cfg := *base
	if f.output != "" {
		cfg.Output.Dir = f.output
	}
	if f.name != "" {
		cfg.Output.Name = f.name
	}
	if f.layout != "" {
		cfg.Output.Layout = f.layout
	}
	if fs.Changed("ai") {
		cfg.AI.Enabled = f.ai
	}
	if f.noReport {
		cfg.Output.Report = false
	}
	if f.noIR {
		cfg.Output.IR = false
	}
	if f.noHistory {
		cfg.Store.Path = ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (a *app) migrateCmd() *cobra.Command {
	var flags migrateFlags
	cmd := &cobra.Command{
		Use:   "migrate <source>",
		Short: "Migrate a LangGraph file or project directory",
		Long: `Migrate a LangGraph agent and write the openJiuwen program to the output
directory, together with {agent}_ir.json and {agent}_report.md.

Usage:
  lg2jiuwen migrate weather_agent.py -o out/
  lg2jiuwen migrate ./react_agent --layout multi --ai`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.apply(a.cfg, cmd.Flags())
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}
			res, err := migrate(cmd, cfg, st, args[0])
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	flags.bind(cmd.Flags())
	return cmd
}

func migrate(cmd *cobra.Command, cfg *config.Config, st *store.Store, source string) (*pipeline.Result, error) {
	res, err := pipeline.New(cmd.Context(), cfg, client(cfg), st).Run(source)
	if err != nil {
		return nil, fmt.Errorf("migrate %s: %w", source, err)
	}
	return res, nil
}

func printResult(w io.Writer, res *pipeline.Result) {
	r := lipgloss.NewRenderer(w)
	head := r.NewStyle().Bold(true)
	ok := r.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	warn := r.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	dim := r.NewStyle().Foreground(lipgloss.Color("#999999"))

	fmt.Fprintf(w, "%s %s (%s layout) -> %s\n", ok.Render("Migrated"), res.Agent, res.Layout, res.OutputDir)
	if res.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", res.RunID)
	}
	fmt.Fprintf(w, "Converted: %d by rules, %d by AI\n", res.RuleCount, res.AICount)

	unchanged := make(map[string]bool, len(res.Unchanged))
	for _, p := range res.Unchanged {
		unchanged[p] = true
	}
	fmt.Fprintln(w, head.Render("Files:"))
	for _, p := range res.Files {
		if unchanged[p] {
			fmt.Fprintf(w, "  %s %s\n", p, dim.Render("(unchanged)"))
			continue
		}
		fmt.Fprintf(w, "  %s\n", p)
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintln(w, head.Render("Warnings:"))
		for _, msg := range res.Warnings {
			fmt.Fprintf(w, "  - %s\n", warn.Render(msg))
		}
	}
	fmt.Fprintln(w, head.Render("Manual review:"))
	for _, task := range res.ManualTasks {
		fmt.Fprintf(w, "  - [ ] %s\n", task)
	}
}
