package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/DeusData/lg2jiuwen/internal/store"
)

func (a *app) runsCmd() *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded migrations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := requireStore(a.cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			runs, err := st.ListRuns(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if runs == nil {
					runs = []*store.Run{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			printRuns(out, runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Max runs to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printRuns(w io.Writer, runs []*store.Run) {
	r := lipgloss.NewRenderer(w)
	header := r.NewStyle().Bold(true).Padding(0, 1)
	cell := r.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "CREATED", "AGENT", "LAYOUT", "RULES", "AI", "STATUS", "SOURCE").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	for _, run := range runs {
		t.Row(run.ID, run.CreatedAt, run.Agent, run.Layout,
			strconv.Itoa(run.RuleCount), strconv.Itoa(run.AICount), run.Status, run.SourcePath)
	}
	fmt.Fprintln(w, t.Render())
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id|latest> <path>",
		Short: "Print a generated file from history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := requireStore(a.cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			id := args[0]
			if id == "latest" {
				run, err := st.LatestRun()
				if err != nil {
					return err
				}
				id = run.ID
			}
			art, err := st.GetArtifact(id, args[1])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), art.Content)
			return err
		},
	}
}
