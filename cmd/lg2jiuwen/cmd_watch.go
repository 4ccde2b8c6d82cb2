package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeusData/lg2jiuwen/internal/watcher"
)

func (a *app) watchCmd() *cobra.Command {
	var flags migrateFlags
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <source>",
		Short: "Migrate, then migrate again whenever the sources change",
		Args:  cobra.ExactArgs(1),
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

			out := cmd.OutOrStdout()
			run := func(context.Context) error {
				res, err := migrate(cmd, cfg, st, args[0])
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
					return err
				}
				printResult(out, res)
				return nil
			}
			// A failing first run is reported and the watch goes on.
			_ = run(cmd.Context())

			fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", args[0])
			w := watcher.New(args[0], run, watcher.Options{
				Debounce: debounce,
				Ignore:   cfg.Discover.Ignore,
			})
			return w.Run(cmd.Context())
		},
	}
	flags.bind(cmd.Flags())
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "Wait this long for further changes before migrating")
	return cmd
}
