package main

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/DeusData/lg2jiuwen/internal/logging"
	"github.com/DeusData/lg2jiuwen/internal/tools"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Long: `Starts an MCP server over stdin/stdout exposing the migrate,
list_runs, list_generated_files, get_generated_file and run_generated_file
tools. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(a.cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}
			srv := tools.NewServer(a.cfg, st, client(a.cfg))
			logging.New("serve").Info("serve.start", "history", st != nil, "ai", a.cfg.AI.Enabled)
			return srv.MCPServer().Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}
