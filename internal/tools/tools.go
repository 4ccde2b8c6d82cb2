// Package tools exposes migrations and their history as MCP tools.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/lg2jiuwen/internal/config"
	"github.com/DeusData/lg2jiuwen/internal/escalate"
	"github.com/DeusData/lg2jiuwen/internal/logging"
	"github.com/DeusData/lg2jiuwen/internal/report"
	"github.com/DeusData/lg2jiuwen/internal/store"
)

// Server wraps the MCP server with tool handlers.
type Server struct {
	mcp    *mcp.Server
	cfg    *config.Config
	store  *store.Store
	client escalate.Client
	logger *slog.Logger

	// migrateMu serializes migrations so that two calls never write the
	// same output directory at once.
	migrateMu sync.Mutex
}

// NewServer creates a new MCP server with all tools registered. client is
// used for escalation when AI is enabled and may be nil.
func NewServer(cfg *config.Config, s *store.Store, client escalate.Client) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	srv := &Server{
		cfg:    cfg,
		store:  s,
		client: client,
		logger: logging.New("tools"),
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    "lg2jiuwen",
				Version: report.Version,
			},
			nil,
		),
	}
	srv.registerTools()
	return srv
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	s.mcp.AddTool(&mcp.Tool{
		Name:        "migrate",
		Description: "Migrate a LangGraph agent (a Python file or a project directory) to an openJiuwen workflow program. Writes the generated files, the IR dump and the migration report to the output directory and records the run in history. Returns the run summary with warnings and manual review tasks.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"source_path": {
					"type": "string",
					"description": "Path to the LangGraph Python file or project directory"
				},
				"output_dir": {
					"type": "string",
					"description": "Directory for the generated files (default from configuration)"
				},
				"layout": {
					"type": "string",
					"description": "Output shape: 'single' file, 'multi' file package, or 'auto' to follow the source",
					"enum": ["auto", "single", "multi"]
				},
				"name": {
					"type": "string",
					"description": "Agent name override"
				},
				"ai": {
					"type": "boolean",
					"description": "Use the language model for constructs the rules cannot convert"
				}
			},
			"required": ["source_path"]
		}`),
	}, s.handleMigrate)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_generated_file",
		Description: "Return the content of one generated file from a recorded run. Supports line range selection.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"run_id": {
					"type": "string",
					"description": "Run identifier (default: the latest run)"
				},
				"path": {
					"type": "string",
					"description": "File path relative to the run's output directory (e.g. 'weather_openjiuwen.py')"
				},
				"start_line": {
					"type": "integer",
					"description": "Start reading from this line (1-based, optional)"
				},
				"end_line": {
					"type": "integer",
					"description": "Stop reading at this line (inclusive, optional)"
				}
			},
			"required": ["path"]
		}`),
	}, s.handleGetGeneratedFile)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "list_generated_files",
		Description: "List the files generated by a run with their digests and sizes.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"run_id": {
					"type": "string",
					"description": "Run identifier (default: the latest run)"
				}
			}
		}`),
	}, s.handleListGeneratedFiles)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "run_generated_file",
		Description: "Execute a generated Python file with the configured interpreter and return its exit code, stdout and stderr. Files missing from the output directory are restored from history first. Defaults to the program entry point.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"run_id": {
					"type": "string",
					"description": "Run identifier (default: the latest run)"
				},
				"path": {
					"type": "string",
					"description": "File to execute, relative to the output directory (default: the entry point)"
				}
			}
		}`),
	}, s.handleRunGeneratedFile)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "list_runs",
		Description: "List recorded migrations, newest first, with agent name, layout, conversion counts and status.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {
					"type": "integer",
					"description": "Max runs (default 20)"
				}
			}
		}`),
	}, s.handleListRuns)
}

// jsonResult marshals data to JSON and returns as tool result.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

// errResult returns a tool result indicating an error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

// getStringArg extracts a string argument from parsed args.
func getStringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// getIntArg extracts an integer argument with a default value.
func getIntArg(args map[string]any, key string, defaultVal int) int {
	f, ok := args[key].(float64) // JSON numbers decode as float64
	if !ok {
		return defaultVal
	}
	return int(f)
}

// getBoolArg extracts a boolean argument and whether it was present.
func getBoolArg(args map[string]any, key string) (value, ok bool) {
	value, ok = args[key].(bool)
	return value, ok
}

var errNoHistory = errors.New("run history is disabled")

// resolveRun returns the run with the given id, or the latest run when id
// is empty.
func (s *Server) resolveRun(id string) (*store.Run, error) {
	if s.store == nil {
		return nil, errNoHistory
	}
	if id == "" {
		return s.store.LatestRun()
	}
	return s.store.GetRun(id)
}
