package tools

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/lg2jiuwen/internal/pipeline"
)

func (s *Server) handleMigrate(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	source := getStringArg(args, "source_path")
	if source == "" {
		return errResult("source_path is required"), nil
	}
	absPath, err := filepath.Abs(source)
	if err != nil {
		return errResult(fmt.Sprintf("invalid path: %v", err)), nil
	}

	cfg := *s.cfg
	if dir := getStringArg(args, "output_dir"); dir != "" {
		cfg.Output.Dir = dir
	}
	if layout := getStringArg(args, "layout"); layout != "" {
		cfg.Output.Layout = layout
	}
	if name := getStringArg(args, "name"); name != "" {
		cfg.Output.Name = name
	}
	if ai, ok := getBoolArg(args, "ai"); ok {
		cfg.AI.Enabled = ai
	}
	if err := cfg.Validate(); err != nil {
		return errResult(err.Error()), nil
	}

	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()

	res, err := pipeline.New(ctx, &cfg, s.client, s.store).Run(absPath)
	if err != nil {
		s.logger.Warn("tools.migrate", "source", absPath, "err", err)
		return errResult(fmt.Sprintf("migration failed: %v", err)), nil
	}
	return jsonResult(res), nil
}
