package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/lg2jiuwen/internal/store"
)

// maxLineWidth caps each returned line.
const maxLineWidth = 500

func (s *Server) handleGetGeneratedFile(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	path := getStringArg(args, "path")
	if path == "" {
		return errResult("path is required"), nil
	}
	run, err := s.resolveRun(getStringArg(args, "run_id"))
	if err != nil {
		return errResult(fmt.Sprintf("resolve run: %v", err)), nil
	}
	art, err := s.store.GetArtifact(run.ID, path)
	if err != nil {
		return errResult(err.Error()), nil
	}

	startLine := getIntArg(args, "start_line", 0)
	endLine := getIntArg(args, "end_line", 0)
	content, total := sliceLines(art.Content, startLine, endLine)

	return jsonResult(map[string]any{
		"run_id":      run.ID,
		"path":        art.Path,
		"digest":      art.Digest,
		"total_lines": total,
		"content":     content,
	}), nil
}

// sliceLines returns lines start..end (1-based, inclusive; zero means
// unbounded) of text, each prefixed with its number, and the line count.
func sliceLines(text string, start, end int) (string, int) {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if text == "" {
		lines = nil
	}
	var b strings.Builder
	for i, line := range lines {
		n := i + 1
		if start > 0 && n < start {
			continue
		}
		if end > 0 && n > end {
			break
		}
		if len(line) > maxLineWidth {
			line = line[:maxLineWidth] + "..."
		}
		fmt.Fprintf(&b, "%4d | %s\n", n, line)
	}
	return b.String(), len(lines)
}

func (s *Server) handleListGeneratedFiles(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	run, err := s.resolveRun(getStringArg(args, "run_id"))
	if err != nil {
		return errResult(fmt.Sprintf("resolve run: %v", err)), nil
	}
	arts, err := s.store.ListArtifacts(run.ID)
	if err != nil {
		return errResult(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"run_id":     run.ID,
		"agent":      run.Agent,
		"output_dir": run.OutputDir,
		"files":      arts,
	}), nil
}

func (s *Server) handleListRuns(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	if s.store == nil {
		return errResult(errNoHistory.Error()), nil
	}
	runs, err := s.store.ListRuns(getIntArg(args, "limit", 20))
	if err != nil {
		return errResult(fmt.Sprintf("list runs: %v", err)), nil
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	return jsonResult(map[string]any{"runs": runs}), nil
}
