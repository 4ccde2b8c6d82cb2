package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/lg2jiuwen/internal/store"
)

// maxOutput caps the captured stdout and stderr.
const maxOutput = 64 * 1024

func (s *Server) handleRunGeneratedFile(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
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

	path := getStringArg(args, "path")
	if path == "" {
		path = entryPoint(run, arts)
		if path == "" {
			return errResult(fmt.Sprintf("run %s has no Python entry point", run.ID)), nil
		}
	}
	if !filepath.IsLocal(filepath.FromSlash(path)) {
		return errResult(fmt.Sprintf("path must be relative to the output dir: %s", path)), nil
	}

	restored, err := s.restore(run, arts)
	if err != nil {
		return errResult(fmt.Sprintf("restore: %v", err)), nil
	}

	out, err := s.execute(ctx, run.OutputDir, path)
	if err != nil {
		return errResult(err.Error()), nil
	}
	out["run_id"] = run.ID
	out["path"] = path
	out["restored"] = restored
	return jsonResult(out), nil
}

// entryPoint picks the file that starts the generated program.
func entryPoint(run *store.Run, arts []store.Artifact) string {
	suffix := "_openjiuwen.py"
	if run.Layout == "multi" {
		suffix = "/main.py"
	}
	var fallback string
	for _, a := range arts {
		if strings.HasSuffix(a.Path, suffix) {
			return a.Path
		}
		if fallback == "" && strings.HasSuffix(a.Path, ".py") {
			fallback = a.Path
		}
	}
	return fallback
}

// restore writes the run's artifacts that are missing from its output
// directory and returns their paths.
func (s *Server) restore(run *store.Run, arts []store.Artifact) ([]string, error) {
	restored := []string{}
	for _, a := range arts {
		rel := filepath.FromSlash(a.Path)
		if !filepath.IsLocal(rel) {
			continue
		}
		dst := filepath.Join(run.OutputDir, rel)
		if _, err := os.Stat(dst); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		full, err := s.store.GetArtifact(run.ID, a.Path)
		if err != nil {
			return restored, err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return restored, err
		}
		if err := os.WriteFile(dst, []byte(full.Content), 0o644); err != nil {
			return restored, err
		}
		restored = append(restored, a.Path)
	}
	if len(restored) > 0 {
		s.logger.Info("tools.restore", "run", run.ID, "files", len(restored))
	}
	return restored, nil
}

func (s *Server) execute(ctx context.Context, dir, path string) (map[string]any, error) {
	if s.cfg.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Run.Timeout)
		defer cancel()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.cfg.Run.Python, filepath.FromSlash(path))
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	timedOut := false
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		timedOut = true
		exitCode = -1
	case errors.As(err, &exitErr):
		exitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("run %s: %w", s.cfg.Run.Python, err)
	}
	s.logger.Info("tools.run", "path", path, "exit", exitCode, "timed_out", timedOut, "elapsed", elapsed)

	return map[string]any{
		"exit_code":  exitCode,
		"timed_out":  timedOut,
		"stdout":     capOutput(stdout.String()),
		"stderr":     capOutput(stderr.String()),
		"elapsed_ms": elapsed.Milliseconds(),
	}, nil
}

// capOutput keeps the tail of s, where errors usually are.
func capOutput(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return "...(truncated)\n" + s[len(s)-maxOutput:]
}
