package discover

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/DeusData/lg2jiuwen/internal/lang"
)

// IGNORE_PATTERNS are directory names to skip during discovery.
var IGNORE_PATTERNS = map[string]bool{
	".cache": true, ".eggs": true, ".git": true, ".hg": true,
	".idea": true, ".mypy_cache": true, ".nox": true,
	".pytest_cache": true, ".ruff_cache": true, ".svn": true,
	".tox": true, ".venv": true, ".vscode": true,
	"__pycache__": true, "build": true, "dist": true, "env": true,
	"htmlcov": true, "node_modules": true, "site-packages": true,
	"venv": true,
}

// IGNORE_SUFFIXES are file suffixes to skip.
var IGNORE_SUFFIXES = map[string]bool{
	".tmp": true, "~": true, ".pyc": true, ".pyo": true, ".so": true,
}

// FileInfo represents a discovered source file.
type FileInfo struct {
	Path     string        // absolute path
	RelPath  string        // relative to project root, slash separated
	Language lang.Language // detected language
}

// Options configures file discovery.
type Options struct {
	// Ignore holds extra doublestar patterns matched against directory names
	// and slash-separated relative paths.
	Ignore []string
	// IgnoreFile is a path to a .lg2jiuwenignore file (optional).
	IgnoreFile string
}

// Project describes the migration input: a single file or a directory tree.
type Project struct {
	Root        string
	IsMultiFile bool
	Files       []FileInfo
}

// shouldSkip returns true if the path matches an ignore pattern.
func shouldSkip(name, rel string, extraIgnore []string) bool {
	for _, pattern := range extraIgnore {
		if matched, _ := doublestar.Match(pattern, name); matched {
			return true
		}
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// Detect classifies path as a single file or a project directory and
// discovers its source files.
func Detect(ctx context.Context, path string, opts *Options) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("source path: %w", err)
	}
	if !info.IsDir() {
		if _, ok := lang.LanguageForExtension(filepath.Ext(abs)); !ok {
			return nil, fmt.Errorf("unsupported file type: %s", path)
		}
		return &Project{
			Root: filepath.Dir(abs),
			Files: []FileInfo{{
				Path:     abs,
				RelPath:  filepath.Base(abs),
				Language: lang.Python,
			}},
		}, nil
	}

	files, err := Discover(ctx, abs, opts)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no python files in %s", path)
	}
	return &Project{Root: abs, IsMultiFile: true, Files: files}, nil
}

// Discover walks a directory and returns all source files sorted by RelPath.
func Discover(ctx context.Context, repoPath string, opts *Options) ([]FileInfo, error) {
	repoPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}

	// Check cancellation before starting walk
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var extraIgnore []string
	if opts != nil {
		extraIgnore = append(extraIgnore, opts.Ignore...)
	}
	ignPath := filepath.Join(repoPath, ".lg2jiuwenignore")
	if opts != nil && opts.IgnoreFile != "" {
		ignPath = opts.IgnoreFile
	}
	if patterns, err := loadIgnoreFile(ignPath); err == nil {
		extraIgnore = append(extraIgnore, patterns...)
	}

	var files []FileInfo

	err = filepath.Walk(repoPath, func(path string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			return filepath.SkipDir
		}

		rel, _ := filepath.Rel(repoPath, path)
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if rel == "." {
				return nil
			}
			if IGNORE_PATTERNS[info.Name()] || shouldSkip(info.Name(), rel, extraIgnore) {
				return filepath.SkipDir
			}
			return nil
		}

		for suffix := range IGNORE_SUFFIXES {
			if strings.HasSuffix(path, suffix) {
				return nil
			}
		}
		if shouldSkip(info.Name(), rel, extraIgnore) {
			return nil
		}

		l, ok := lang.LanguageForExtension(filepath.Ext(path))
		if !ok {
			return nil
		}
		files = append(files, FileInfo{Path: path, RelPath: rel, Language: l})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func loadIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns, scanner.Err()
}
