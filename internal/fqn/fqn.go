package fqn

import (
	"path/filepath"
	"strings"
)

// ModuleName returns the dotted Python module name for a file path relative
// to the project root.
// Examples:
//   - react_agent/nodes.py -> react_agent.nodes
//   - react_agent/tools/__init__.py -> react_agent.tools
func ModuleName(relPath string) string {
	relPath = strings.TrimSuffix(relPath, filepath.Ext(relPath))
	parts := strings.Split(filepath.ToSlash(relPath), "/")

	// For Python __init__.py, drop the __init__ part
	if len(parts) > 0 && parts[len(parts)-1] == "__init__" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ".")
}

// PackageOf returns the package containing relPath: the module name itself
// for __init__.py, otherwise the parent folder.
func PackageOf(relPath string) string {
	if filepath.Base(relPath) == "__init__.py" {
		return ModuleName(relPath)
	}
	return FolderName(filepath.Dir(relPath))
}

// FolderName returns the dotted name for a folder.
func FolderName(relDir string) string {
	relDir = filepath.ToSlash(relDir)
	if relDir == "." || relDir == "" {
		return ""
	}
	return strings.ReplaceAll(relDir, "/", ".")
}

// ResolveRelative resolves a relative import such as "." or "..utils"
// against the importing file.
func ResolveRelative(modulePath, relPath string) string {
	dots := 0
	for _, ch := range modulePath {
		if ch != '.' {
			break
		}
		dots++
	}
	remainder := strings.TrimLeft(modulePath, ".")

	base := PackageOf(relPath)
	for i := 1; i < dots; i++ {
		if idx := strings.LastIndex(base, "."); idx >= 0 {
			base = base[:idx]
		} else {
			base = ""
		}
	}
	switch {
	case base == "":
		return remainder
	case remainder == "":
		return base
	default:
		return base + "." + remainder
	}
}
