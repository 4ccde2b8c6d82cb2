package extract

import (
	"strings"

	"github.com/DeusData/lg2jiuwen/internal/discover"
)

// frameworkModules are top-level packages of the source framework and its
// typing helpers. Their imports are not carried into generated code.
var frameworkModules = map[string]bool{
	"langgraph": true, "langchain": true, "langchain_core": true, "langchain_openai": true,
	"langchain_community": true, "langchain_anthropic": true, "langchain_ollama": true,
	"typing": true, "typing_extensions": true, "pydantic": true, "__future__": true,
}

// stdlibModules lists the standard library packages calls may go through
// without being flagged as third-party.
var stdlibModules = map[string]bool{
	"abc": true, "argparse": true, "ast": true, "asyncio": true, "base64": true, "bisect": true,
	"collections": true, "contextlib": true, "copy": true, "csv": true, "dataclasses": true,
	"datetime": true, "decimal": true, "enum": true, "functools": true, "glob": true,
	"hashlib": true, "heapq": true, "html": true, "http": true, "inspect": true, "io": true,
	"itertools": true, "json": true, "logging": true, "math": true, "operator": true, "os": true,
	"pathlib": true, "pickle": true, "pprint": true, "queue": true, "random": true, "re": true,
	"shutil": true, "statistics": true, "string": true, "subprocess": true, "sys": true,
	"tempfile": true, "textwrap": true, "threading": true, "time": true, "traceback": true,
	"types": true, "unicodedata": true, "urllib": true, "uuid": true, "warnings": true,
	"zoneinfo": true,
}

func topModule(mod string) string {
	top, _, _ := strings.Cut(mod, ".")
	return top
}

// isFramework reports whether an import belongs to the source framework.
func isFramework(im discover.Import) bool {
	return frameworkModules[topModule(im.Module)]
}

// projectModules is the set of dotted module names defined by the project.
type projectModules map[string]bool

// local reports whether an import refers to a project module. rootName is
// the project directory name, which absolute imports may start with.
func (pm projectModules) local(im discover.Import, rootName string) bool {
	if strings.HasPrefix(im.Text, "from .") {
		return true
	}
	mod := pm.strip(im.Module, rootName)
	if pm[mod] {
		return true
	}
	if im.Name != "" && pm[mod+"."+im.Name] {
		return true
	}
	// A package folder without __init__.py still hosts project modules.
	for m := range pm {
		if strings.HasPrefix(m, mod+".") {
			return true
		}
	}
	return false
}

// strip removes the project root package prefix from a module name.
func (pm projectModules) strip(mod, rootName string) string {
	if rootName != "" && strings.HasPrefix(mod, rootName+".") && !pm[mod] {
		return strings.TrimPrefix(mod, rootName+".")
	}
	return mod
}

// importMap maps the local names bound by a file's imports to qualified
// project names. Only project-local imports are included.
func (pm projectModules) importMap(imports []discover.Import, rootName string) map[string]string {
	out := make(map[string]string)
	for _, im := range imports {
		if !pm.local(im, rootName) || im.Name == "*" {
			continue
		}
		mod := pm.strip(im.Module, rootName)
		if im.Name == "" {
			out[im.Local] = mod
			continue
		}
		out[im.Local] = mod + "." + im.Name
	}
	return out
}

// foreign maps local names bound to third-party modules to the module name.
func (pm projectModules) foreign(imports []discover.Import, rootName string) map[string]string {
	out := make(map[string]string)
	for _, im := range imports {
		if im.Name == "*" || isFramework(im) || stdlibModules[topModule(im.Module)] || pm.local(im, rootName) {
			continue
		}
		out[im.Local] = im.Module
	}
	return out
}

// carried reports whether an import statement is kept in generated code.
func (pm projectModules) carried(im discover.Import, rootName string) bool {
	return !isFramework(im) && !pm.local(im, rootName)
}
