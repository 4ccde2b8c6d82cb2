package discover

import (
	"sort"
	"strings"

	"github.com/DeusData/lg2jiuwen/internal/fqn"
	"github.com/DeusData/lg2jiuwen/internal/lang"
	"github.com/DeusData/lg2jiuwen/internal/parser"
)

// Dependencies maps each file to the project files it imports. rootName is
// the project directory name; absolute imports prefixed with it
// ("react_agent.graph" inside react_agent/) resolve as project-local.
func Dependencies(contents map[string][]byte, rootName string) map[string][]string {
	moduleToFile := make(map[string]string, len(contents))
	paths := sortedKeys(contents)
	for _, p := range paths {
		mod := fqn.ModuleName(p)
		moduleToFile[mod] = p
	}

	deps := make(map[string][]string, len(contents))
	for _, p := range paths {
		deps[p] = nil
		tree, err := parser.Parse(lang.Python, contents[p])
		if err != nil {
			continue
		}
		seen := make(map[string]bool)
		for _, im := range Imports(tree.RootNode(), contents[p], p) {
			for _, cand := range im.Candidates() {
				dep, ok := lookupModule(moduleToFile, cand, rootName)
				if !ok || dep == p || seen[dep] {
					continue
				}
				seen[dep] = true
				deps[p] = append(deps[p], dep)
				break
			}
		}
		tree.Close()
		sort.Strings(deps[p])
	}
	return deps
}

func lookupModule(moduleToFile map[string]string, mod, rootName string) (string, bool) {
	if f, ok := moduleToFile[mod]; ok {
		return f, true
	}
	if rootName != "" && strings.HasPrefix(mod, rootName+".") {
		if f, ok := moduleToFile[strings.TrimPrefix(mod, rootName+".")]; ok {
			return f, true
		}
	}
	return "", false
}

// Order returns the files in dependency order: a file comes after every file
// it imports. Ties are broken lexicographically and files caught in an import
// cycle are appended in sorted order.
func Order(contents map[string][]byte, rootName string) []string {
	return TopoSort(Dependencies(contents, rootName))
}

// TopoSort orders the keys of deps with Kahn's algorithm.
func TopoSort(deps map[string][]string) []string {
	files := sortedKeys(deps)
	inDegree := make(map[string]int, len(files))
	dependents := make(map[string][]string, len(files))
	for _, f := range files {
		inDegree[f] += 0
		for _, d := range deps[f] {
			if _, ok := deps[d]; !ok {
				continue
			}
			dependents[d] = append(dependents[d], f)
			inDegree[f]++
		}
	}

	var ready []string
	for _, f := range files {
		if inDegree[f] == 0 {
			ready = append(ready, f)
		}
	}

	result := make([]string, 0, len(files))
	done := make(map[string]bool, len(files))
	for len(ready) > 0 {
		sort.Strings(ready)
		f := ready[0]
		ready = ready[1:]
		result = append(result, f)
		done[f] = true
		for _, n := range dependents[f] {
			inDegree[n]--
			if inDegree[n] == 0 {
				ready = append(ready, n)
			}
		}
	}

	if len(result) < len(files) {
		for _, f := range files {
			if !done[f] {
				result = append(result, f)
			}
		}
	}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
