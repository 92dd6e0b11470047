package artifact

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
)

// SourceFile is one file handed to the compiler.
type SourceFile struct {
	Path    string
	Content []byte
}

var importPattern = regexp.MustCompile(`(?m)^\s*import\s+(?:[^'"]*?\s+from\s+)?['"]([^'"]+)['"];?\s*$`)

// bundleScripts flattens the capsule's script sources into a single ES
// module. Relative imports are resolved and inlined in dependency order;
// bare specifiers are collected as external imports and hoisted so the frame
// loader can build an import map for them.
func bundleScripts(entry string, files []SourceFile) ([]byte, []string, error) {
	byPath := make(map[string]SourceFile, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}
	if _, ok := byPath[entry]; !ok {
		return nil, nil, fmt.Errorf("entry %s not found in bundle", entry)
	}

	var (
		ordered   []string
		visiting  = map[string]bool{}
		visited   = map[string]bool{}
		externals = map[string]struct{}{}
	)

	var visit func(p string) error
	visit = func(p string) error {
		if visited[p] {
			return nil
		}
		if visiting[p] {
			return fmt.Errorf("circular import through %s", p)
		}
		visiting[p] = true

		file, ok := byPath[p]
		if !ok {
			return fmt.Errorf("import %s does not resolve to a bundle file", p)
		}
		for _, match := range importPattern.FindAllStringSubmatch(string(file.Content), -1) {
			specifier := match[1]
			if isRelative(specifier) {
				resolved, err := resolveRelative(p, specifier, byPath)
				if err != nil {
					return err
				}
				if err := visit(resolved); err != nil {
					return err
				}
			} else {
				externals[specifier] = struct{}{}
			}
		}

		visiting[p] = false
		visited[p] = true
		ordered = append(ordered, p)
		return nil
	}

	if err := visit(entry); err != nil {
		return nil, nil, err
	}

	var out strings.Builder
	imports := sortedKeys(externals)
	for _, specifier := range imports {
		fmt.Fprintf(&out, "import %q;\n", specifier)
	}
	if len(imports) > 0 {
		out.WriteString("\n")
	}
	for _, p := range ordered {
		fmt.Fprintf(&out, "// --- %s\n", p)
		out.WriteString(stripImports(string(byPath[p].Content)))
		out.WriteString("\n")
	}
	return []byte(out.String()), imports, nil
}

func stripImports(source string) string {
	return importPattern.ReplaceAllString(source, "")
}

func isRelative(specifier string) bool {
	return strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") || strings.HasPrefix(specifier, "/")
}

// resolveRelative maps an import specifier to a bundle path, trying the
// usual extension-less forms.
func resolveRelative(from, specifier string, byPath map[string]SourceFile) (string, error) {
	base := path.Join(path.Dir(from), specifier)
	base = strings.TrimPrefix(base, "/")
	candidates := []string{base, base + ".js", base + ".jsx", base + ".mjs", path.Join(base, "index.js")}
	for _, candidate := range candidates {
		if _, ok := byPath[candidate]; ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("import %q in %s does not resolve to a bundle file", specifier, from)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
