package artifact

import (
	"strings"
	"testing"
)

func TestBundleScriptsInlinesRelativeImports(t *testing.T) {
	files := []SourceFile{
		{Path: "main.jsx", Content: []byte("import { helper } from \"./util.js\";\nexport default function App() { return helper(); }\n")},
		{Path: "util.js", Content: []byte("export function helper() { return 42; }\n")},
	}

	out, imports, err := bundleScripts("main.jsx", files)
	if err != nil {
		t.Fatalf("bundle failed: %v", err)
	}
	if len(imports) != 0 {
		t.Fatalf("expected no external imports, got %v", imports)
	}
	text := string(out)
	if strings.Contains(text, `from "./util.js"`) {
		t.Fatalf("relative import was not inlined:\n%s", text)
	}
	// Dependency must precede the entry.
	if strings.Index(text, "function helper") > strings.Index(text, "function App") {
		t.Fatalf("dependency order is wrong:\n%s", text)
	}
}

func TestBundleScriptsCollectsExternals(t *testing.T) {
	files := []SourceFile{
		{Path: "main.jsx", Content: []byte("import React from \"react\";\nimport { render } from \"react-dom\";\nexport const x = 1;\n")},
	}

	out, imports, err := bundleScripts("main.jsx", files)
	if err != nil {
		t.Fatalf("bundle failed: %v", err)
	}
	if len(imports) != 2 || imports[0] != "react" || imports[1] != "react-dom" {
		t.Fatalf("expected sorted externals [react react-dom], got %v", imports)
	}
	if !strings.Contains(string(out), `import "react";`) {
		t.Fatalf("external import not hoisted:\n%s", out)
	}
}

func TestBundleScriptsResolvesExtensionlessImports(t *testing.T) {
	files := []SourceFile{
		{Path: "main.jsx", Content: []byte("import \"./components/button\";\nexport const y = 2;\n")},
		{Path: "components/button.jsx", Content: []byte("export const Button = null;\n")},
	}

	if _, _, err := bundleScripts("main.jsx", files); err != nil {
		t.Fatalf("extensionless import should resolve: %v", err)
	}
}

func TestBundleScriptsRejectsMissingEntry(t *testing.T) {
	if _, _, err := bundleScripts("missing.jsx", nil); err == nil {
		t.Fatalf("expected error for missing entry")
	}
}

func TestBundleScriptsRejectsUnresolvedImport(t *testing.T) {
	files := []SourceFile{
		{Path: "main.jsx", Content: []byte("import \"./nowhere.js\";\n")},
	}
	if _, _, err := bundleScripts("main.jsx", files); err == nil {
		t.Fatalf("expected error for unresolved import")
	}
}

func TestBundleScriptsDetectsCycles(t *testing.T) {
	files := []SourceFile{
		{Path: "a.js", Content: []byte("import \"./b.js\";\nexport const a = 1;\n")},
		{Path: "b.js", Content: []byte("import \"./a.js\";\nexport const b = 2;\n")},
	}
	_, _, err := bundleScripts("a.js", files)
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Fatalf("expected circular import error, got %v", err)
	}
}

func TestBundleScriptsIsDeterministic(t *testing.T) {
	files := []SourceFile{
		{Path: "main.jsx", Content: []byte("import \"zlib-wasm\";\nimport \"aardvark\";\nexport const z = 3;\n")},
	}

	first, _, err := bundleScripts("main.jsx", files)
	if err != nil {
		t.Fatalf("bundle failed: %v", err)
	}
	second, _, err := bundleScripts("main.jsx", files)
	if err != nil {
		t.Fatalf("bundle failed: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("bundling is not deterministic")
	}
	if strings.Index(string(first), `"aardvark"`) > strings.Index(string(first), `"zlib-wasm"`) {
		t.Fatalf("externals are not sorted:\n%s", first)
	}
}
