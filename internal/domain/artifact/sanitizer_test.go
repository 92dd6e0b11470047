package artifact

import (
	"bytes"
	"strings"
	"testing"
)

func TestSanitizeHTMLStripsScripts(t *testing.T) {
	input := []byte(`<html><head><script src="evil.js"></script></head><body><h1>hi</h1><script>alert(1)</script></body></html>`)

	out, err := SanitizeHTML(input)
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	lowered := strings.ToLower(string(out))
	if strings.Contains(lowered, "<script") {
		t.Fatalf("script survived sanitization: %s", out)
	}
	if !strings.Contains(lowered, "<h1>hi</h1>") {
		t.Fatalf("benign markup was lost: %s", out)
	}
}

func TestSanitizeHTMLStripsDisallowedElements(t *testing.T) {
	tests := []struct {
		name  string
		input string
		gone  string
	}{
		{"iframe", `<p>ok</p><iframe src="https://evil.test"></iframe>`, "<iframe"},
		{"object", `<object data="x.swf">fallback</object><p>ok</p>`, "<object"},
		{"embed", `<embed src="x.swf"><p>ok</p>`, "<embed"},
		{"base", `<base href="https://evil.test/"><p>ok</p>`, "<base"},
		{"form", `<form action="/steal"><input name="pw"></form><p>ok</p>`, "<form"},
		{"link", `<link rel="stylesheet" href="https://evil.test/x.css"><p>ok</p>`, "<link"},
		{"meta refresh", `<meta http-equiv="refresh" content="0;url=https://evil.test"><p>ok</p>`, "http-equiv"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := SanitizeHTML([]byte(tc.input))
			if err != nil {
				t.Fatalf("sanitize failed: %v", err)
			}
			if strings.Contains(strings.ToLower(string(out)), tc.gone) {
				t.Fatalf("%s survived sanitization: %s", tc.gone, out)
			}
			if !strings.Contains(string(out), "<p>ok</p>") {
				t.Fatalf("benign markup was lost: %s", out)
			}
		})
	}
}

func TestSanitizeHTMLRemovesInlineHandlers(t *testing.T) {
	input := []byte(`<div onclick="steal()" onmouseover='x()'>content</div>`)

	out, err := SanitizeHTML(input)
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	if strings.Contains(string(out), "onclick") || strings.Contains(string(out), "onmouseover") {
		t.Fatalf("inline handler survived: %s", out)
	}
	if !strings.Contains(string(out), "content") {
		t.Fatalf("element content was lost: %s", out)
	}
}

func TestSanitizeHTMLRemovesUnquotedHandlers(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no space before attribute", `<img src="x"onerror=alert(1)>`},
		{"slash separated attribute", `<img/onerror=alert(1) src=x>`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := SanitizeHTML([]byte(tc.input))
			if err != nil {
				t.Fatalf("sanitize failed: %v", err)
			}
			if strings.Contains(strings.ToLower(string(out)), "onerror") {
				t.Fatalf("handler survived: %s", out)
			}
		})
	}
}

func TestSanitizeHTMLNeutralizesScriptURLs(t *testing.T) {
	input := []byte(`<a href="javascript:alert(1)">click</a>`)

	out, err := SanitizeHTML(input)
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	if strings.Contains(strings.ToLower(string(out)), "javascript:") {
		t.Fatalf("javascript URL survived: %s", out)
	}
}

func TestSanitizeHTMLIsIdempotent(t *testing.T) {
	input := []byte(`<html><body><script>x()</script><div onclick="y()">hello</div><a href="javascript:z()">go</a></body></html>`)

	once, err := SanitizeHTML(input)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	twice, err := SanitizeHTML(once)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if !bytes.Equal(once, twice) {
		t.Fatalf("sanitization is not idempotent:\nfirst:  %s\nsecond: %s", once, twice)
	}
}
