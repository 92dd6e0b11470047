package capsule_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"capsule-server/services/capsule-api/internal/domain/capsule"
)

func TestParseManifestAcceptsValidInput(t *testing.T) {
	raw := json.RawMessage(`{"name":"demo","entry":"index.html","runner":"html","description":"a demo"}`)

	manifest, err := capsule.ParseManifest(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if manifest.Name != "demo" || manifest.Entry != "index.html" || manifest.Runner != "html" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
}

func TestParseManifestRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ``},
		{"malformed json", `{"name":`},
		{"unknown field", `{"name":"x","entry":"a.html","runner":"html","surprise":true}`},
		{"missing name", `{"entry":"a.html","runner":"html"}`},
		{"missing entry", `{"name":"x","runner":"html"}`},
		{"unknown runner", `{"name":"x","entry":"a.py","runner":"python"}`},
		{"absolute entry", `{"name":"x","entry":"/etc/passwd","runner":"html"}`},
		{"traversal entry", `{"name":"x","entry":"../../secret.html","runner":"html"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := capsule.ParseManifest(json.RawMessage(tc.raw)); err == nil {
				t.Fatalf("expected rejection for %s", tc.raw)
			}
		})
	}
}

func TestValidateFiles(t *testing.T) {
	manifest := &capsule.Manifest{Name: "x", Entry: "index.html", Runner: "html"}

	tests := []struct {
		name    string
		files   []capsule.File
		wantErr bool
	}{
		{
			name:    "entry present",
			files:   []capsule.File{{Path: "index.html", Content: []byte("<p>hi</p>")}},
			wantErr: false,
		},
		{
			name:    "no files",
			files:   nil,
			wantErr: true,
		},
		{
			name: "entry missing",
			files: []capsule.File{
				{Path: "other.html", Content: []byte("<p>hi</p>")},
			},
			wantErr: true,
		},
		{
			name: "duplicate path",
			files: []capsule.File{
				{Path: "index.html", Content: []byte("a")},
				{Path: "index.html", Content: []byte("b")},
			},
			wantErr: true,
		},
		{
			name: "traversal path",
			files: []capsule.File{
				{Path: "index.html", Content: []byte("a")},
				{Path: "../escape.js", Content: []byte("b")},
			},
			wantErr: true,
		},
		{
			name: "absolute path",
			files: []capsule.File{
				{Path: "index.html", Content: []byte("a")},
				{Path: "/etc/passwd", Content: []byte("b")},
			},
			wantErr: true,
		},
		{
			name: "backslash path",
			files: []capsule.File{
				{Path: "index.html", Content: []byte("a")},
				{Path: `assets\logo.png`, Content: []byte("b")},
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := capsule.ValidateFiles(manifest, tc.files, 64)
			if tc.wantErr && err == nil {
				t.Fatalf("expected rejection")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateFilesEnforcesFileLimit(t *testing.T) {
	manifest := &capsule.Manifest{Name: "x", Entry: "f0.js", Runner: "react-jsx"}
	files := make([]capsule.File, 5)
	for i := range files {
		files[i] = capsule.File{Path: fmt.Sprintf("f%d.js", i), Content: []byte("x")}
	}

	if err := capsule.ValidateFiles(manifest, files, 4); err == nil {
		t.Fatalf("expected file-count rejection")
	}
	if err := capsule.ValidateFiles(manifest, files, 5); err != nil {
		t.Fatalf("unexpected error at the limit: %v", err)
	}
}
