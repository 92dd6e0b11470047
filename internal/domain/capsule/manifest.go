package capsule

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// Manifest is the capsule's declared metadata. It is validated before the
// pipeline touches any storage.
type Manifest struct {
	Name        string `json:"name"`
	Entry       string `json:"entry"`
	Runner      string `json:"runner"`
	Description string `json:"description,omitempty"`
}

const (
	maxManifestNameLen = 120
	maxAssetPathLen    = 512
)

var allowedRunners = map[string]struct{}{
	"html":      {},
	"react-jsx": {},
}

// ParseManifest decodes and validates a raw manifest document.
func ParseManifest(raw json.RawMessage) (*Manifest, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("manifest is required")
	}

	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.DisallowUnknownFields()
	var manifest Manifest
	if err := decoder.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("malformed manifest: %w", err)
	}

	manifest.Name = strings.TrimSpace(manifest.Name)
	if manifest.Name == "" {
		return nil, fmt.Errorf("manifest name is required")
	}
	if len(manifest.Name) > maxManifestNameLen {
		return nil, fmt.Errorf("manifest name exceeds %d characters", maxManifestNameLen)
	}
	if _, ok := allowedRunners[manifest.Runner]; !ok {
		return nil, fmt.Errorf("unknown runner %q", manifest.Runner)
	}
	if manifest.Entry == "" {
		return nil, fmt.Errorf("manifest entry is required")
	}
	if err := validatePath(manifest.Entry); err != nil {
		return nil, fmt.Errorf("manifest entry: %w", err)
	}
	return &manifest, nil
}

// ValidateFiles checks the uploaded file set against the manifest: paths
// must be clean and unique, and the declared entry must be present.
func ValidateFiles(manifest *Manifest, files []File, maxFiles int) error {
	if len(files) == 0 {
		return fmt.Errorf("at least one file is required")
	}
	if maxFiles > 0 && len(files) > maxFiles {
		return fmt.Errorf("bundle has %d files, limit is %d", len(files), maxFiles)
	}

	seen := make(map[string]struct{}, len(files))
	entryFound := false
	for _, f := range files {
		if err := validatePath(f.Path); err != nil {
			return err
		}
		if _, dup := seen[f.Path]; dup {
			return fmt.Errorf("duplicate path %q", f.Path)
		}
		seen[f.Path] = struct{}{}
		if f.Path == manifest.Entry {
			entryFound = true
		}
	}
	if !entryFound {
		return fmt.Errorf("entry %q is not among the uploaded files", manifest.Entry)
	}
	return nil
}

func validatePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if len(p) > maxAssetPathLen {
		return fmt.Errorf("path %q exceeds %d characters", p, maxAssetPathLen)
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("path %q must be relative", p)
	}
	if cleaned := path.Clean(p); cleaned != p || strings.HasPrefix(cleaned, "..") {
		return fmt.Errorf("path %q is not canonical", p)
	}
	if strings.Contains(p, "\\") {
		return fmt.Errorf("path %q must use forward slashes", p)
	}
	return nil
}
