package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/domain/sandbox"
	"capsule-server/services/capsule-api/internal/infrastructure/metrics"
)

// RuntimeOptions carries the deployment's runtime asset locations baked into
// every emitted manifest.
type RuntimeOptions struct {
	RuntimeVersion   string
	BridgeURL        string
	GuardURL         string
	RuntimeScriptURL string
}

// BlobStore is the storage surface the compiler writes bundles to and
// removes them from when their capsule is deleted.
type BlobStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

// CompileRequest is one compilation job.
type CompileRequest struct {
	ArtifactID string
	Entry      string
	Runner     string
	Files      []SourceFile
}

// Compiled is the result of a successful compilation.
type Compiled struct {
	Type            Type
	BundleKey       string
	BundleDigest    string
	BundleSizeBytes int64
	Imports         []string
	Manifest        sandbox.RuntimeManifest
}

// Compiler produces browser-executable artifacts from validated file sets.
type Compiler struct {
	opts  RuntimeOptions
	blobs BlobStore
	log   zerolog.Logger
}

func NewCompiler(opts RuntimeOptions, blobs BlobStore, log zerolog.Logger) *Compiler {
	return &Compiler{
		opts:  opts,
		blobs: blobs,
		log:   log.With().Str("component", "artifact-compiler").Logger(),
	}
}

// Compile branches on the declared runner: HTML entries are sanitized and
// re-encoded, script entries are bundled into a single module. Either way
// the bundle is written to blob storage and described by a runtime manifest,
// the only contract the execution frame trusts.
func (c *Compiler) Compile(ctx context.Context, req CompileRequest) (*Compiled, error) {
	start := time.Now()
	artifactType := Type(req.Runner)
	if !artifactType.Valid() {
		return nil, fmt.Errorf("unknown runner %q", req.Runner)
	}

	var (
		payload     []byte
		contentType string
		imports     []string
		err         error
	)
	switch artifactType {
	case TypeHTML:
		payload, err = c.compileHTML(req)
		contentType = "text/html; charset=utf-8"
	case TypeReactJSX:
		payload, imports, err = bundleScripts(req.Entry, req.Files)
		contentType = "text/javascript; charset=utf-8"
	}
	if err != nil {
		metrics.RecordCompile(string(artifactType), "error")
		return nil, err
	}

	sum := sha256.Sum256(payload)
	digest := fmt.Sprintf("%x", sum[:])
	key := bundleKey(req.ArtifactID, artifactType, digest)

	if err := c.blobs.Upload(ctx, key, bytes.NewReader(payload), int64(len(payload)), contentType); err != nil {
		metrics.RecordCompile(string(artifactType), "error")
		return nil, fmt.Errorf("store compiled bundle: %w", err)
	}

	compiled := &Compiled{
		Type:            artifactType,
		BundleKey:       key,
		BundleDigest:    digest,
		BundleSizeBytes: int64(len(payload)),
		Imports:         imports,
		Manifest: sandbox.RuntimeManifest{
			ArtifactID:     req.ArtifactID,
			Type:           string(artifactType),
			RuntimeVersion: c.opts.RuntimeVersion,
			Version:        1,
			RuntimeAssets: sandbox.RuntimeAssets{
				BridgeURL:        c.opts.BridgeURL,
				GuardURL:         c.opts.GuardURL,
				RuntimeScriptURL: c.opts.RuntimeScriptURL,
			},
			Bundle: sandbox.BundleRef{
				R2Key:     key,
				SizeBytes: int64(len(payload)),
				Digest:    digest,
			},
			Imports: imports,
		},
	}

	metrics.RecordCompile(string(artifactType), "success")
	c.log.Info().
		Str("artifact_id", req.ArtifactID).
		Str("type", string(artifactType)).
		Str("digest", digest).
		Int("size", len(payload)).
		Dur("elapsed", time.Since(start)).
		Msg("compiled runtime artifact")
	return compiled, nil
}

// Remove deletes a compiled bundle from blob storage.
func (c *Compiler) Remove(ctx context.Context, bundleKey string) error {
	return c.blobs.Delete(ctx, bundleKey)
}

func (c *Compiler) compileHTML(req CompileRequest) ([]byte, error) {
	var entry *SourceFile
	for i := range req.Files {
		if req.Files[i].Path == req.Entry {
			entry = &req.Files[i]
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("entry %s not found in bundle", req.Entry)
	}
	sanitized, err := SanitizeHTML(entry.Content)
	if err != nil {
		return nil, fmt.Errorf("sanitize %s: %w", req.Entry, err)
	}
	return sanitized, nil
}

func bundleKey(artifactID string, artifactType Type, digest string) string {
	ext := "mjs"
	if artifactType == TypeHTML {
		ext = "html"
	}
	return fmt.Sprintf("artifacts/%s/%s.%s", artifactID, digest[:16], ext)
}
