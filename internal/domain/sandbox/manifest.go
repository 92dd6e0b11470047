// Package sandbox defines the contract between the publish pipeline and the
// isolated execution frame: the runtime manifest wire format, the content
// security policy applied to a load, and the frame lifecycle message
// protocol. The frame runtime consumes this contract; it never produces it.
package sandbox

// RuntimeAssets lists the platform scripts the frame loads before the
// capsule bundle.
type RuntimeAssets struct {
	BridgeURL        string `json:"bridgeUrl"`
	GuardURL         string `json:"guardUrl"`
	RuntimeScriptURL string `json:"runtimeScriptUrl"`
}

// BundleRef points the frame loader at the compiled bundle in blob storage.
type BundleRef struct {
	R2Key     string `json:"r2Key"`
	SizeBytes int64  `json:"sizeBytes"`
	Digest    string `json:"digest"`
}

// RuntimeManifest is the sole document the execution frame trusts. Nothing
// in it may be derived from unsanitized user input; all fields are either
// pipeline-generated or JSON-escaped on marshal.
type RuntimeManifest struct {
	ArtifactID     string        `json:"artifactId"`
	Type           string        `json:"type"`
	RuntimeVersion string        `json:"runtimeVersion"`
	Version        int           `json:"version"`
	RuntimeAssets  RuntimeAssets `json:"runtimeAssets"`
	Bundle         BundleRef     `json:"bundle"`
	Imports        []string      `json:"imports,omitempty"`
	CSPNonce       string        `json:"cspNonce,omitempty"`
}
