package sandbox

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// Policy describes the deployment-wide network stance used to derive a
// frame's capability set.
type Policy struct {
	// BundleOrigin is the origin the compiled bundle is served from.
	BundleOrigin string
	// AllowHTTPSEgress widens connect-src to any HTTPS origin. Off by
	// default; restricted deployments pin egress to the bundle origin.
	AllowHTTPSEgress bool
}

// NewNonce returns a per-load CSP nonce.
func NewNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate csp nonce: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

// CSP builds the content security policy for one frame load. Inline script
// and style execution is gated on the per-load nonce; no directive ever
// carries a blanket unsafe-inline script allowance.
func (p Policy) CSP(nonce string) string {
	connectSrc := "'none'"
	if p.BundleOrigin != "" {
		connectSrc = p.BundleOrigin
	}
	if p.AllowHTTPSEgress {
		connectSrc = "https:"
	}

	directives := []string{
		"default-src 'none'",
		fmt.Sprintf("script-src 'nonce-%s' %s", nonce, valueOrSelf(p.BundleOrigin)),
		fmt.Sprintf("style-src 'nonce-%s'", nonce),
		"img-src data: blob:",
		"connect-src " + connectSrc,
		"base-uri 'none'",
		"form-action 'none'",
		"frame-ancestors 'none'",
	}
	return strings.Join(directives, "; ")
}

// FrameSandboxTokens returns the iframe sandbox attribute for a capsule
// frame: script execution allowed, same-origin access denied, top navigation
// denied.
func FrameSandboxTokens() []string {
	return []string{"allow-scripts"}
}

func valueOrSelf(origin string) string {
	if origin == "" {
		return "'self'"
	}
	return origin
}
