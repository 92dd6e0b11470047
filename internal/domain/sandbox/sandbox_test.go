package sandbox_test

import (
	"strings"
	"testing"

	"capsule-server/services/capsule-api/internal/domain/sandbox"
)

func TestNewNonceIsUniquePerLoad(t *testing.T) {
	first, err := sandbox.NewNonce()
	if err != nil {
		t.Fatalf("nonce generation failed: %v", err)
	}
	second, err := sandbox.NewNonce()
	if err != nil {
		t.Fatalf("nonce generation failed: %v", err)
	}
	if first == second {
		t.Fatalf("nonces must differ per load")
	}
	if first == "" {
		t.Fatalf("nonce must not be empty")
	}
}

func TestCSPNeverAllowsUnsafeInline(t *testing.T) {
	policies := []sandbox.Policy{
		{},
		{BundleOrigin: "https://bundles.example.com"},
		{BundleOrigin: "https://bundles.example.com", AllowHTTPSEgress: true},
	}

	for _, policy := range policies {
		nonce, err := sandbox.NewNonce()
		if err != nil {
			t.Fatalf("nonce generation failed: %v", err)
		}
		csp := policy.CSP(nonce)
		if strings.Contains(csp, "unsafe-inline") {
			t.Fatalf("CSP must never include unsafe-inline: %s", csp)
		}
		if !strings.Contains(csp, "'nonce-"+nonce+"'") {
			t.Fatalf("CSP must gate scripts on the nonce: %s", csp)
		}
	}
}

func TestCSPRestrictsConnectSrcToBundleOrigin(t *testing.T) {
	policy := sandbox.Policy{BundleOrigin: "https://bundles.example.com"}
	nonce, _ := sandbox.NewNonce()

	csp := policy.CSP(nonce)
	if !strings.Contains(csp, "connect-src https://bundles.example.com") {
		t.Fatalf("connect-src should pin to the bundle origin: %s", csp)
	}
}

func TestCSPWidensConnectSrcUnderEgressPolicy(t *testing.T) {
	policy := sandbox.Policy{BundleOrigin: "https://bundles.example.com", AllowHTTPSEgress: true}
	nonce, _ := sandbox.NewNonce()

	csp := policy.CSP(nonce)
	if !strings.Contains(csp, "connect-src https:") {
		t.Fatalf("https-egress policy should widen connect-src: %s", csp)
	}
}

func TestCSPDeniesNavigationAndEmbedding(t *testing.T) {
	nonce, _ := sandbox.NewNonce()
	csp := sandbox.Policy{}.CSP(nonce)

	for _, directive := range []string{"base-uri 'none'", "form-action 'none'", "frame-ancestors 'none'", "default-src 'none'"} {
		if !strings.Contains(csp, directive) {
			t.Fatalf("CSP missing %q: %s", directive, csp)
		}
	}
}

func TestFrameSandboxTokensDenySameOrigin(t *testing.T) {
	tokens := sandbox.FrameSandboxTokens()
	for _, token := range tokens {
		if token == "allow-same-origin" {
			t.Fatalf("frame sandbox must never allow same-origin access")
		}
		if token == "allow-top-navigation" {
			t.Fatalf("frame sandbox must never allow top navigation")
		}
	}
	found := false
	for _, token := range tokens {
		if token == "allow-scripts" {
			found = true
		}
	}
	if !found {
		t.Fatalf("frame sandbox must allow script execution")
	}
}

func TestParseFrameMessageChecksOriginFirst(t *testing.T) {
	// Payload is intentionally malformed: the origin check must reject the
	// message before any decode happens.
	_, err := sandbox.ParseFrameMessage([]byte("not json"), "https://attacker.test", "https://frames.example.com")
	if err == nil || !strings.Contains(err.Error(), "unexpected origin") {
		t.Fatalf("expected origin rejection, got %v", err)
	}
}

func TestParseFrameMessageRejectsEmptyExpectedOrigin(t *testing.T) {
	_, err := sandbox.ParseFrameMessage([]byte(`{"kind":"ready"}`), "", "")
	if err == nil {
		t.Fatalf("empty expected origin must never be trusted")
	}
}

func TestParseFrameMessageKinds(t *testing.T) {
	const origin = "https://frames.example.com"
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"ready", `{"kind":"ready"}`, false},
		{"error with message", `{"kind":"error","message":"mount failed"}`, false},
		{"error without message", `{"kind":"error"}`, true},
		{"policy violation with code", `{"kind":"policyViolation","code":"net-denied","message":"fetch blocked"}`, false},
		{"policy violation without code", `{"kind":"policyViolation"}`, true},
		{"unknown kind", `{"kind":"exfiltrate"}`, true},
		{"malformed json", `{"kind":`, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := sandbox.ParseFrameMessage([]byte(tc.raw), origin, origin)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg == nil {
				t.Fatalf("expected message")
			}
		})
	}
}
