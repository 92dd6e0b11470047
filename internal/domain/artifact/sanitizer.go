package artifact

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// The sanitizer strips capabilities the sandbox must never grant through
// markup: script execution outside the runtime loader, nested browsing
// contexts, form submission and inline event handlers. bluemonday tokenizes
// the markup, so a handler attribute cannot slip through on quoting or
// spacing tricks, and its output is stable: sanitizing already-sanitized
// markup is a no-op.
var htmlPolicy = newHTMLPolicy()

func newHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	// Entries arrive as whole documents, keep the document skeleton.
	p.AllowElements("html", "head", "body", "title")
	p.AllowAttrs("lang").OnElements("html")
	return p
}

// inlineHandlerAttr backstops the policy output. A surviving on* attribute
// means the policy is misconfigured and the result must not be served.
var inlineHandlerAttr = regexp.MustCompile(`(?i)[\s"'/]on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)

// SanitizeHTML rewrites an HTML entry so the frame can render it under the
// sandbox policy. A result that still contains an executable construct is a
// hard error, not a pass-through.
func SanitizeHTML(input []byte) ([]byte, error) {
	out := htmlPolicy.SanitizeBytes(input)
	if err := verifySanitized(string(out)); err != nil {
		return nil, err
	}
	return out, nil
}

func verifySanitized(markup string) error {
	lowered := strings.ToLower(markup)
	for _, forbidden := range []string{"<script", "<iframe", "<object", "<embed", "<base", "javascript:"} {
		if strings.Contains(lowered, forbidden) {
			return fmt.Errorf("sanitization left %q in markup", forbidden)
		}
	}
	if inlineHandlerAttr.MatchString(markup) {
		return fmt.Errorf("sanitization left an inline event handler in markup")
	}
	return nil
}
