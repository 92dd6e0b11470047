package safety

import "regexp"

// Rule is one compiled source pattern with the tags it contributes to a
// verdict.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Tags    []string
}

// Ruleset is a versioned, explicitly-injected pattern configuration. Block
// rules reject outright; quarantine rules commit the capsule hidden from
// public surfaces. Rules are evaluated in order and the first matching tier
// wins.
type Ruleset struct {
	Version    string
	Block      []Rule
	Quarantine []Rule
}

// DefaultRuleset returns the built-in heuristic patterns.
func DefaultRuleset() *Ruleset {
	return &Ruleset{
		Version: "2024-06",
		Block: []Rule{
			{
				Name:    "crypto-miner",
				Pattern: regexp.MustCompile(`(?i)(coinhive|cryptonight|minerd|stratum\+tcp://)`),
				Tags:    []string{"miner"},
			},
			{
				Name:    "busy-loop",
				Pattern: regexp.MustCompile(`while\s*\(\s*(true|1)\s*\)\s*\{\s*\}`),
				Tags:    []string{"infinite-loop"},
			},
		},
		Quarantine: []Rule{
			{
				Name:    "process-access",
				Pattern: regexp.MustCompile(`(?i)(child_process|process\.(exit|kill|env)\b)`),
				Tags:    []string{"process"},
			},
			{
				Name:    "filesystem-access",
				Pattern: regexp.MustCompile(`(?i)require\s*\(\s*['"]fs['"]\s*\)|from\s+['"]node:fs['"]`),
				Tags:    []string{"filesystem"},
			},
			{
				Name:    "network-call",
				Pattern: regexp.MustCompile(`(?i)\b(fetch|XMLHttpRequest|WebSocket|navigator\.sendBeacon)\s*\(`),
				Tags:    []string{"network"},
			},
			{
				Name:    "env-read",
				Pattern: regexp.MustCompile(`(?i)import\.meta\.env|process\.env\.`),
				Tags:    []string{"environment"},
			},
			{
				Name:    "eval-obfuscation",
				Pattern: regexp.MustCompile(`(?i)\b(eval|new\s+Function)\s*\(|atob\s*\(\s*['"][A-Za-z0-9+/=]{40,}`),
				Tags:    []string{"obfuscation"},
			},
		},
	}
}
