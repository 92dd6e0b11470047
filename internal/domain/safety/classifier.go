package safety

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/infrastructure/metrics"
)

// Action is the classifier's disposition for a publish attempt.
type Action string

const (
	ActionAllow      Action = "allow"
	ActionQuarantine Action = "quarantine"
	ActionBlock      Action = "block"
)

// Verdict is attached to a publish attempt and logged for audit. It is never
// persisted as a standalone entity.
type Verdict struct {
	Safe      bool     `json:"safe"`
	Action    Action   `json:"action"`
	RiskLevel string   `json:"risk_level"`
	Reasons   []string `json:"reasons"`
	Tags      []string `json:"tags"`
}

// SourceFile is one non-manifest file under classification.
type SourceFile struct {
	Path    string
	Content []byte
}

// Blocklist is the shared deny-list store keyed by content hash.
type Blocklist interface {
	Contains(ctx context.Context, hash string) (bool, error)
}

// Scorer is an optional external risk scorer. Heuristics remain the
// authoritative path; a scorer only escalates, and an unreachable scorer
// fails closed.
type Scorer interface {
	Score(ctx context.Context, path string, content []byte) (float64, error)
}

const (
	scorerQuarantineThreshold = 0.5
	scorerBlockThreshold      = 0.9
)

// Classifier scores raw source text against the deny-list and the pattern
// tiers. Classification never mutates stored state; its only side effect is
// the audit log.
type Classifier struct {
	rules        *Ruleset
	staticDenied map[string]struct{}
	blocklist    Blocklist
	scorer       Scorer
	log          zerolog.Logger
}

// NewClassifier builds a classifier. blocklist and scorer may be nil.
func NewClassifier(rules *Ruleset, staticHashes []string, blocklist Blocklist, scorer Scorer, log zerolog.Logger) *Classifier {
	denied := make(map[string]struct{}, len(staticHashes))
	for _, h := range staticHashes {
		denied[h] = struct{}{}
	}
	return &Classifier{
		rules:        rules,
		staticDenied: denied,
		blocklist:    blocklist,
		scorer:       scorer,
		log:          log.With().Str("component", "safety-classifier").Logger(),
	}
}

// Classify evaluates every file and returns the worst verdict found. Every
// per-file verdict, including allow, is logged with path, hash and tags.
func (c *Classifier) Classify(ctx context.Context, files []SourceFile) (*Verdict, error) {
	verdict := &Verdict{Safe: true, Action: ActionAllow, RiskLevel: "low", Reasons: []string{}, Tags: []string{}}

	for _, file := range files {
		sum := sha256.Sum256(file.Content)
		hash := fmt.Sprintf("%x", sum[:])

		if blocked, reason, err := c.deniedByHash(ctx, hash); err != nil {
			// The deny-list store is a safety dependency; fail closed.
			c.log.Error().Err(err).Str("path", file.Path).Msg("blocklist unreachable, failing closed")
			return blockVerdict("safety deny-list unavailable", "denylist-unavailable"), nil
		} else if blocked {
			c.audit(file.Path, hash, ActionBlock, []string{"denylist"})
			return blockVerdict(reason, "denylist"), nil
		}

		action, tags := c.matchPatterns(file.Content)
		c.audit(file.Path, hash, action, tags)

		switch action {
		case ActionBlock:
			return blockVerdict(fmt.Sprintf("blocked pattern in %s", file.Path), tags...), nil
		case ActionQuarantine:
			verdict.Action = ActionQuarantine
			verdict.Safe = false
			verdict.RiskLevel = "medium"
			verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("restricted capability in %s", file.Path))
			verdict.Tags = appendUnique(verdict.Tags, tags...)
		}
	}

	if c.scorer != nil {
		if escalated, err := c.applyScorer(ctx, files, verdict); err != nil {
			// Fail closed: an unreachable scorer must never allow.
			c.log.Error().Err(err).Msg("external scorer unreachable, failing closed")
			return blockVerdict("safety scoring unavailable", "scorer-unavailable"), nil
		} else if escalated != nil {
			return escalated, nil
		}
	}

	return verdict, nil
}

func (c *Classifier) deniedByHash(ctx context.Context, hash string) (bool, string, error) {
	if _, ok := c.staticDenied[hash]; ok {
		return true, "content hash is deny-listed", nil
	}
	if c.blocklist == nil {
		return false, "", nil
	}
	found, err := c.blocklist.Contains(ctx, hash)
	if err != nil {
		return false, "", fmt.Errorf("blocklist lookup: %w", err)
	}
	if found {
		return true, "content hash is deny-listed", nil
	}
	return false, "", nil
}

func (c *Classifier) matchPatterns(content []byte) (Action, []string) {
	for _, rule := range c.rules.Block {
		if rule.Pattern.Match(content) {
			return ActionBlock, rule.Tags
		}
	}
	var tags []string
	for _, rule := range c.rules.Quarantine {
		if rule.Pattern.Match(content) {
			tags = appendUnique(tags, rule.Tags...)
		}
	}
	if len(tags) > 0 {
		return ActionQuarantine, tags
	}
	return ActionAllow, nil
}

func (c *Classifier) applyScorer(ctx context.Context, files []SourceFile, current *Verdict) (*Verdict, error) {
	for _, file := range files {
		score, err := c.scorer.Score(ctx, file.Path, file.Content)
		if err != nil {
			return nil, err
		}
		if score >= scorerBlockThreshold {
			return blockVerdict(fmt.Sprintf("scored %0.2f in %s", score, file.Path), "scorer"), nil
		}
		if score >= scorerQuarantineThreshold && current.Action == ActionAllow {
			current.Action = ActionQuarantine
			current.Safe = false
			current.RiskLevel = "medium"
			current.Reasons = append(current.Reasons, fmt.Sprintf("scored %0.2f in %s", score, file.Path))
			current.Tags = appendUnique(current.Tags, "scorer")
		}
	}
	return nil, nil
}

func (c *Classifier) audit(path, hash string, action Action, tags []string) {
	metrics.RecordVerdict(string(action))
	c.log.Info().
		Str("path", path).
		Str("content_hash", hash).
		Str("action", string(action)).
		Strs("tags", tags).
		Str("ruleset", c.rules.Version).
		Msg("classified file")
}

func blockVerdict(reason string, tags ...string) *Verdict {
	return &Verdict{
		Safe:      false,
		Action:    ActionBlock,
		RiskLevel: "high",
		Reasons:   []string{reason},
		Tags:      tags,
	}
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		seen := false
		for _, existing := range dst {
			if existing == v {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, v)
		}
	}
	return dst
}
