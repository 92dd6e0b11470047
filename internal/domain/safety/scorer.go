package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPScorer calls an external risk-scoring endpoint. The caller's context
// carries the deadline; an unreachable scorer is surfaced as an error and the
// classifier fails closed on it.
type HTTPScorer struct {
	url    string
	client *http.Client
}

func NewHTTPScorer(url string) *HTTPScorer {
	return &HTTPScorer{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type scoreRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

func (s *HTTPScorer) Score(ctx context.Context, path string, content []byte) (float64, error) {
	payload, err := json.Marshal(scoreRequest{Path: path, Content: string(content)})
	if err != nil {
		return 0, fmt.Errorf("encode score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode score response: %w", err)
	}
	return out.Score, nil
}
