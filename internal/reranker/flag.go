package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	// DefaultFlagRerankerBaseURL is the default reranker sidecar URL.
	DefaultFlagRerankerBaseURL = "http://localhost:8501"

	// DefaultFlagRerankerModel is the default cross-encoder model.
	DefaultFlagRerankerModel = "BAAI/bge-reranker-v2-m3"
)

// FlagRerankerConfig holds configuration for the reranker sidecar client.
type FlagRerankerConfig struct {
	// BaseURL is the sidecar base URL (default: http://localhost:8501).
	BaseURL string

	// Model names the cross-encoder model the sidecar serves.
	Model string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// FlagReranker implements CrossEncoder against a FlagReranker inference
// sidecar. The sidecar is asked for normalized scores so thresholds apply
// on the [0, 1] scale.
type FlagReranker struct {
	baseURL string
	model   string
	client  *http.Client
}

// rerankRequest represents the request body for the sidecar rerank API.
type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Passages  []string `json:"passages"`
	Normalize bool     `json:"normalize"`
}

// rerankResponse represents the response from the sidecar rerank API.
type rerankResponse struct {
	Scores []float32 `json:"scores"`
}

// NewFlagReranker creates a new reranker sidecar client.
func NewFlagReranker(cfg FlagRerankerConfig) *FlagReranker {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultFlagRerankerBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultFlagRerankerModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &FlagReranker{
		baseURL: baseURL,
		model:   model,
		client:  client,
	}
}

// Score computes normalized relevance scores for (query, passage) pairs.
func (r *FlagReranker) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	if len(passages) == 0 {
		return []float32{}, nil
	}

	reqBody := rerankRequest{
		Model:     r.model,
		Query:     query,
		Passages:  passages,
		Normalize: true,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/rerank", r.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank API error (status %d): %s", resp.StatusCode, string(body))
	}

	var rerankResp rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rerankResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(rerankResp.Scores) != len(passages) {
		return nil, fmt.Errorf("expected %d scores, got %d", len(passages), len(rerankResp.Scores))
	}

	scores := make([]float32, len(rerankResp.Scores))
	for i, s := range rerankResp.Scores {
		scores[i] = clampScore(s)
	}
	return scores, nil
}

// Ensure FlagReranker implements CrossEncoder interface.
var _ CrossEncoder = (*FlagReranker)(nil)
