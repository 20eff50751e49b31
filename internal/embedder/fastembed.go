package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/docuseek/rag/internal/vectorstore"
)

const (
	// DefaultFastEmbedBaseURL is the default fastembed sidecar URL.
	DefaultFastEmbedBaseURL = "http://localhost:8500"

	// DefaultDenseModel is the default dense embedding model.
	DefaultDenseModel = "sentence-transformers/all-MiniLM-L6-v2"

	// DefaultSparseModel is the default sparse (BM25-style) model.
	DefaultSparseModel = "Qdrant/bm25"

	// DefaultLateModel is the default late-interaction model.
	DefaultLateModel = "colbert-ir/colbertv2.0"
)

// FastEmbedConfig holds configuration for the fastembed sidecar client.
type FastEmbedConfig struct {
	// BaseURL is the sidecar base URL (default: http://localhost:8500).
	BaseURL string

	// DenseModel, SparseModel, LateModel name the models the sidecar
	// serves for each representation.
	DenseModel  string
	SparseModel string
	LateModel   string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// FastEmbedClient implements Embedder against a fastembed inference sidecar
// that serves dense, sparse, and late-interaction models behind one endpoint.
type FastEmbedClient struct {
	baseURL     string
	denseModel  string
	sparseModel string
	lateModel   string
	modelCfg    ModelConfig
	client      *http.Client
}

// embedRequest represents the request body for the sidecar embed API.
type embedRequest struct {
	Texts       []string `json:"texts"`
	Mode        string   `json:"mode"` // "query" or "passage"
	DenseModel  string   `json:"dense_model"`
	SparseModel string   `json:"sparse_model"`
	LateModel   string   `json:"late_model"`
}

// embedResponse represents the response from the sidecar embed API.
type embedResponse struct {
	Results []struct {
		Dense  []float32 `json:"dense"`
		Sparse struct {
			Indices []uint32  `json:"indices"`
			Values  []float32 `json:"values"`
		} `json:"sparse"`
		Late [][]float32 `json:"late"`
	} `json:"results"`
}

// NewFastEmbedClient creates a new fastembed sidecar client.
func NewFastEmbedClient(cfg FastEmbedConfig) *FastEmbedClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultFastEmbedBaseURL
	}
	denseModel := cfg.DenseModel
	if denseModel == "" {
		denseModel = DefaultDenseModel
	}
	sparseModel := cfg.SparseModel
	if sparseModel == "" {
		sparseModel = DefaultSparseModel
	}
	lateModel := cfg.LateModel
	if lateModel == "" {
		lateModel = DefaultLateModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &FastEmbedClient{
		baseURL:     baseURL,
		denseModel:  denseModel,
		sparseModel: sparseModel,
		lateModel:   lateModel,
		modelCfg:    GetModelConfig(denseModel),
		client:      client,
	}
}

// EmbedQuery generates query-time representations for a single text.
func (c *FastEmbedClient) EmbedQuery(ctx context.Context, text string) (*Embedding, error) {
	embeddings, err := c.embed(ctx, []string{text}, "query")
	if err != nil {
		return nil, err
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(embeddings))
	}
	return embeddings[0], nil
}

// EmbedPassages generates passage-time representations for multiple texts.
func (c *FastEmbedClient) EmbedPassages(ctx context.Context, texts []string) ([]*Embedding, error) {
	if len(texts) == 0 {
		return []*Embedding{}, nil
	}
	return c.embed(ctx, texts, "passage")
}

func (c *FastEmbedClient) embed(ctx context.Context, texts []string, mode string) ([]*Embedding, error) {
	reqBody := embedRequest{
		Texts:       texts,
		Mode:        mode,
		DenseModel:  c.denseModel,
		SparseModel: c.sparseModel,
		LateModel:   c.lateModel,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/embed", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed API error (status %d): %s", resp.StatusCode, string(body))
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(embedResp.Results) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embedResp.Results))
	}

	embeddings := make([]*Embedding, len(embedResp.Results))
	for i, r := range embedResp.Results {
		if len(r.Dense) == 0 {
			return nil, fmt.Errorf("empty dense embedding at index %d", i)
		}
		embeddings[i] = &Embedding{
			Dense: r.Dense,
			Sparse: &vectorstore.SparseVector{
				Indices: r.Sparse.Indices,
				Values:  r.Sparse.Values,
			},
			Late: r.Late,
		}
	}
	return embeddings, nil
}

// DenseDimension returns the dimensionality of the dense vectors.
func (c *FastEmbedClient) DenseDimension() int {
	return c.modelCfg.DenseDimension
}

// LateDimension returns the per-token dimensionality of the late vectors.
func (c *FastEmbedClient) LateDimension() int {
	return c.modelCfg.LateDimension
}

// Ensure FastEmbedClient implements Embedder interface.
var _ Embedder = (*FastEmbedClient)(nil)
