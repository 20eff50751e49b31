// Package embedder provides interfaces and implementations for text embedding
// across the three representations used by hybrid retrieval: dense, sparse,
// and late-interaction.
package embedder

import (
	"context"

	"github.com/docuseek/rag/internal/vectorstore"
)

// Embedding holds all three representations of one text.
type Embedding struct {
	Dense  []float32
	Sparse *vectorstore.SparseVector
	Late   [][]float32 // one vector per token
}

// Embedder defines the interface for text embedding services.
// Query-time and passage-time encodings may differ, so the two are
// separate operations.
type Embedder interface {
	// EmbedQuery generates query-time representations for a single text.
	EmbedQuery(ctx context.Context, text string) (*Embedding, error)

	// EmbedPassages generates passage-time representations for multiple
	// texts, in input order.
	EmbedPassages(ctx context.Context, texts []string) ([]*Embedding, error)

	// DenseDimension returns the dimensionality of the dense vectors.
	DenseDimension() int

	// LateDimension returns the per-token dimensionality of the
	// late-interaction vectors.
	LateDimension() int
}

// ModelConfig holds the dimensions of a dense/late model pairing.
type ModelConfig struct {
	DenseDimension int
	LateDimension  int
}

// KnownModels maps dense embedding model names to their configurations.
// The late dimension assumes the colbertv2.0 family unless noted.
var KnownModels = map[string]ModelConfig{
	"sentence-transformers/all-MiniLM-L6-v2": {
		DenseDimension: 384,
		LateDimension:  128,
	},
	"BAAI/bge-small-en-v1.5": {
		DenseDimension: 384,
		LateDimension:  128,
	},
	"BAAI/bge-base-en-v1.5": {
		DenseDimension: 768,
		LateDimension:  128,
	},
}

// GetModelConfig returns the configuration for a model, or defaults if unknown.
func GetModelConfig(modelName string) ModelConfig {
	if cfg, ok := KnownModels[modelName]; ok {
		return cfg
	}
	return ModelConfig{
		DenseDimension: 384,
		LateDimension:  128,
	}
}
