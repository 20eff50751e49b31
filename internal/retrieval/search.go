package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docuseek/rag/internal/embedder"
	"github.com/docuseek/rag/internal/vectorstore"
)

// DefaultPrefetchLimit is the candidate pool size for each of the dense and
// sparse prefetch branches.
const DefaultPrefetchLimit = 40

// DefaultFusionLimit is how many chunks survive late-interaction rescoring
// per collection.
const DefaultFusionLimit = 20

// Searcher runs the first retrieval stage against a single collection:
// embed the query, prefetch dense and sparse candidate pools, and rescore
// them with the late-interaction vectors.
type Searcher struct {
	store         vectorstore.VectorStore
	embedder      embedder.Embedder
	prefetchLimit uint64
	fusionLimit   uint64
	logger        *slog.Logger
}

// SearcherOption is a functional option for configuring Searcher.
type SearcherOption func(*Searcher)

// WithSearchLimits overrides the prefetch and fusion pool sizes.
func WithSearchLimits(prefetch, fusion uint64) SearcherOption {
	return func(s *Searcher) {
		s.prefetchLimit = prefetch
		s.fusionLimit = fusion
	}
}

// WithSearcherLogger sets the logger.
func WithSearcherLogger(logger *slog.Logger) SearcherOption {
	return func(s *Searcher) {
		s.logger = logger
	}
}

// NewSearcher creates a Searcher over the given store and embedder.
func NewSearcher(store vectorstore.VectorStore, emb embedder.Embedder, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		store:         store,
		embedder:      emb,
		prefetchLimit: DefaultPrefetchLimit,
		fusionLimit:   DefaultFusionLimit,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbedQuery produces the query vectors used by SearchVectors. Callers
// fanning out one query across several collections embed once and reuse.
func (s *Searcher) EmbedQuery(ctx context.Context, query string) (vectorstore.QueryVectors, error) {
	emb, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return vectorstore.QueryVectors{}, fmt.Errorf("embedding query: %w", err)
	}
	return vectorstore.QueryVectors{
		Dense:  emb.Dense,
		Sparse: emb.Sparse,
		Late:   emb.Late,
	}, nil
}

// SearchVectors runs the hybrid query against one collection. A collection
// that does not exist in the vector store yields an empty result and a
// warning rather than an error, so a stale ownership record cannot take
// down a whole fan-out.
func (s *Searcher) SearchVectors(ctx context.Context, collection string, q vectorstore.QueryVectors) ([]vectorstore.ScoredChunk, error) {
	exists, err := s.store.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("checking collection %q: %w", collection, err)
	}
	if !exists {
		s.logger.Warn("collection not found in vector store, skipping", "collection", collection)
		return nil, nil
	}

	chunks, err := s.store.FusionQuery(ctx, collection, q, s.prefetchLimit, s.fusionLimit)
	if err != nil {
		return nil, fmt.Errorf("querying collection %q: %w", collection, err)
	}

	s.logger.Debug("hybrid search complete",
		"collection", collection, "hits", len(chunks))
	return chunks, nil
}

// Search embeds the query and runs SearchVectors against one collection.
func (s *Searcher) Search(ctx context.Context, collection, query string) ([]vectorstore.ScoredChunk, error) {
	q, err := s.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.SearchVectors(ctx, collection, q)
}
