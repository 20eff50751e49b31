package retrieval

import (
	"context"
	"log/slog"
	"sync"

	"github.com/docuseek/rag/internal/repository"
)

// DefaultTopK is how many sections a scoped retrieval returns after
// reranking.
const DefaultTopK = 5

// Retriever runs the full pipeline across a set of collections: one hybrid
// search per collection in parallel, a merged candidate pool, reassembly,
// and reranking.
type Retriever struct {
	searcher    *Searcher
	reassembler *Reassembler
	reranker    *Reranker
	topK        int
	logger      *slog.Logger
}

// RetrieverOption is a functional option for configuring Retriever.
type RetrieverOption func(*Retriever)

// WithTopK overrides how many sections are returned.
func WithTopK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// NewRetriever wires the three pipeline stages together.
func NewRetriever(searcher *Searcher, reassembler *Reassembler, reranker *Reranker, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		searcher:    searcher,
		reassembler: reassembler,
		reranker:    reranker,
		topK:        DefaultTopK,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve fans the query out across the given collections and returns the
// top sections after reassembly and reranking. The collection list is
// assumed to be access-checked already.
//
// A collection whose search fails is skipped with a warning; the query
// only fails outright when embedding or reranking fails, since those
// affect every collection equally.
func (r *Retriever) Retrieve(ctx context.Context, query string, collections []*repository.Collection) ([]Section, error) {
	if len(collections) == 0 {
		r.logger.Warn("retrieval over zero collections")
		return nil, nil
	}

	vectors, err := r.searcher.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	// Results are collected per collection slot so the merged pool keeps
	// the collection order regardless of which goroutine finishes first.
	results := make([][]ScoredCandidate, len(collections))
	var wg sync.WaitGroup
	for i, coll := range collections {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunks, err := r.searcher.SearchVectors(ctx, coll.Name, vectors)
			if err != nil {
				r.logger.Warn("search failed for collection, skipping",
					"collection", coll.Name, "error", err)
				return
			}
			tagged := make([]ScoredCandidate, len(chunks))
			for j, c := range chunks {
				tagged[j] = ScoredCandidate{
					ScoredChunk:      c,
					SourceCollection: coll.Name,
					IsPersonal:       coll.IsPersonal,
				}
			}
			results[i] = tagged
		}()
	}
	wg.Wait()

	var candidates []ScoredCandidate
	for _, batch := range results {
		candidates = append(candidates, batch...)
	}

	if len(candidates) == 0 {
		r.logger.Info("no candidates found", "collections", len(collections))
		return nil, nil
	}

	sections, err := r.reassembler.Reassemble(ctx, candidates)
	if err != nil {
		return nil, err
	}

	ranked, err := r.reranker.Rerank(ctx, query, sections)
	if err != nil {
		return nil, err
	}

	if len(ranked) > r.topK {
		ranked = ranked[:r.topK]
	}

	r.logger.Info("retrieval complete",
		"collections", len(collections),
		"candidates", len(candidates),
		"sections", len(sections),
		"returned", len(ranked))
	return ranked, nil
}
