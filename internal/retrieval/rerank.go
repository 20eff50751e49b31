package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/docuseek/rag/internal/reranker"
)

// Default relevance cutoffs on the normalized [0, 1] score scale.
// The fallback cutoff is retried when the primary cutoff filters out
// everything, trading precision for never answering with nothing.
const (
	DefaultRerankThreshold   = 0.3
	DefaultFallbackThreshold = 0.06
)

// Reranker scores reassembled sections against the query with a
// cross-encoder and filters them by relevance threshold.
type Reranker struct {
	encoder           reranker.CrossEncoder
	threshold         float32
	fallbackThreshold float32
	logger            *slog.Logger
}

// RerankerOption is a functional option for configuring Reranker.
type RerankerOption func(*Reranker)

// WithThresholds overrides the primary and fallback relevance cutoffs.
func WithThresholds(primary, fallback float32) RerankerOption {
	return func(r *Reranker) {
		r.threshold = primary
		r.fallbackThreshold = fallback
	}
}

// WithRerankerLogger sets the logger.
func WithRerankerLogger(logger *slog.Logger) RerankerOption {
	return func(r *Reranker) {
		r.logger = logger
	}
}

// NewReranker creates a Reranker over the given cross-encoder.
func NewReranker(encoder reranker.CrossEncoder, opts ...RerankerOption) *Reranker {
	r := &Reranker{
		encoder:           encoder,
		threshold:         DefaultRerankThreshold,
		fallbackThreshold: DefaultFallbackThreshold,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank scores every section against the query, keeps those at or above
// the primary threshold, and orders them by descending score. When the
// primary threshold eliminates everything, the fallback threshold is
// applied to the same scores. Empty input returns empty without invoking
// the cross-encoder.
func (r *Reranker) Rerank(ctx context.Context, query string, sections []Section) ([]Section, error) {
	if query == "" || len(sections) == 0 {
		return nil, nil
	}

	scored, err := r.scoreAll(ctx, query, sections)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		return nil, nil
	}

	kept := filterByScore(scored, r.threshold)
	if len(kept) == 0 && r.fallbackThreshold < r.threshold {
		r.logger.Info("no sections above threshold, retrying with fallback",
			"threshold", r.threshold, "fallback", r.fallbackThreshold)
		kept = filterByScore(scored, r.fallbackThreshold)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})

	r.logger.Debug("rerank complete",
		"scored", len(scored), "kept", len(kept))
	return kept, nil
}

// scoreAll scores the batch in one call, falling back to per-section calls
// when the batch fails so a single poisoned passage cannot discard every
// result. Sections that cannot be scored at all are dropped.
func (r *Reranker) scoreAll(ctx context.Context, query string, sections []Section) ([]Section, error) {
	passages := make([]string, len(sections))
	for i, s := range sections {
		passages[i] = s.Content
	}

	scores, err := r.encoder.Score(ctx, query, passages)
	if err == nil {
		if len(scores) != len(sections) {
			return nil, fmt.Errorf("reranker returned %d scores for %d sections", len(scores), len(sections))
		}
		scored := make([]Section, len(sections))
		for i, s := range sections {
			s.Score = scores[i]
			scored[i] = s
		}
		return scored, nil
	}

	r.logger.Warn("batch rerank failed, scoring sections individually", "error", err)

	scored := make([]Section, 0, len(sections))
	for _, s := range sections {
		single, serr := r.encoder.Score(ctx, query, []string{s.Content})
		if serr != nil || len(single) != 1 {
			r.logger.Warn("dropping unscorable section",
				"document", s.DocumentName, "headers", s.Headers, "error", serr)
			continue
		}
		s.Score = single[0]
		scored = append(scored, s)
	}
	// Total scoring failure degrades to an empty result; retrieval
	// callers prefer no answer over a failed request.
	if len(scored) == 0 {
		r.logger.Error("reranking failed for every section", "error", err)
	}
	return scored, nil
}

func filterByScore(sections []Section, threshold float32) []Section {
	kept := make([]Section, 0, len(sections))
	for _, s := range sections {
		if s.Score >= threshold {
			kept = append(kept, s)
		}
	}
	return kept
}
