// Package reranker provides cross-encoder relevance scoring for retrieval
// results.
//
// A cross-encoder sees the query and a passage together, which makes its
// relevance estimate considerably sharper than the bi-encoder similarity
// used for first-stage retrieval, at the cost of one inference call per
// (query, passage) pair.
package reranker

import "context"

// CrossEncoder scores (query, passage) pairs.
//
// Scores are normalized to [0, 1] before being returned; thresholding on the
// caller's side always happens on the normalized scale. The returned slice
// matches the passages slice in length and order.
type CrossEncoder interface {
	Score(ctx context.Context, query string, passages []string) ([]float32, error)
}

// sigmoid-style clamp for backends that may drift slightly out of range.
func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
