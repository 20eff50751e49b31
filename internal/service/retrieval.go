package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/docuseek/rag/internal/identity"
	"github.com/docuseek/rag/internal/repository"
	"github.com/docuseek/rag/internal/reranker"
	"github.com/docuseek/rag/internal/retrieval"
)

// RetrievalService answers scoped retrieval and standalone rerank requests.
type RetrievalService struct {
	retriever   *retrieval.Retriever
	collections *CollectionService
	identities  *identity.Cache
	encoder     reranker.CrossEncoder
	logger      *slog.Logger
}

// NewRetrievalService creates a new RetrievalService
func NewRetrievalService(
	retriever *retrieval.Retriever,
	collections *CollectionService,
	identities *identity.Cache,
	encoder reranker.CrossEncoder,
	logger *slog.Logger,
) *RetrievalService {
	return &RetrievalService{
		retriever:   retriever,
		collections: collections,
		identities:  identities,
		encoder:     encoder,
		logger:      logger,
	}
}

// Retrieve runs the pipeline over every collection the user may read:
// their personal collections plus, when organizationID names an
// organization they belong to, its collections.
func (s *RetrievalService) Retrieve(ctx context.Context, userID, organizationID, query string) ([]retrieval.Section, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	collections, err := s.collections.List(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}
	return s.retriever.Retrieve(ctx, query, collections)
}

// RetrieveCollection runs the pipeline against one named collection after
// a read access check.
func (s *RetrievalService) RetrieveCollection(ctx context.Context, userID, collectionName, query string) ([]retrieval.Section, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	c, err := s.collections.Get(ctx, userID, collectionName)
	if err != nil {
		return nil, err
	}
	return s.retriever.Retrieve(ctx, query, []*repository.Collection{c})
}

// RerankCandidate is one caller-supplied passage for standalone reranking.
type RerankCandidate struct {
	ID      string
	Content string
}

// RerankResult is a candidate with its relevance score.
type RerankResult struct {
	RerankCandidate
	Score float32
}

// Rerank scores caller-supplied candidates against a query and returns
// those at or above the threshold, best first. Candidates keep their IDs so
// callers can map scores back.
func (s *RetrievalService) Rerank(ctx context.Context, query string, candidates []RerankCandidate, threshold float32) ([]RerankResult, error) {
	if query == "" || len(candidates) == 0 {
		return nil, nil
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be in [0, 1]", ErrInvalidInput)
	}

	scored := s.scoreCandidates(ctx, query, candidates)

	results := make([]RerankResult, 0, len(scored))
	for _, r := range scored {
		if r.Score >= threshold {
			results = append(results, r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// scoreCandidates scores the batch in one call, falling back to per-item
// calls when the batch fails so one unscorable passage cannot discard the
// rest. Candidates that cannot be scored at all are dropped.
func (s *RetrievalService) scoreCandidates(ctx context.Context, query string, candidates []RerankCandidate) []RerankResult {
	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Content
	}

	scores, err := s.encoder.Score(ctx, query, passages)
	if err == nil && len(scores) == len(candidates) {
		scored := make([]RerankResult, len(candidates))
		for i, c := range candidates {
			scored[i] = RerankResult{RerankCandidate: c, Score: scores[i]}
		}
		return scored
	}
	if err == nil {
		err = fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(candidates))
	}
	s.logger.Warn("batch rerank failed, scoring candidates individually", "error", err)

	scored := make([]RerankResult, 0, len(candidates))
	for _, c := range candidates {
		single, serr := s.encoder.Score(ctx, query, []string{c.Content})
		if serr != nil || len(single) != 1 {
			s.logger.Warn("dropping unscorable candidate", "id", c.ID, "error", serr)
			continue
		}
		scored = append(scored, RerankResult{RerankCandidate: c, Score: single[0]})
	}
	if len(scored) == 0 {
		s.logger.Error("reranking failed for every candidate", "error", err)
	}
	return scored
}

// InvalidateIdentity clears cached identity state so permission changes
// take effect before the TTL would expire them.
func (s *RetrievalService) InvalidateIdentity(userID, organizationID string) {
	s.identities.Invalidate(userID, organizationID)
	s.logger.Info("identity cache invalidated",
		"user_id", userID, "organization_id", organizationID)
}
