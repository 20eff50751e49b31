package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/docuseek/rag/internal/vectorstore"
)

// defaultReassemblyConcurrency bounds how many section lookups run at once.
const defaultReassemblyConcurrency = 8

// Reassembler turns first-stage chunk hits back into whole document
// sections. Retrieval returns fragments; answering needs the surrounding
// text, so every distinct (document name, headers) group among the hits is
// re-read from its collection in full, ordered by sequence index.
type Reassembler struct {
	store       vectorstore.VectorStore
	concurrency int
	logger      *slog.Logger
}

// ReassemblerOption is a functional option for configuring Reassembler.
type ReassemblerOption func(*Reassembler)

// WithReassemblyConcurrency bounds parallel section lookups.
func WithReassemblyConcurrency(n int) ReassemblerOption {
	return func(r *Reassembler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithReassemblerLogger sets the logger.
func WithReassemblerLogger(logger *slog.Logger) ReassemblerOption {
	return func(r *Reassembler) {
		r.logger = logger
	}
}

// NewReassembler creates a Reassembler over the given store.
func NewReassembler(store vectorstore.VectorStore, opts ...ReassemblerOption) *Reassembler {
	r := &Reassembler{
		store:       store,
		concurrency: defaultReassemblyConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type sectionKey struct {
	collection   string
	documentName string
	headers      string
}

type sectionGroup struct {
	key        sectionKey
	first      vectorstore.ChunkMeta
	isPersonal bool
	recurrence int
}

// Reassemble groups candidates by (document name, headers) within their
// source collection and fetches each group's complete chunk sequence.
// Sections come back ordered by descending recurrence; ties keep the order
// in which the section was first seen among the candidates. A failed
// section lookup drops that section with a warning but never fails the
// others.
func (r *Reassembler) Reassemble(ctx context.Context, candidates []ScoredCandidate) ([]Section, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	// Group in first-seen order so recurrence ties stay deterministic.
	groups := make([]*sectionGroup, 0, len(candidates))
	byKey := make(map[sectionKey]*sectionGroup, len(candidates))
	for _, c := range candidates {
		key := sectionKey{c.SourceCollection, c.Meta.DocumentName, c.Meta.Headers}
		if g, ok := byKey[key]; ok {
			g.recurrence++
			continue
		}
		g := &sectionGroup{key: key, first: c.Meta, isPersonal: c.IsPersonal, recurrence: 1}
		byKey[key] = g
		groups = append(groups, g)
	}

	// The section query needs an upper bound on its result size. The
	// collection's point count is always sufficient, fetched once per
	// collection rather than per section.
	counts := make(map[string]uint64)
	for _, g := range groups {
		if _, ok := counts[g.key.collection]; ok {
			continue
		}
		count, err := r.store.PointCount(ctx, g.key.collection)
		if err != nil {
			r.logger.Warn("point count lookup failed, sections from collection dropped",
				"collection", g.key.collection, "error", err)
			continue
		}
		counts[g.key.collection] = count
	}

	sections := make([]*Section, len(groups))
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)
	for i, g := range groups {
		limit, ok := counts[g.key.collection]
		if !ok {
			continue
		}
		eg.Go(func() error {
			chunks, err := r.store.SectionChunks(egCtx, g.key.collection, g.key.documentName, g.key.headers, limit)
			if err != nil {
				r.logger.Warn("section lookup failed, dropping section",
					"collection", g.key.collection,
					"document", g.key.documentName,
					"headers", g.key.headers,
					"error", err)
				return nil
			}
			if len(chunks) == 0 {
				return nil
			}
			mu.Lock()
			sections[i] = &Section{
				DocumentName:     g.key.documentName,
				DocumentID:       g.first.DocumentID,
				Headers:          g.key.headers,
				Content:          joinChunks(chunks),
				SourceCollection: g.key.collection,
				IsPersonal:       g.isPersonal,
				Recurrence:       g.recurrence,
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	result := make([]Section, 0, len(sections))
	for _, s := range sections {
		if s != nil {
			result = append(result, *s)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Recurrence > result[j].Recurrence
	})

	r.logger.Debug("reassembly complete",
		"candidates", len(candidates), "sections", len(result))
	return result, nil
}

func joinChunks(chunks []vectorstore.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	return strings.Join(parts, "\n\n")
}
