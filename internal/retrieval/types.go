// Package retrieval implements the multi-stage retrieval pipeline: hybrid
// search fanned out across accessible collections, reassembly of chunk hits
// into whole document sections, and cross-encoder reranking of the result.
package retrieval

import (
	"github.com/docuseek/rag/internal/vectorstore"
)

// ScoredCandidate is a first-stage hit annotated with where it came from.
// Provenance survives the merge across collections so later stages can
// report which collection produced a result.
type ScoredCandidate struct {
	vectorstore.ScoredChunk
	SourceCollection string
	IsPersonal       bool
}

// Section is a reassembled document section: every chunk of one
// (document name, headers) group stitched back together in sequence order.
type Section struct {
	DocumentName     string
	DocumentID       string
	Headers          string
	Content          string
	SourceCollection string
	IsPersonal       bool

	// Recurrence counts how many first-stage hits fell inside this
	// section. More hits from the same section is a strong relevance
	// signal, independent of any single chunk's score.
	Recurrence int

	// Score is the cross-encoder relevance score in [0, 1]. Zero until
	// the section has been reranked.
	Score float32
}
