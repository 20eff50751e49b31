// Package vectorstore provides interfaces and implementations for hybrid
// vector similarity search over multi-space collections.
package vectorstore

import (
	"context"
)

// SparseVector represents a sparse vector with indices and values
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// QueryVectors holds the three query-time representations of one input text.
type QueryVectors struct {
	Dense  []float32
	Sparse *SparseVector
	Late   [][]float32 // token-level multivector
}

// ChunkMeta is the payload stored alongside every chunk.
type ChunkMeta struct {
	DocumentName   string
	DocumentID     string
	Headers        string // structured section path, e.g. "Guide > Returns"
	Index          int    // sequence index of the chunk within its section
	OrganizationID string // empty for personal collections
}

// Chunk is a unit of retrieved text with its payload.
type Chunk struct {
	ID      string
	Content string
	Meta    ChunkMeta
}

// ScoredChunk is a chunk with the similarity score assigned by the index.
type ScoredChunk struct {
	Chunk
	Score float32
}

// Point is a chunk plus its passage-time vectors, ready for upsert.
type Point struct {
	ID      string
	Content string
	Meta    ChunkMeta
	Dense   []float32
	Sparse  *SparseVector
	Late    [][]float32
}

// VectorStore defines the interface for multi-space vector index operations
type VectorStore interface {
	// CreateCollection creates a collection with dense, sparse, and
	// late-interaction vector spaces plus the payload indexes the
	// retrieval pipeline filters and orders by.
	CreateCollection(ctx context.Context, name string, denseDim, lateDim int) error

	// DeleteCollection deletes a collection
	DeleteCollection(ctx context.Context, name string) error

	// CollectionExists checks if a collection exists
	CollectionExists(ctx context.Context, name string) (bool, error)

	// PointCount returns the total number of points in a collection
	PointCount(ctx context.Context, name string) (uint64, error)

	// Upsert inserts or updates points in the collection
	Upsert(ctx context.Context, collection string, points []Point) error

	// FusionQuery runs the hybrid query: dense and sparse prefetch pools
	// of prefetchLimit each, rescored by the late-interaction vectors,
	// returning the top limit chunks.
	FusionQuery(ctx context.Context, collection string, q QueryVectors, prefetchLimit, limit uint64) ([]ScoredChunk, error)

	// SectionChunks returns every chunk of one (document_name, headers)
	// section ordered by sequence index, up to limit.
	SectionChunks(ctx context.Context, collection, documentName, headers string, limit uint64) ([]Chunk, error)

	// DeleteByDocumentName removes all chunks of a named document,
	// optionally restricted to an organization.
	DeleteByDocumentName(ctx context.Context, collection, documentName, organizationID string) error

	// DeleteByDocumentIDs removes all chunks belonging to the given documents.
	DeleteByDocumentIDs(ctx context.Context, collection string, documentIDs []string) error
}
