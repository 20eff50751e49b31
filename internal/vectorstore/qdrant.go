package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

const (
	// Vector space names for hybrid search
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
	lateVectorName   = "late"
)

// Payload fields the pipeline filters and orders by.
const (
	fieldContent        = "content"
	fieldDocumentName   = "document_name"
	fieldDocumentID     = "document_id"
	fieldHeaders        = "headers"
	fieldIndex          = "index"
	fieldOrganizationID = "organization_id"
)

// QdrantStore implements VectorStore using Qdrant
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a new Qdrant vector store client
// url should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantStore(ctx context.Context, url string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// CreateCollection creates a collection with dense, sparse, and
// late-interaction vector spaces plus payload indexes for section lookups.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, denseDim, lateDim int) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(denseDim),
				Distance: qdrant.Distance_Cosine,
				OnDisk:   qdrant.PtrOf(true),
			},
			lateVectorName: {
				Size:     uint64(lateDim),
				Distance: qdrant.Distance_Cosine,
				OnDisk:   qdrant.PtrOf(true),
				MultivectorConfig: &qdrant.MultiVectorConfig{
					Comparator: qdrant.MultiVectorComparator_MaxSim,
				},
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {
				Modifier: qdrant.Modifier_Idf.Enum(),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Payload indexes: keyword fields for exact-match section filters,
	// integer index for order-by reassembly.
	keywordFields := []string{fieldDocumentName, fieldHeaders, fieldDocumentID, fieldOrganizationID}
	for _, field := range keywordFields {
		_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create %s payload index: %w", field, err)
		}
	}
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      fieldIndex,
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to create index payload index: %w", err)
	}

	return nil
}

// DeleteCollection deletes a collection
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

// CollectionExists checks if a collection exists
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	return exists, nil
}

// PointCount returns the total number of points in a collection
func (s *QdrantStore) PointCount(ctx context.Context, name string) (uint64, error) {
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection info: %w", err)
	}
	return info.GetPointsCount(), nil
}

// Upsert inserts or updates points in the collection
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]*qdrant.Value{
			fieldContent:      qdrant.NewValueString(p.Content),
			fieldDocumentName: qdrant.NewValueString(p.Meta.DocumentName),
			fieldDocumentID:   qdrant.NewValueString(p.Meta.DocumentID),
			fieldHeaders:      qdrant.NewValueString(p.Meta.Headers),
			fieldIndex:        qdrant.NewValueInt(int64(p.Meta.Index)),
		}
		if p.Meta.OrganizationID != "" {
			payload[fieldOrganizationID] = qdrant.NewValueString(p.Meta.OrganizationID)
		}

		vectors := map[string]*qdrant.Vector{
			denseVectorName: {Data: p.Dense},
		}
		if p.Sparse != nil {
			vectors[sparseVectorName] = &qdrant.Vector{
				Indices: &qdrant.SparseIndices{Data: p.Sparse.Indices},
				Data:    p.Sparse.Values,
			}
		}
		if len(p.Late) > 0 {
			vectors[lateVectorName] = &qdrant.Vector{
				Data:         flatten(p.Late),
				VectorsCount: qdrant.PtrOf(uint32(len(p.Late))),
			}
		}

		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Payload: payload,
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vectors{
					Vectors: &qdrant.NamedVectors{Vectors: vectors},
				},
			},
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// FusionQuery runs the hybrid query: dense and sparse candidate pools are
// prefetched independently, then the union is rescored against the
// late-interaction multivector for the final ranking.
func (s *QdrantStore) FusionQuery(ctx context.Context, collection string, q QueryVectors, prefetchLimit, limit uint64) ([]ScoredChunk, error) {
	prefetch := []*qdrant.PrefetchQuery{
		{
			Query: qdrant.NewQueryDense(q.Dense),
			Using: qdrant.PtrOf(denseVectorName),
			Limit: qdrant.PtrOf(prefetchLimit),
		},
	}
	if q.Sparse != nil && len(q.Sparse.Indices) > 0 {
		prefetch = append(prefetch, &qdrant.PrefetchQuery{
			Query: qdrant.NewQuerySparse(q.Sparse.Indices, q.Sparse.Values),
			Using: qdrant.PtrOf(sparseVectorName),
			Limit: qdrant.PtrOf(prefetchLimit),
		})
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryMulti(q.Late),
		Using:          qdrant.PtrOf(lateVectorName),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run fusion query: %w", err)
	}

	results := make([]ScoredChunk, 0, len(response))
	for _, point := range response {
		results = append(results, ScoredChunk{
			Chunk: chunkFromPayload(point.Id.GetUuid(), point.Payload),
			Score: point.Score,
		})
	}
	return results, nil
}

// SectionChunks returns every chunk of one (document_name, headers) section
// ordered by sequence index. limit should be the collection's point count:
// a section has no universal upper bound on length.
func (s *QdrantStore) SectionChunks(ctx context.Context, collection, documentName, headers string, limit uint64) ([]Chunk, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(fieldDocumentName, documentName),
			qdrant.NewMatch(fieldHeaders, headers),
		},
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Prefetch: []*qdrant.PrefetchQuery{
			{
				Filter: filter,
				Limit:  qdrant.PtrOf(limit),
			},
		},
		Query:       qdrant.NewQueryOrderBy(&qdrant.OrderBy{Key: fieldIndex}),
		Limit:       qdrant.PtrOf(limit),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query section chunks: %w", err)
	}

	chunks := make([]Chunk, 0, len(response))
	for _, point := range response {
		chunks = append(chunks, chunkFromPayload(point.Id.GetUuid(), point.Payload))
	}
	return chunks, nil
}

// DeleteByDocumentName removes all chunks of a named document
func (s *QdrantStore) DeleteByDocumentName(ctx context.Context, collection, documentName, organizationID string) error {
	must := []*qdrant.Condition{
		qdrant.NewMatch(fieldDocumentName, documentName),
	}
	if organizationID != "" {
		must = append(must, qdrant.NewMatch(fieldOrganizationID, organizationID))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Must: must},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by document name: %w", err)
	}
	return nil
}

// DeleteByDocumentIDs removes all chunks belonging to the given documents
func (s *QdrantStore) DeleteByDocumentIDs(ctx context.Context, collection string, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}

	should := make([]*qdrant.Condition, len(documentIDs))
	for i, id := range documentIDs {
		should[i] = qdrant.NewMatch(fieldDocumentID, id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Should: should},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by document IDs: %w", err)
	}
	return nil
}

func chunkFromPayload(id string, payload map[string]*qdrant.Value) Chunk {
	chunk := Chunk{ID: id}
	if payload == nil {
		return chunk
	}
	if v, ok := payload[fieldContent]; ok {
		chunk.Content = v.GetStringValue()
	}
	if v, ok := payload[fieldDocumentName]; ok {
		chunk.Meta.DocumentName = v.GetStringValue()
	}
	if v, ok := payload[fieldDocumentID]; ok {
		chunk.Meta.DocumentID = v.GetStringValue()
	}
	if v, ok := payload[fieldHeaders]; ok {
		chunk.Meta.Headers = v.GetStringValue()
	}
	if v, ok := payload[fieldIndex]; ok {
		chunk.Meta.Index = int(v.GetIntegerValue())
	}
	if v, ok := payload[fieldOrganizationID]; ok {
		chunk.Meta.OrganizationID = v.GetStringValue()
	}
	return chunk
}

func flatten(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	flat := make([]float32, 0, len(vectors)*len(vectors[0]))
	for _, v := range vectors {
		flat = append(flat, v...)
	}
	return flat
}

// Ensure QdrantStore implements VectorStore
var _ VectorStore = (*QdrantStore)(nil)
