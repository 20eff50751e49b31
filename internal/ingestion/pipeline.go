package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/docuseek/rag/internal/embedder"
	"github.com/docuseek/rag/internal/vectorstore"
)

const (
	defaultPoolSize  = 4
	defaultBatchSize = 16
)

// Pipeline turns an uploaded document into indexed points: extract sections,
// chunk them, embed the chunks on a worker pool, and upsert into the vector
// store.
type Pipeline struct {
	chunker   *Chunker
	embedder  embedder.Embedder
	vectorDB  vectorstore.VectorStore
	pool      *ants.Pool
	batchSize int
	logger    *slog.Logger
}

// PipelineOption is a functional option for configuring Pipeline.
type PipelineOption func(*Pipeline) error

// WithChunkerConfig overrides the chunker configuration.
func WithChunkerConfig(config ChunkerConfig) PipelineOption {
	return func(p *Pipeline) error {
		p.chunker = NewChunker(config)
		return nil
	}
}

// WithPoolSize resizes the embedding worker pool.
func WithPoolSize(size int) PipelineOption {
	return func(p *Pipeline) error {
		if size <= 0 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithBatchSize sets how many chunks are embedded per call.
func WithBatchSize(n int) PipelineOption {
	return func(p *Pipeline) error {
		if n > 0 {
			p.batchSize = n
		}
		return nil
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) error {
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(emb embedder.Embedder, vectorDB vectorstore.VectorStore, opts ...PipelineOption) (*Pipeline, error) {
	pool, err := ants.NewPool(defaultPoolSize)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		chunker:   NewChunker(ChunkerConfig{}),
		embedder:  emb,
		vectorDB:  vectorDB,
		pool:      pool,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}
	return p, nil
}

// Release releases the worker pool. The pipeline must not be used after.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// HashContent returns the SHA-256 hex digest of the content, used for
// duplicate upload detection.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Process ingests one document into the collection and returns the number
// of chunks indexed. Chunk indexes restart at zero for every section so a
// section can later be re-read in order.
func (p *Pipeline) Process(ctx context.Context, collection string, documentID uuid.UUID, documentName, organizationID, filename string, r io.Reader) (int, error) {
	start := time.Now()

	sections, err := Extract(r, filename)
	if err != nil {
		return 0, fmt.Errorf("extracting %q: %w", filename, err)
	}

	var points []vectorstore.Point
	for _, section := range sections {
		for i, content := range p.chunker.Chunk(section.Text) {
			points = append(points, vectorstore.Point{
				ID:      uuid.New().String(),
				Content: content,
				Meta: vectorstore.ChunkMeta{
					DocumentName:   documentName,
					DocumentID:     documentID.String(),
					Headers:        section.Headers,
					Index:          i,
					OrganizationID: organizationID,
				},
			})
		}
	}
	if len(points) == 0 {
		return 0, fmt.Errorf("document %q produced no chunks", documentName)
	}

	if err := p.embedPoints(ctx, points); err != nil {
		return 0, err
	}

	if err := p.vectorDB.Upsert(ctx, collection, points); err != nil {
		return 0, fmt.Errorf("upserting points: %w", err)
	}

	p.logger.Info("document ingested",
		"collection", collection,
		"document", documentName,
		"sections", len(sections),
		"chunks", len(points),
		"duration", time.Since(start))
	return len(points), nil
}

// embedPoints embeds all points in batches on the worker pool and fills in
// their vectors. Any batch failure fails the whole document; a partially
// embedded document must not reach the index.
func (p *Pipeline) embedPoints(ctx context.Context, points []vectorstore.Point) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for batchStart := 0; batchStart < len(points); batchStart += p.batchSize {
		batch := points[batchStart:min(batchStart+p.batchSize, len(points))]
		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			texts := make([]string, len(batch))
			for i := range batch {
				texts[i] = batch[i].Content
			}
			embeddings, err := p.embedder.EmbedPassages(ctx, texts)
			if err == nil && len(embeddings) != len(batch) {
				err = fmt.Errorf("embedder returned %d embeddings for %d chunks", len(embeddings), len(batch))
			}
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			for i := range batch {
				batch[i].Dense = embeddings[i].Dense
				batch[i].Sparse = embeddings[i].Sparse
				batch[i].Late = embeddings[i].Late
			}
		})
		if submitErr != nil {
			wg.Done()
			return fmt.Errorf("submitting embedding batch: %w", submitErr)
		}
	}
	wg.Wait()

	if firstErr != nil {
		return fmt.Errorf("embedding document: %w", firstErr)
	}
	return nil
}
