package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/docuseek/rag/internal/embedder"
	"github.com/docuseek/rag/internal/repository"
	"github.com/docuseek/rag/internal/vectorstore"
)

// fakeStore is an in-memory VectorStore with per-collection canned results.
type fakeStore struct {
	collections map[string]fakeCollection
	failQuery   map[string]bool
	failSection map[string]bool // keyed by documentName

	mu           sync.Mutex
	queryCalls   int
	sectionCalls int
}

type fakeCollection struct {
	hits     []vectorstore.ScoredChunk
	sections map[string][]vectorstore.Chunk // keyed by documentName|headers
	points   uint64
}

func sectionMapKey(documentName, headers string) string {
	return documentName + "|" + headers
}

func (f *fakeStore) CreateCollection(ctx context.Context, name string, denseDim, lateDim int) error {
	return nil
}

func (f *fakeStore) DeleteCollection(ctx context.Context, name string) error { return nil }

func (f *fakeStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeStore) PointCount(ctx context.Context, name string) (uint64, error) {
	return f.collections[name].points, nil
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	return nil
}

func (f *fakeStore) FusionQuery(ctx context.Context, collection string, q vectorstore.QueryVectors, prefetchLimit, limit uint64) ([]vectorstore.ScoredChunk, error) {
	f.mu.Lock()
	f.queryCalls++
	f.mu.Unlock()
	if f.failQuery[collection] {
		return nil, errors.New("query failed")
	}
	return f.collections[collection].hits, nil
}

func (f *fakeStore) SectionChunks(ctx context.Context, collection, documentName, headers string, limit uint64) ([]vectorstore.Chunk, error) {
	f.mu.Lock()
	f.sectionCalls++
	f.mu.Unlock()
	if f.failSection[documentName] {
		return nil, errors.New("section lookup failed")
	}
	chunks := f.collections[collection].sections[sectionMapKey(documentName, headers)]
	if uint64(len(chunks)) > limit {
		chunks = chunks[:limit]
	}
	return chunks, nil
}

func (f *fakeStore) DeleteByDocumentName(ctx context.Context, collection, documentName, organizationID string) error {
	return nil
}

func (f *fakeStore) DeleteByDocumentIDs(ctx context.Context, collection string, documentIDs []string) error {
	return nil
}

// fakeEmbedder returns fixed vectors and counts invocations.
type fakeEmbedder struct {
	queryCalls int
	fail       bool
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) (*embedder.Embedding, error) {
	f.queryCalls++
	if f.fail {
		return nil, errors.New("embedding failed")
	}
	return &embedder.Embedding{
		Dense:  []float32{0.1, 0.2},
		Sparse: &vectorstore.SparseVector{Indices: []uint32{1}, Values: []float32{1}},
		Late:   [][]float32{{0.1, 0.2}},
	}, nil
}

func (f *fakeEmbedder) EmbedPassages(ctx context.Context, texts []string) ([]*embedder.Embedding, error) {
	out := make([]*embedder.Embedding, len(texts))
	for i := range texts {
		e, err := f.EmbedQuery(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (f *fakeEmbedder) DenseDimension() int { return 2 }
func (f *fakeEmbedder) LateDimension() int  { return 2 }

// fakeEncoder scores passages by a keyword table and counts invocations.
type fakeEncoder struct {
	scores    map[string]float32 // substring match against passage
	fallback  float32
	calls     int
	failBatch bool
	failWith  string // individual calls fail for passages containing this
}

func (f *fakeEncoder) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	f.calls++
	if f.failBatch && len(passages) > 1 {
		return nil, errors.New("batch scoring failed")
	}
	out := make([]float32, len(passages))
	for i, p := range passages {
		if f.failWith != "" && strings.Contains(p, f.failWith) {
			return nil, errors.New("scoring failed")
		}
		out[i] = f.fallback
		for key, score := range f.scores {
			if strings.Contains(p, key) {
				out[i] = score
			}
		}
	}
	return out, nil
}

func hit(doc, headers, content string, index int, score float32) vectorstore.ScoredChunk {
	return vectorstore.ScoredChunk{
		Chunk: vectorstore.Chunk{
			ID:      fmt.Sprintf("%s-%s-%d", doc, headers, index),
			Content: content,
			Meta: vectorstore.ChunkMeta{
				DocumentName: doc,
				Headers:      headers,
				Index:        index,
			},
		},
		Score: score,
	}
}

func chunk(doc, headers, content string, index int) vectorstore.Chunk {
	c := hit(doc, headers, content, index, 0)
	return c.Chunk
}

func TestSearchMissingCollectionReturnsEmpty(t *testing.T) {
	store := &fakeStore{collections: map[string]fakeCollection{}}
	emb := &fakeEmbedder{}
	s := NewSearcher(store, emb)

	chunks, err := s.Search(context.Background(), "nope", "query")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected empty result, got %d chunks", len(chunks))
	}
	if store.queryCalls != 0 {
		t.Errorf("missing collection should not be queried, got %d calls", store.queryCalls)
	}
}

func TestReassembleGroupsAndCountsRecurrence(t *testing.T) {
	store := &fakeStore{collections: map[string]fakeCollection{
		"docs": {
			points: 100,
			sections: map[string][]vectorstore.Chunk{
				sectionMapKey("guide.md", "Guide > Returns"): {
					chunk("guide.md", "Guide > Returns", "part one", 0),
					chunk("guide.md", "Guide > Returns", "part two", 1),
					chunk("guide.md", "Guide > Returns", "part three", 2),
				},
				sectionMapKey("faq.md", "FAQ"): {
					chunk("faq.md", "FAQ", "answer", 0),
				},
			},
		},
	}}
	r := NewReassembler(store)

	candidates := []ScoredCandidate{
		{ScoredChunk: hit("faq.md", "FAQ", "answer", 0, 0.9), SourceCollection: "docs"},
		{ScoredChunk: hit("guide.md", "Guide > Returns", "part one", 0, 0.8), SourceCollection: "docs"},
		{ScoredChunk: hit("guide.md", "Guide > Returns", "part three", 2, 0.7), SourceCollection: "docs"},
	}

	sections, err := r.Reassemble(context.Background(), candidates)
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}

	// guide.md contributed two hits so it outranks faq.md.
	if sections[0].DocumentName != "guide.md" || sections[0].Recurrence != 2 {
		t.Errorf("first section = %s (recurrence %d), want guide.md (2)",
			sections[0].DocumentName, sections[0].Recurrence)
	}
	if sections[1].DocumentName != "faq.md" || sections[1].Recurrence != 1 {
		t.Errorf("second section = %s (recurrence %d), want faq.md (1)",
			sections[1].DocumentName, sections[1].Recurrence)
	}

	want := "part one\n\npart two\n\npart three"
	if sections[0].Content != want {
		t.Errorf("section content = %q, want %q", sections[0].Content, want)
	}
}

func TestReassembleTiesKeepFirstSeenOrder(t *testing.T) {
	store := &fakeStore{collections: map[string]fakeCollection{
		"docs": {
			points: 100,
			sections: map[string][]vectorstore.Chunk{
				sectionMapKey("b.md", "B"): {chunk("b.md", "B", "b text", 0)},
				sectionMapKey("a.md", "A"): {chunk("a.md", "A", "a text", 0)},
			},
		},
	}}
	r := NewReassembler(store)

	candidates := []ScoredCandidate{
		{ScoredChunk: hit("b.md", "B", "b text", 0, 0.5), SourceCollection: "docs"},
		{ScoredChunk: hit("a.md", "A", "a text", 0, 0.5), SourceCollection: "docs"},
	}

	sections, err := r.Reassemble(context.Background(), candidates)
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if len(sections) != 2 || sections[0].DocumentName != "b.md" {
		t.Errorf("tie order broken: got %v", sectionNames(sections))
	}
}

func TestReassembleDropsFailedSectionOnly(t *testing.T) {
	store := &fakeStore{
		collections: map[string]fakeCollection{
			"docs": {
				points: 100,
				sections: map[string][]vectorstore.Chunk{
					sectionMapKey("ok.md", "A"): {chunk("ok.md", "A", "fine", 0)},
				},
			},
		},
		failSection: map[string]bool{"bad.md": true},
	}
	r := NewReassembler(store)

	candidates := []ScoredCandidate{
		{ScoredChunk: hit("bad.md", "B", "broken", 0, 0.9), SourceCollection: "docs"},
		{ScoredChunk: hit("ok.md", "A", "fine", 0, 0.8), SourceCollection: "docs"},
	}

	sections, err := r.Reassemble(context.Background(), candidates)
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if len(sections) != 1 || sections[0].DocumentName != "ok.md" {
		t.Errorf("expected only ok.md to survive, got %v", sectionNames(sections))
	}
}

func TestReassembleGroupsEmptyMetadata(t *testing.T) {
	store := &fakeStore{collections: map[string]fakeCollection{
		"docs": {
			points: 100,
			sections: map[string][]vectorstore.Chunk{
				sectionMapKey("", ""): {
					chunk("", "", "first", 0),
					chunk("", "", "second", 1),
				},
			},
		},
	}}
	r := NewReassembler(store)

	// Chunks with no document name or headers still group, under the
	// empty key.
	candidates := []ScoredCandidate{
		{ScoredChunk: hit("", "", "first", 0, 0.9), SourceCollection: "docs"},
		{ScoredChunk: hit("", "", "second", 1, 0.8), SourceCollection: "docs"},
	}

	sections, err := r.Reassemble(context.Background(), candidates)
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	if sections[0].DocumentName != "" || sections[0].Headers != "" {
		t.Errorf("empty metadata not preserved: %+v", sections[0])
	}
	if sections[0].Recurrence != 2 {
		t.Errorf("recurrence = %d, want 2", sections[0].Recurrence)
	}
	if want := "first\n\nsecond"; sections[0].Content != want {
		t.Errorf("content = %q, want %q", sections[0].Content, want)
	}
}

func TestRerankEmptyInputSkipsEncoder(t *testing.T) {
	enc := &fakeEncoder{}
	r := NewReranker(enc)

	out, err := r.Rerank(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty output, got %d", len(out))
	}
	if enc.calls != 0 {
		t.Errorf("encoder invoked on empty input: %d calls", enc.calls)
	}
}

func TestRerankFiltersAndOrders(t *testing.T) {
	enc := &fakeEncoder{
		scores:   map[string]float32{"relevant": 0.8, "somewhat": 0.5, "noise": 0.1},
		fallback: 0,
	}
	r := NewReranker(enc)

	sections := []Section{
		{DocumentName: "a.md", Content: "noise"},
		{DocumentName: "b.md", Content: "somewhat"},
		{DocumentName: "c.md", Content: "relevant"},
	}

	out, err := r.Rerank(context.Background(), "query", sections)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 sections past threshold, got %d", len(out))
	}
	if out[0].DocumentName != "c.md" || out[1].DocumentName != "b.md" {
		t.Errorf("order = %v, want [c.md b.md]", sectionNames(out))
	}
	if out[0].Score != 0.8 {
		t.Errorf("score = %v, want 0.8", out[0].Score)
	}
}

func TestRerankFallbackThreshold(t *testing.T) {
	enc := &fakeEncoder{
		scores:   map[string]float32{"weak": 0.1},
		fallback: 0,
	}
	r := NewReranker(enc)

	sections := []Section{
		{DocumentName: "w.md", Content: "weak"},
		{DocumentName: "z.md", Content: "zero"},
	}

	out, err := r.Rerank(context.Background(), "query", sections)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 1 || out[0].DocumentName != "w.md" {
		t.Errorf("fallback kept %v, want [w.md]", sectionNames(out))
	}
	if enc.calls != 1 {
		t.Errorf("fallback must reuse scores, encoder called %d times", enc.calls)
	}
}

func TestRerankIsolatesFailedSections(t *testing.T) {
	enc := &fakeEncoder{
		scores:    map[string]float32{"good": 0.9},
		failBatch: true,
		failWith:  "poison",
	}
	r := NewReranker(enc)

	sections := []Section{
		{DocumentName: "good.md", Content: "good"},
		{DocumentName: "bad.md", Content: "poison"},
	}

	out, err := r.Rerank(context.Background(), "query", sections)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 1 || out[0].DocumentName != "good.md" {
		t.Errorf("expected only good.md to survive, got %v", sectionNames(out))
	}
}

func TestRerankEmptyQuerySkipsEncoder(t *testing.T) {
	enc := &fakeEncoder{}
	r := NewReranker(enc)

	out, err := r.Rerank(context.Background(), "", []Section{{Content: "x"}})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 0 || enc.calls != 0 {
		t.Errorf("empty query must short-circuit: out=%d calls=%d", len(out), enc.calls)
	}
}

func TestRerankTotalFailureReturnsEmpty(t *testing.T) {
	enc := &fakeEncoder{failBatch: true, failWith: "text"}
	r := NewReranker(enc)

	sections := []Section{
		{DocumentName: "a.md", Content: "some text"},
		{DocumentName: "b.md", Content: "more text"},
	}
	out, err := r.Rerank(context.Background(), "query", sections)
	if err != nil {
		t.Fatalf("total scoring failure should not be an error, got %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty result, got %d", len(out))
	}
}

func TestRetrieveFansOutWithIsolation(t *testing.T) {
	store := &fakeStore{
		collections: map[string]fakeCollection{
			"personal": {
				points: 10,
				hits:   []vectorstore.ScoredChunk{hit("mine.md", "Notes", "relevant personal", 0, 0.9)},
				sections: map[string][]vectorstore.Chunk{
					sectionMapKey("mine.md", "Notes"): {chunk("mine.md", "Notes", "relevant personal", 0)},
				},
			},
			"org-docs": {
				points: 10,
				hits:   []vectorstore.ScoredChunk{hit("shared.md", "Policy", "relevant shared", 0, 0.8)},
				sections: map[string][]vectorstore.Chunk{
					sectionMapKey("shared.md", "Policy"): {chunk("shared.md", "Policy", "relevant shared", 0)},
				},
			},
			"broken": {points: 10},
		},
		failQuery: map[string]bool{"broken": true},
	}
	emb := &fakeEmbedder{}
	enc := &fakeEncoder{scores: map[string]float32{"relevant": 0.9}, fallback: 0}

	r := NewRetriever(
		NewSearcher(store, emb),
		NewReassembler(store),
		NewReranker(enc),
	)

	collections := []*repository.Collection{
		{Name: "personal", IsPersonal: true},
		{Name: "broken"},
		{Name: "org-docs"},
		{Name: "absent"}, // not in the vector store at all
	}

	out, err := r.Retrieve(context.Background(), "query", collections)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 sections, got %d: %v", len(out), sectionNames(out))
	}
	if emb.queryCalls != 1 {
		t.Errorf("query embedded %d times, want once for the whole fan-out", emb.queryCalls)
	}

	byDoc := map[string]Section{}
	for _, s := range out {
		byDoc[s.DocumentName] = s
	}
	personal, ok := byDoc["mine.md"]
	if !ok || personal.SourceCollection != "personal" || !personal.IsPersonal {
		t.Errorf("personal provenance lost: %+v", personal)
	}
	shared, ok := byDoc["shared.md"]
	if !ok || shared.SourceCollection != "org-docs" || shared.IsPersonal {
		t.Errorf("organization provenance lost: %+v", shared)
	}
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	coll := fakeCollection{points: 100, sections: map[string][]vectorstore.Chunk{}}
	for i := 0; i < 8; i++ {
		doc := fmt.Sprintf("doc%d.md", i)
		coll.hits = append(coll.hits, hit(doc, "H", "relevant "+doc, 0, 0.9))
		coll.sections[sectionMapKey(doc, "H")] = []vectorstore.Chunk{chunk(doc, "H", "relevant "+doc, 0)}
	}
	store := &fakeStore{collections: map[string]fakeCollection{"docs": coll}}
	emb := &fakeEmbedder{}
	enc := &fakeEncoder{scores: map[string]float32{"relevant": 0.9}, fallback: 0}

	r := NewRetriever(
		NewSearcher(store, emb),
		NewReassembler(store),
		NewReranker(enc),
		WithTopK(3),
	)

	out, err := r.Retrieve(context.Background(), "query",
		[]*repository.Collection{{Name: "docs"}})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(out) != 3 {
		t.Errorf("expected 3 sections, got %d", len(out))
	}
}

func TestRetrieveNoCollections(t *testing.T) {
	store := &fakeStore{collections: map[string]fakeCollection{}}
	emb := &fakeEmbedder{}
	r := NewRetriever(NewSearcher(store, emb), NewReassembler(store), NewReranker(&fakeEncoder{}))

	out, err := r.Retrieve(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no sections, got %d", len(out))
	}
	if emb.queryCalls != 0 {
		t.Errorf("query embedded with no collections to search")
	}
}

func sectionNames(sections []Section) []string {
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = s.DocumentName
	}
	return names
}
