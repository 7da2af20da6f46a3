package rag

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"uniassist/internal/chunker"
	"uniassist/internal/vectorstore"
)

// fakeEmbedder maps known texts to fixed vectors; unknown texts get a
// faint default so cosine stays defined.
type fakeEmbedder struct {
	vecs map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return []float32{0.01, 0.01, 0.01}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

func newTestEngine(t *testing.T, embedder Embedder, contextChars int) (*Engine, *vectorstore.Store) {
	t.Helper()
	store, err := vectorstore.Open(filepath.Join(t.TempDir(), "vec.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewEngine(embedder, store, contextChars, nil), store
}

func seedIndex(t *testing.T, store *vectorstore.Store, records []vectorstore.Record) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "default", 3))
	require.NoError(t, store.Upsert(ctx, "default", records))
}

func chunkRecord(id, sourceID, title, content string, vec []float32) vectorstore.Record {
	return vectorstore.Record{
		ID:     id,
		Vector: vec,
		Payload: map[string]any{
			"content":      content,
			"source_id":    sourceID,
			"source_title": title,
			"chunk_index":  0,
		},
	}
}

func TestIndexDocumentInvariants(t *testing.T) {
	engine, store := newTestEngine(t, &fakeEmbedder{}, 0)
	ctx := context.Background()

	content := strings.Repeat("Quy chế đào tạo tín chỉ của trường. ", 40)
	cfg := chunker.DefaultConfig()
	cfg.ChunkSize = 200
	cfg.ChunkOverlap = 20

	res, err := engine.IndexDocument(ctx, IndexRequest{
		SourceID:   "doc-1",
		Title:      "Quy chế đào tạo",
		Content:    content,
		Collection: "default",
		Metadata:   map[string]any{"category": "regulation"},
		Chunking:   cfg,
	})
	require.NoError(t, err)
	require.Greater(t, res.ChunksCreated, 1)
	require.Len(t, res.VectorIDs, res.ChunksCreated)

	for i, id := range res.VectorIDs {
		rec, err := store.Get(ctx, "default", id)
		require.NoError(t, err)
		require.Equal(t, "doc-1", rec.Payload["source_id"])
		require.EqualValues(t, i, rec.Payload["chunk_index"])
		require.Equal(t, "regulation", rec.Payload["category"])
	}

	// Reserved payload keys win over source metadata.
	res2, err := engine.IndexDocument(ctx, IndexRequest{
		SourceID: "doc-2",
		Content:  content,
		Metadata: map[string]any{"source_id": "spoofed"},
		Chunking: cfg,
	})
	require.NoError(t, err)
	rec, err := store.Get(ctx, "default", res2.VectorIDs[0])
	require.NoError(t, err)
	require.Equal(t, "doc-2", rec.Payload["source_id"])
}

func TestSearchDeduplicatesPerSource(t *testing.T) {
	embedder := &fakeEmbedder{vecs: map[string][]float32{
		"học phí": {1, 0, 0},
	}}
	engine, store := newTestEngine(t, embedder, 0)
	seedIndex(t, store, []vectorstore.Record{
		chunkRecord("a_chunk_0", "a", "Học phí", "hp0", []float32{1, 0, 0}),
		chunkRecord("a_chunk_1", "a", "Học phí", "hp1", []float32{0.99, 0.1, 0}),
		chunkRecord("a_chunk_2", "a", "Học phí", "hp2", []float32{0.97, 0.2, 0}),
		chunkRecord("b_chunk_0", "b", "Miễn giảm", "mg0", []float32{0.9, 0.3, 0}),
	})

	results, err := engine.Search(context.Background(), "học phí", SearchConfig{
		TopK: 4, Deduplicate: true,
	})
	require.NoError(t, err)

	perSource := map[string]int{}
	for i, r := range results {
		perSource[r.SourceID]++
		if i > 0 {
			require.LessOrEqual(t, r.Score, results[i-1].Score, "scores must be non-increasing")
		}
	}
	require.LessOrEqual(t, perSource["a"], 2)
	require.Equal(t, 1, perSource["b"])
}

func TestSearchMMRRoundRobin(t *testing.T) {
	embedder := &fakeEmbedder{vecs: map[string][]float32{"q": {1, 0, 0}}}
	engine, store := newTestEngine(t, embedder, 0)
	seedIndex(t, store, []vectorstore.Record{
		chunkRecord("a_chunk_0", "a", "", "a0", []float32{1, 0, 0}),
		chunkRecord("a_chunk_1", "a", "", "a1", []float32{0.99, 0.05, 0}),
		chunkRecord("b_chunk_0", "b", "", "b0", []float32{0.95, 0.1, 0}),
		chunkRecord("b_chunk_1", "b", "", "b1", []float32{0.9, 0.2, 0}),
	})

	results, err := engine.Search(context.Background(), "q", SearchConfig{
		TopK: 4, SearchType: SearchMMR,
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	require.Equal(t, "a", results[0].SourceID)
	require.Equal(t, "b", results[1].SourceID)
	require.Equal(t, "a", results[2].SourceID)
	require.Equal(t, "b", results[3].SourceID)
}

func TestSearchThreshold(t *testing.T) {
	embedder := &fakeEmbedder{vecs: map[string][]float32{"q": {1, 0, 0}}}
	engine, store := newTestEngine(t, embedder, 0)
	seedIndex(t, store, []vectorstore.Record{
		chunkRecord("a_chunk_0", "a", "", "hit", []float32{1, 0, 0}),
		chunkRecord("b_chunk_0", "b", "", "miss", []float32{0, 1, 0}),
	})

	results, err := engine.Search(context.Background(), "q", SearchConfig{TopK: 5, Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "hit", results[0].Content)
	for _, r := range results {
		require.GreaterOrEqual(t, r.Score, 0.5)
		require.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestBuildContextRendersAndBounds(t *testing.T) {
	embedder := &fakeEmbedder{vecs: map[string][]float32{"q": {1, 0, 0}}}
	engine, store := newTestEngine(t, embedder, 400)
	seedIndex(t, store, []vectorstore.Record{
		chunkRecord("a_chunk_0", "a", "Thông báo A", strings.Repeat("x", 100), []float32{1, 0, 0}),
		chunkRecord("b_chunk_0", "b", "Thông báo B", strings.Repeat("y", 100), []float32{0.9, 0.1, 0}),
		chunkRecord("c_chunk_0", "c", "Thông báo C", strings.Repeat("z", 100), []float32{0.8, 0.2, 0}),
	})

	rc, err := engine.BuildContext(context.Background(), "q", SearchConfig{TopK: 3})
	require.NoError(t, err)
	// Third entry would overflow the 400-char budget.
	require.Len(t, rc.Results, 2)
	require.Contains(t, rc.Text, "[1] Nguồn: Thông báo A")
	require.Contains(t, rc.Text, "[2] Nguồn: Thông báo B")
	require.NotContains(t, rc.Text, "[3]")
	require.InDelta(t, rc.Results[0].Score, rc.TopScore, 1e-9)
	require.Greater(t, rc.AvgScore, 0.0)
}

func TestDeleteDocument(t *testing.T) {
	embedder := &fakeEmbedder{vecs: map[string][]float32{"q": {1, 0, 0}}}
	engine, store := newTestEngine(t, embedder, 0)
	seedIndex(t, store, []vectorstore.Record{
		chunkRecord("a_chunk_0", "a", "", "a0", []float32{1, 0, 0}),
		chunkRecord("a_chunk_1", "a", "", "a1", []float32{0.9, 0.1, 0}),
		chunkRecord("b_chunk_0", "b", "", "b0", []float32{0.8, 0.2, 0}),
	})

	n, err := engine.DeleteDocument(context.Background(), "a", "default")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	results, err := engine.Search(context.Background(), "q", SearchConfig{TopK: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].SourceID)
}
