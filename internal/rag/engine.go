// Package rag orchestrates chunking, embedding, and vector search into an
// indexing path and a retrieval path, and renders retrieved chunks into a
// source-cited context block for the language model.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"uniassist/internal/chunker"
	"uniassist/internal/errkind"
	"uniassist/internal/vectorstore"
)

// Embedder is the encoding port the engine consumes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Index is the vector index port the engine consumes.
type Index interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, records []vectorstore.Record) error
	Search(ctx context.Context, collection string, queryVec []float32, topK int, scoreThreshold float64, filter map[string]any) ([]vectorstore.Scored, error)
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) (int, error)
}

// Search types.
const (
	SearchSimilarity = "similarity"
	SearchMMR        = "mmr"
)

// SearchConfig parameterizes one retrieval call.
type SearchConfig struct {
	Collection  string
	TopK        int
	Threshold   float64
	Filter      map[string]any
	Deduplicate bool
	SearchType  string
}

// Result is one retrieved chunk.
type Result struct {
	ChunkID    string
	SourceID   string
	Title      string
	Content    string
	Score      float64
	ChunkIndex int
	Metadata   map[string]any
}

// Context is the assembled retrieval context: structured results plus the
// rendered, numbered source block.
type Context struct {
	Query    string
	Results  []Result
	Text     string
	TopScore float64
	AvgScore float64
}

// IndexRequest carries one document into the index.
type IndexRequest struct {
	SourceID   string
	Title      string
	Content    string
	Collection string
	Metadata   map[string]any
	Chunking   chunker.Config
}

// IndexResult reports what an indexing call produced.
type IndexResult struct {
	SourceID      string
	ChunksCreated int
	VectorIDs     []string
	Collection    string
}

// Engine is the RAG pipeline.
type Engine struct {
	embedder     Embedder
	index        Index
	contextChars int
	log          *zap.Logger
}

// NewEngine builds the pipeline. contextChars bounds the rendered context
// block; values <= 0 default to 12000.
func NewEngine(embedder Embedder, index Index, contextChars int, log *zap.Logger) *Engine {
	if contextChars <= 0 {
		contextChars = 12000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{embedder: embedder, index: index, contextChars: contextChars, log: log}
}

// IndexDocument chunks, embeds, and upserts one document. Vector ids are
// deterministic per source and ordered by chunk index. On upsert failure
// any partially written vectors are removed by a compensating delete.
func (e *Engine) IndexDocument(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	if req.SourceID == "" {
		return nil, errkind.Errorf(errkind.InvalidInput, "index request requires a source id")
	}
	if req.Collection == "" {
		req.Collection = "default"
	}

	chunks, err := chunker.Split(req.Content, req.Chunking)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &IndexResult{SourceID: req.SourceID, Collection: req.Collection}, nil
	}

	if err := e.index.EnsureCollection(ctx, req.Collection, e.embedder.Dimensions()); err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, errkind.Errorf(errkind.Internal, "embedded %d vectors for %d chunks", len(vectors), len(chunks))
	}

	now := time.Now().UTC().Format(time.RFC3339)
	records := make([]vectorstore.Record, len(chunks))
	vectorIDs := make([]string, len(chunks))
	for i, c := range chunks {
		payload := map[string]any{
			"content":      c.Content,
			"source_id":    req.SourceID,
			"source_title": req.Title,
			"chunk_index":  c.Index,
			"total_chunks": c.Total,
			"start_char":   c.StartChar,
			"end_char":     c.EndChar,
			"created_at":   now,
		}
		for k, v := range req.Metadata {
			if _, reserved := payload[k]; !reserved {
				payload[k] = v
			}
		}
		id := fmt.Sprintf("%s_chunk_%d", req.SourceID, c.Index)
		vectorIDs[i] = id
		records[i] = vectorstore.Record{ID: id, Vector: vectors[i], Payload: payload}
	}

	if err := e.index.Upsert(ctx, req.Collection, records); err != nil {
		if _, cleanupErr := e.index.DeleteByFilter(ctx, req.Collection, map[string]any{"source_id": req.SourceID}); cleanupErr != nil {
			e.log.Warn("failed to clean up partial index",
				zap.String("source_id", req.SourceID), zap.Error(cleanupErr))
		}
		return nil, err
	}

	e.log.Info("indexed document",
		zap.String("source_id", req.SourceID),
		zap.String("collection", req.Collection),
		zap.Int("chunks", len(chunks)))
	return &IndexResult{
		SourceID:      req.SourceID,
		ChunksCreated: len(chunks),
		VectorIDs:     vectorIDs,
		Collection:    req.Collection,
	}, nil
}

// Search embeds the query and retrieves ranked chunks, with optional
// per-source deduplication and round-robin source diversification.
func (e *Engine) Search(ctx context.Context, query string, cfg SearchConfig) ([]Result, error) {
	if cfg.Collection == "" {
		cfg.Collection = "default"
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	fetchK := cfg.TopK
	if cfg.Deduplicate {
		fetchK *= 2
	}
	scored, err := e.index.Search(ctx, cfg.Collection, vec, fetchK, cfg.Threshold, cfg.Filter)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(scored))
	for _, s := range scored {
		results = append(results, toResult(s))
	}
	if cfg.Deduplicate {
		results = dedupeBySource(results, 2)
	}
	if cfg.SearchType == SearchMMR {
		results = roundRobinBySource(results)
	}
	if len(results) > cfg.TopK {
		results = results[:cfg.TopK]
	}
	return results, nil
}

// BuildContext searches and renders a numbered, source-cited block bounded
// by the engine's character budget. Results that would overflow the budget
// are dropped from the tail.
func (e *Engine) BuildContext(ctx context.Context, query string, cfg SearchConfig) (*Context, error) {
	results, err := e.Search(ctx, query, cfg)
	if err != nil {
		return nil, err
	}

	out := &Context{Query: query}
	var sb strings.Builder
	var total float64
	for _, r := range results {
		entry := fmt.Sprintf("[%d] %s\n%s\n\n", len(out.Results)+1, sourceLabel(r), r.Content)
		if sb.Len()+len(entry) > e.contextChars {
			break
		}
		sb.WriteString(entry)
		out.Results = append(out.Results, r)
		total += r.Score
		if r.Score > out.TopScore {
			out.TopScore = r.Score
		}
	}
	if len(out.Results) > 0 {
		out.AvgScore = total / float64(len(out.Results))
	}
	out.Text = strings.TrimSpace(sb.String())
	return out, nil
}

// DeleteDocument removes every vector belonging to a source.
func (e *Engine) DeleteDocument(ctx context.Context, sourceID, collection string) (int, error) {
	if collection == "" {
		collection = "default"
	}
	return e.index.DeleteByFilter(ctx, collection, map[string]any{"source_id": sourceID})
}

func toResult(s vectorstore.Scored) Result {
	r := Result{
		ChunkID:  s.ID,
		Score:    s.Score,
		Metadata: s.Payload,
	}
	if v, ok := s.Payload["content"].(string); ok {
		r.Content = v
	}
	if v, ok := s.Payload["source_id"].(string); ok {
		r.SourceID = v
	}
	if v, ok := s.Payload["source_title"].(string); ok {
		r.Title = v
	}
	if v, ok := s.Payload["chunk_index"].(float64); ok {
		r.ChunkIndex = int(v)
	}
	return r
}

// dedupeBySource caps results per source, preserving score order.
func dedupeBySource(results []Result, maxPerSource int) []Result {
	counts := make(map[string]int)
	out := results[:0]
	for _, r := range results {
		if counts[r.SourceID] >= maxPerSource {
			continue
		}
		counts[r.SourceID]++
		out = append(out, r)
	}
	return out
}

// roundRobinBySource interleaves results across sources to maximize
// diversity while keeping per-source score order.
func roundRobinBySource(results []Result) []Result {
	if len(results) < 3 {
		return results
	}
	bySource := make(map[string][]Result)
	var order []string
	for _, r := range results {
		if _, seen := bySource[r.SourceID]; !seen {
			order = append(order, r.SourceID)
		}
		bySource[r.SourceID] = append(bySource[r.SourceID], r)
	}
	// Keep source order stable by best score.
	sort.SliceStable(order, func(i, j int) bool {
		return bySource[order[i]][0].Score > bySource[order[j]][0].Score
	})

	out := make([]Result, 0, len(results))
	for round := 0; len(out) < len(results); round++ {
		for _, src := range order {
			if round < len(bySource[src]) {
				out = append(out, bySource[src][round])
			}
		}
	}
	return out
}

func sourceLabel(r Result) string {
	if r.Title != "" {
		return fmt.Sprintf("Nguồn: %s (độ liên quan %.2f)", r.Title, r.Score)
	}
	return fmt.Sprintf("Nguồn: %s (độ liên quan %.2f)", r.SourceID, r.Score)
}
