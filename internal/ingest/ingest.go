package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"uniassist/internal/docstore"
	"uniassist/internal/errkind"
	"uniassist/internal/rag"
	"uniassist/internal/resolver"
)

// Payload is one raw crawled page handed to the pipeline.
type Payload struct {
	SourceID   string
	Title      string
	Content    string
	SourceURL  string
	Collection string
	Category   string
	Metadata   map[string]any
	Priority   int
}

// Triager is the resolver port.
type Triager interface {
	Resolve(ctx context.Context, in resolver.Input) (*resolver.Resolution, error)
}

// Indexer is the chunk-embed-index port used when approving updates.
type Indexer interface {
	IndexDocument(ctx context.Context, req rag.IndexRequest) (*rag.IndexResult, error)
	DeleteDocument(ctx context.Context, sourceID, collection string) (int, error)
}

// Pipeline triages crawled content into pending updates and promotes
// approved ones into documents.
type Pipeline struct {
	store   *docstore.Store
	triager Triager
	indexer Indexer
	log     *zap.Logger
}

// NewPipeline wires the ingestion pipeline.
func NewPipeline(store *docstore.Store, triager Triager, indexer Indexer, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{store: store, triager: triager, indexer: indexer, log: log}
}

// Normalize collapses runs of whitespace and trims the edges so hashing
// ignores formatting noise.
func Normalize(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ContentHash is the deterministic SHA-256 of normalized content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(sum[:])
}

// Ingest triages one crawled payload. Every outcome, including
// duplicates and unrelated content, leaves a pending-update record so
// reviewers can audit what the crawler saw.
func (p *Pipeline) Ingest(ctx context.Context, payload Payload) (*docstore.PendingUpdate, error) {
	if strings.TrimSpace(payload.Content) == "" {
		return nil, errkind.Errorf(errkind.InvalidInput, "payload has no content")
	}
	if payload.Collection == "" {
		payload.Collection = "default"
	}

	hash := ContentHash(payload.Content)
	entry := &docstore.PendingUpdate{
		SourceID:    payload.SourceID,
		Title:       payload.Title,
		Content:     payload.Content,
		ContentHash: hash,
		SourceURL:   payload.SourceURL,
		Collection:  payload.Collection,
		Category:    payload.Category,
		Priority:    payload.Priority,
		Metadata:    cloneMetadata(payload.Metadata),
	}
	entry.Metadata["source_url"] = payload.SourceURL

	// Same hash already sitting in the queue.
	inQueue, err := p.store.PendingHashExists(ctx, hash)
	if err != nil {
		return nil, err
	}
	if inQueue {
		entry.DetectionType = docstore.DetectionDuplicate
		entry.LLMReason = "trùng với nội dung đang chờ duyệt"
		return entry, p.store.CreatePendingUpdate(ctx, entry)
	}

	// Same hash already promoted into a document.
	existing, err := p.store.FindDocumentsByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		entry.DetectionType = docstore.DetectionDuplicate
		entry.MatchedDocID = existing[0].ID
		entry.LLMReason = fmt.Sprintf("trùng với tài liệu %s", existing[0].ID)
		return entry, p.store.CreatePendingUpdate(ctx, entry)
	}

	res, err := p.triager.Resolve(ctx, resolver.Input{
		Title:      payload.Title,
		Content:    payload.Content,
		Collection: payload.Collection,
		SourceURL:  payload.SourceURL,
		Category:   payload.Category,
	})
	if err != nil {
		return nil, err
	}

	entry.LLMSummary = res.Summary
	entry.LLMReason = res.Reason
	entry.Metadata["summary"] = res.Summary
	for _, c := range res.Candidates {
		entry.CandidateDocIDs = append(entry.CandidateDocIDs, c.DocumentID)
	}
	if len(res.Candidates) > 0 {
		entry.SimilarityScore = res.Candidates[0].Score
	}

	switch res.Action {
	case resolver.ActionUnrelated:
		entry.DetectionType = docstore.DetectionUnrelated
		entry.Status = docstore.StatusRejected
	case resolver.ActionUpdate:
		entry.DetectionType = docstore.DetectionUpdate
		entry.MatchedDocID = res.UpdatedID
	default:
		entry.DetectionType = docstore.DetectionNew
	}

	if err := p.store.CreatePendingUpdate(ctx, entry); err != nil {
		return nil, err
	}
	p.log.Info("crawled content triaged",
		zap.String("pending_id", entry.ID),
		zap.String("detection", entry.DetectionType),
		zap.String("title", payload.Title))
	return entry, nil
}

// Approve promotes a pending update: creates or updates the matched
// document, then chunks, embeds and indexes its content.
func (p *Pipeline) Approve(ctx context.Context, pendingID, reviewer string) (*docstore.Document, error) {
	entry, err := p.store.GetPendingUpdate(ctx, pendingID)
	if err != nil {
		return nil, err
	}
	if entry.Status != docstore.StatusPending {
		return nil, errkind.Errorf(errkind.Conflict, "pending update %s is already %s", pendingID, entry.Status)
	}

	var doc *docstore.Document
	if entry.DetectionType == docstore.DetectionUpdate && entry.MatchedDocID != "" {
		doc, err = p.store.GetDocument(ctx, entry.MatchedDocID)
		if err != nil {
			return nil, err
		}
		// Old vectors go before reindexing the new content.
		if _, err := p.indexer.DeleteDocument(ctx, doc.ID, doc.Collection); err != nil {
			return nil, err
		}
		doc.Title = entry.Title
		doc.Content = entry.Content
		doc.ContentHash = entry.ContentHash
	} else {
		doc = &docstore.Document{
			Title:       entry.Title,
			Collection:  entry.Collection,
			Content:     entry.Content,
			ContentHash: entry.ContentHash,
			CreatedBy:   reviewer,
			Metadata:    cloneMetadata(entry.Metadata),
			IsActive:    true,

			PrimaryArtifactIndex: -1,
		}
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]any)
		}
		doc.Metadata["category"] = entry.Category
		doc.Metadata["content_hash"] = entry.ContentHash
		if err := p.store.CreateDocument(ctx, doc); err != nil {
			return nil, err
		}
	}

	indexed, err := p.indexer.IndexDocument(ctx, rag.IndexRequest{
		SourceID:   doc.ID,
		Title:      doc.Title,
		Content:    doc.Content,
		Collection: doc.Collection,
		Metadata: map[string]any{
			"category":   entry.Category,
			"source_url": entry.SourceURL,
		},
	})
	if err != nil {
		return nil, err
	}
	doc.ChunkCount = indexed.ChunksCreated
	doc.VectorIDs = indexed.VectorIDs
	if err := p.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}

	if err := p.store.TransitionPendingUpdate(ctx, pendingID, docstore.StatusApproved); err != nil {
		return nil, err
	}
	p.log.Info("pending update approved",
		zap.String("pending_id", pendingID),
		zap.String("document_id", doc.ID),
		zap.Int("chunks", indexed.ChunksCreated))
	return doc, nil
}

// Reject closes a pending update without touching documents.
func (p *Pipeline) Reject(ctx context.Context, pendingID string) error {
	return p.store.TransitionPendingUpdate(ctx, pendingID, docstore.StatusRejected)
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
