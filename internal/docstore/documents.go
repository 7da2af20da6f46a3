package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"uniassist/internal/errkind"
)

// Artifact is a downloadable file attached to a document.
type Artifact struct {
	StorageKey   string   `json:"storage_key"`
	ArtifactType string   `json:"artifact_type"`
	FileName     string   `json:"file_name"`
	MimeType     string   `json:"mime_type"`
	SizeBytes    int64    `json:"size_bytes"`
	PreviewKey   string   `json:"preview_key,omitempty"`
	IsFillable   bool     `json:"is_fillable"`
	FillFields   []string `json:"fill_fields,omitempty"`
}

// Document is one logical knowledge-base entry. VectorIDs parallels the
// document's chunks in order; PrimaryArtifactIndex is -1 when unset.
type Document struct {
	ID                   string
	Title                string
	FileName             string
	Collection           string
	Content              string
	Metadata             map[string]any
	Tags                 []string
	CreatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	IsActive             bool
	ContentHash          string
	ChunkCount           int
	VectorIDs            []string
	Artifacts            []Artifact
	PrimaryArtifactIndex int
}

// Validate checks the document's structural invariants.
func (d *Document) Validate() error {
	if d.Title == "" {
		return errkind.Errorf(errkind.InvalidInput, "document title is required")
	}
	if len(d.VectorIDs) != d.ChunkCount {
		return errkind.Errorf(errkind.Internal, "document %q has %d vector ids for %d chunks", d.ID, len(d.VectorIDs), d.ChunkCount)
	}
	if d.PrimaryArtifactIndex != -1 && (d.PrimaryArtifactIndex < 0 || d.PrimaryArtifactIndex >= len(d.Artifacts)) {
		return errkind.Errorf(errkind.InvalidInput, "primary artifact index %d out of range", d.PrimaryArtifactIndex)
	}
	return nil
}

// CreateDocument inserts a document, generating an id when absent.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Collection == "" {
		doc.Collection = "default"
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.IsActive = true

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents
			(id, title, file_name, collection, content, metadata, tags, created_by,
			 created_at, updated_at, is_active, content_hash, chunk_count,
			 vector_ids, artifacts, primary_artifact_index)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.FileName, doc.Collection, doc.Content,
		marshalJSON(doc.Metadata), marshalJSON(doc.Tags), doc.CreatedBy,
		doc.CreatedAt, doc.UpdatedAt, doc.ContentHash, doc.ChunkCount,
		marshalJSON(doc.VectorIDs), marshalJSON(doc.Artifacts), doc.PrimaryArtifactIndex)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument fetches one document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, file_name, collection, content, metadata, tags, created_by,
		       created_at, updated_at, is_active, content_hash, chunk_count,
		       vector_ids, artifacts, primary_artifact_index
		FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, errkind.Errorf(errkind.NotFound, "document %q not found", id)
	}
	return doc, err
}

// DocumentExists reports whether a document id is present.
func (s *Store) DocumentExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UpdateDocument rewrites all mutable fields of an existing document.
func (s *Store) UpdateDocument(ctx context.Context, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	doc.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET
			title = ?, file_name = ?, collection = ?, content = ?, metadata = ?,
			tags = ?, updated_at = ?, is_active = ?, content_hash = ?,
			chunk_count = ?, vector_ids = ?, artifacts = ?, primary_artifact_index = ?
		WHERE id = ?`,
		doc.Title, doc.FileName, doc.Collection, doc.Content, marshalJSON(doc.Metadata),
		marshalJSON(doc.Tags), doc.UpdatedAt, boolToInt(doc.IsActive), doc.ContentHash,
		doc.ChunkCount, marshalJSON(doc.VectorIDs), marshalJSON(doc.Artifacts),
		doc.PrimaryArtifactIndex, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errkind.Errorf(errkind.NotFound, "document %q not found", doc.ID)
	}
	return nil
}

// ArchiveDocument marks a document inactive without deleting it.
func (s *Store) ArchiveDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET is_active = 0, updated_at = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errkind.Errorf(errkind.NotFound, "document %q not found", id)
	}
	return nil
}

// DeleteDocument removes a document record. The caller is responsible for
// deleting its vectors and artifact blobs first.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errkind.Errorf(errkind.NotFound, "document %q not found", id)
	}
	return nil
}

// ListDocuments pages through a collection, newest first.
func (s *Store) ListDocuments(ctx context.Context, collection string, limit, offset int) ([]*Document, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, file_name, collection, content, metadata, tags, created_by,
		       created_at, updated_at, is_active, content_hash, chunk_count,
		       vector_ids, artifacts, primary_artifact_index
		FROM documents WHERE collection = ?
		ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, collection, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// FindDocumentsByHash returns active documents with the given content hash.
func (s *Store) FindDocumentsByHash(ctx context.Context, contentHash string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, file_name, collection, content, metadata, tags, created_by,
		       created_at, updated_at, is_active, content_hash, chunk_count,
		       vector_ids, artifacts, primary_artifact_index
		FROM documents WHERE content_hash = ? AND is_active = 1
		ORDER BY created_at`, contentHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// FindDocumentsByMetadata returns documents whose metadata key equals value.
func (s *Store) FindDocumentsByMetadata(ctx context.Context, collection, key string, value any) ([]*Document, error) {
	docs, err := s.ListDocuments(ctx, collection, 10000, 0)
	if err != nil {
		return nil, err
	}
	var out []*Document
	for _, doc := range docs {
		if got, ok := doc.Metadata[key]; ok && fmt.Sprintf("%v", got) == fmt.Sprintf("%v", value) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// CountDocuments returns the number of documents in a collection.
func (s *Store) CountDocuments(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE collection = ?", collection).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var metadata, tags, vectorIDs, artifacts string
	var isActive int
	err := row.Scan(&doc.ID, &doc.Title, &doc.FileName, &doc.Collection, &doc.Content,
		&metadata, &tags, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt, &isActive,
		&doc.ContentHash, &doc.ChunkCount, &vectorIDs, &artifacts, &doc.PrimaryArtifactIndex)
	if err != nil {
		return nil, err
	}
	doc.IsActive = isActive != 0
	doc.Metadata = make(map[string]any)
	_ = json.Unmarshal([]byte(metadata), &doc.Metadata)
	_ = json.Unmarshal([]byte(tags), &doc.Tags)
	_ = json.Unmarshal([]byte(vectorIDs), &doc.VectorIDs)
	_ = json.Unmarshal([]byte(artifacts), &doc.Artifacts)
	return &doc, nil
}

func collectDocuments(rows *sql.Rows) ([]*Document, error) {
	var out []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
