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

// Detection types for pending updates.
const (
	DetectionNew       = "new"
	DetectionUpdate    = "update"
	DetectionUnrelated = "unrelated"
	DetectionDuplicate = "duplicate"
)

// Pending update statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// PendingUpdate is one ingestion triage entry awaiting review.
type PendingUpdate struct {
	ID              string
	SourceID        string
	Title           string
	Content         string
	ContentHash     string
	SourceURL       string
	Collection      string
	Category        string
	DetectionType   string
	SimilarityScore float64
	MatchedDocID    string
	CandidateDocIDs []string
	LLMSummary      string
	LLMReason       string
	Status          string
	Priority        int
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreatePendingUpdate inserts a triage entry. Duplicate detections are
// rejected at creation time.
func (s *Store) CreatePendingUpdate(ctx context.Context, p *PendingUpdate) error {
	if p.Title == "" || p.ContentHash == "" {
		return errkind.Errorf(errkind.InvalidInput, "pending update requires title and content hash")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if p.DetectionType == DetectionDuplicate {
		p.Status = StatusRejected
	}
	if p.Priority < 1 || p.Priority > 10 {
		p.Priority = 5
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_updates
			(id, source_id, title, content, content_hash, source_url, collection,
			 category, detection_type, similarity_score, matched_doc_id,
			 candidate_doc_ids, llm_summary, llm_reason, status, priority,
			 metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SourceID, p.Title, p.Content, p.ContentHash, p.SourceURL, p.Collection,
		p.Category, p.DetectionType, p.SimilarityScore, p.MatchedDocID,
		marshalJSON(p.CandidateDocIDs), p.LLMSummary, p.LLMReason, p.Status, p.Priority,
		marshalJSON(p.Metadata), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pending update: %w", err)
	}
	return nil
}

// GetPendingUpdate fetches one entry by id.
func (s *Store) GetPendingUpdate(ctx context.Context, id string) (*PendingUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, pendingSelect+" WHERE id = ?", id)
	p, err := scanPending(row)
	if err == sql.ErrNoRows {
		return nil, errkind.Errorf(errkind.NotFound, "pending update %q not found", id)
	}
	return p, err
}

// ListPendingUpdates returns entries with the given status, highest
// priority first.
func (s *Store) ListPendingUpdates(ctx context.Context, status string, limit int) ([]*PendingUpdate, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		pendingSelect+" WHERE status = ? ORDER BY priority DESC, created_at LIMIT ?", status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PendingUpdate
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PendingHashExists reports whether any non-rejected entry carries the hash.
func (s *Store) PendingHashExists(ctx context.Context, contentHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM pending_updates WHERE content_hash = ? AND status != ? LIMIT 1",
		contentHash, StatusRejected).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// TransitionPendingUpdate moves a pending entry to approved or rejected.
// The status guard acts as a compare-and-set: a concurrent transition on
// the same entry loses with a Conflict.
func (s *Store) TransitionPendingUpdate(ctx context.Context, id, newStatus string) error {
	if newStatus != StatusApproved && newStatus != StatusRejected {
		return errkind.Errorf(errkind.InvalidInput, "invalid status %q", newStatus)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE pending_updates SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		newStatus, time.Now().UTC(), id, StatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM pending_updates WHERE id = ?", id).Scan(&one)
		if err == sql.ErrNoRows {
			return errkind.Errorf(errkind.NotFound, "pending update %q not found", id)
		}
		return errkind.Errorf(errkind.Conflict, "pending update %q already resolved", id)
	}
	return nil
}

const pendingSelect = `
	SELECT id, source_id, title, content, content_hash, source_url, collection,
	       category, detection_type, similarity_score, matched_doc_id,
	       candidate_doc_ids, llm_summary, llm_reason, status, priority,
	       metadata, created_at, updated_at
	FROM pending_updates`

func scanPending(row rowScanner) (*PendingUpdate, error) {
	var p PendingUpdate
	var candidates, metadata string
	err := row.Scan(&p.ID, &p.SourceID, &p.Title, &p.Content, &p.ContentHash,
		&p.SourceURL, &p.Collection, &p.Category, &p.DetectionType, &p.SimilarityScore,
		&p.MatchedDocID, &candidates, &p.LLMSummary, &p.LLMReason, &p.Status,
		&p.Priority, &metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(candidates), &p.CandidateDocIDs)
	p.Metadata = make(map[string]any)
	_ = json.Unmarshal([]byte(metadata), &p.Metadata)
	return &p, nil
}
