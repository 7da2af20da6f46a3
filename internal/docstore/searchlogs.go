package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"uniassist/internal/errkind"
)

// SearchHit is one retrieved result recorded in a search log.
type SearchHit struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
}

// SearchLog records one retrieval call.
type SearchLog struct {
	ID              int64
	Query           string
	UserID          string
	SessionID       string
	Results         []SearchHit
	TopScore        float64
	ResultCount     int
	ResultQuality   string
	UsedWebFallback bool
	Collection      string
	SearchLatencyMs int64
	CreatedAt       time.Time
}

// InsertSearchLog persists one retrieval record.
func (s *Store) InsertSearchLog(ctx context.Context, l *SearchLog) error {
	if l.Query == "" {
		return errkind.Errorf(errkind.InvalidInput, "search log requires a query")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO search_logs
			(query, user_id, session_id, results, top_score, result_count,
			 result_quality, used_web_fallback, collection, search_latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Query, l.UserID, l.SessionID, marshalJSON(l.Results), l.TopScore,
		l.ResultCount, l.ResultQuality, boolToInt(l.UsedWebFallback),
		l.Collection, l.SearchLatencyMs)
	if err != nil {
		return err
	}
	l.ID, _ = res.LastInsertId()
	return nil
}

// ListSearchLogsSince returns logs created at or after since, oldest first.
func (s *Store) ListSearchLogsSince(ctx context.Context, since time.Time) ([]*SearchLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, user_id, session_id, results, top_score, result_count,
		       result_quality, used_web_fallback, collection, search_latency_ms, created_at
		FROM search_logs WHERE created_at >= ? ORDER BY created_at`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SearchLog
	for rows.Next() {
		var l SearchLog
		var results string
		var fallback int
		if err := rows.Scan(&l.ID, &l.Query, &l.UserID, &l.SessionID, &results,
			&l.TopScore, &l.ResultCount, &l.ResultQuality, &fallback,
			&l.Collection, &l.SearchLatencyMs, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.UsedWebFallback = fallback != 0
		_ = json.Unmarshal([]byte(results), &l.Results)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// KnowledgeGap is an inferred topic with repeated low-confidence retrievals.
type KnowledgeGap struct {
	Topic           string
	SampleQueries   []string
	QueryCount      int
	AvgScore        float64
	Status          string
	Priority        float64
	FirstDetectedAt time.Time
	LastQueryAt     time.Time
	ResolutionNotes string
}

// UpsertKnowledgeGap creates or overwrites a gap keyed by topic.
func (s *Store) UpsertKnowledgeGap(ctx context.Context, g *KnowledgeGap) error {
	if g.Topic == "" {
		return errkind.Errorf(errkind.InvalidInput, "knowledge gap requires a topic")
	}
	if g.Status == "" {
		g.Status = "detected"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_gaps
			(topic, sample_queries, query_count, avg_score, status, priority,
			 first_detected_at, last_query_at, resolution_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET
			sample_queries = excluded.sample_queries,
			query_count = excluded.query_count,
			avg_score = excluded.avg_score,
			priority = excluded.priority,
			last_query_at = excluded.last_query_at`,
		g.Topic, marshalJSON(g.SampleQueries), g.QueryCount, g.AvgScore, g.Status,
		g.Priority, g.FirstDetectedAt.UTC(), g.LastQueryAt.UTC(), g.ResolutionNotes)
	return err
}

// GetKnowledgeGap fetches a gap by topic.
func (s *Store) GetKnowledgeGap(ctx context.Context, topic string) (*KnowledgeGap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, gapSelect+" WHERE topic = ?", topic)
	g, err := scanGap(row)
	if err == sql.ErrNoRows {
		return nil, errkind.Errorf(errkind.NotFound, "knowledge gap %q not found", topic)
	}
	return g, err
}

// ListKnowledgeGaps returns gaps ordered by priority descending.
func (s *Store) ListKnowledgeGaps(ctx context.Context, status string, limit int) ([]*KnowledgeGap, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := gapSelect
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY priority DESC, last_query_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*KnowledgeGap
	for rows.Next() {
		g, err := scanGap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// SetGapStatus moves a gap through its workflow states.
func (s *Store) SetGapStatus(ctx context.Context, topic, status, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"UPDATE knowledge_gaps SET status = ?, resolution_notes = ? WHERE topic = ?",
		status, notes, topic)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errkind.Errorf(errkind.NotFound, "knowledge gap %q not found", topic)
	}
	return nil
}

const gapSelect = `
	SELECT topic, sample_queries, query_count, avg_score, status, priority,
	       first_detected_at, last_query_at, resolution_notes
	FROM knowledge_gaps`

func scanGap(row rowScanner) (*KnowledgeGap, error) {
	var g KnowledgeGap
	var samples string
	err := row.Scan(&g.Topic, &samples, &g.QueryCount, &g.AvgScore, &g.Status,
		&g.Priority, &g.FirstDetectedAt, &g.LastQueryAt, &g.ResolutionNotes)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(samples), &g.SampleQueries)
	return &g, nil
}
