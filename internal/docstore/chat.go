package docstore

import (
	"context"
	"time"

	"uniassist/internal/errkind"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	ID        int64
	SessionID string
	Role      string // "user", "assistant", or "system"
	Content   string
	CreatedAt time.Time
}

// AppendChatMessage records one turn.
func (s *Store) AppendChatMessage(ctx context.Context, m *ChatMessage) error {
	if m.SessionID == "" || m.Role == "" {
		return errkind.Errorf(errkind.InvalidInput, "chat message requires session and role")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_messages (session_id, role, content) VALUES (?, ?, ?)",
		m.SessionID, m.Role, m.Content)
	if err != nil {
		return err
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// RecentChatMessages returns the last limit turns of a session in
// chronological order.
func (s *Store) RecentChatMessages(ctx context.Context, sessionID string, limit int) ([]*ChatMessage, error) {
	if limit <= 0 {
		limit = 6
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM chat_messages WHERE session_id = ?
		ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RecordOrchestration persists a summary row of one orchestrated request.
func (s *Store) RecordOrchestration(ctx context.Context, query, sessionID, userID, primaryTool string, success bool, errMsg, detailJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orchestration_logs (query, session_id, user_id, primary_tool, success, error, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		query, sessionID, userID, primaryTool, boolToInt(success), errMsg, detailJSON)
	return err
}
