// Package conversation builds a bounded dialogue window from chat
// history for inclusion in prompts.
package conversation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"uniassist/internal/docstore"
)

// History is the chat-store port.
type History interface {
	RecentChatMessages(ctx context.Context, sessionID string, limit int) ([]*docstore.ChatMessage, error)
	AppendChatMessage(ctx context.Context, m *docstore.ChatMessage) error
}

// Builder renders conversation windows.
type Builder struct {
	history    History
	maxTurns   int
	charBudget int
	log        *zap.Logger
}

// NewBuilder creates a window builder. Defaults: 6 turns, 2000 chars.
func NewBuilder(history History, maxTurns, charBudget int, log *zap.Logger) *Builder {
	if maxTurns <= 0 {
		maxTurns = 6
	}
	if charBudget <= 0 {
		charBudget = 2000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{history: history, maxTurns: maxTurns, charBudget: charBudget, log: log}
}

// Window returns the rendered dialogue window for a session. History is
// additive context: any failure yields an empty window, never an error.
func (b *Builder) Window(ctx context.Context, sessionID string) string {
	if sessionID == "" {
		return ""
	}
	msgs, err := b.history.RecentChatMessages(ctx, sessionID, b.maxTurns)
	if err != nil {
		b.log.Warn("failed to load chat history", zap.String("session_id", sessionID), zap.Error(err))
		return ""
	}

	// Walk newest-first so recent turns keep their full text; older turns
	// are truncated or dropped once the budget runs out.
	var lines []string
	remaining := b.charBudget
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == "system" {
			continue
		}
		line := roleLabel(m.Role) + ": " + strings.TrimSpace(m.Content)
		if len(line)+1 > remaining {
			if remaining > 80 {
				line = truncate(line, remaining-4) + "..."
				lines = append(lines, line)
			}
			break
		}
		lines = append(lines, line)
		remaining -= len(line) + 1
	}

	// Reverse back into chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

// Record appends one user/assistant exchange to the session history.
// Failures are logged, not returned; history must never fail a request.
func (b *Builder) Record(ctx context.Context, sessionID, userMsg, assistantMsg string) {
	if sessionID == "" {
		return
	}
	for _, m := range []*docstore.ChatMessage{
		{SessionID: sessionID, Role: "user", Content: userMsg},
		{SessionID: sessionID, Role: "assistant", Content: assistantMsg},
	} {
		if err := b.history.AppendChatMessage(ctx, m); err != nil {
			b.log.Warn("failed to record chat turn", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
	}
}

func roleLabel(role string) string {
	if role == "assistant" {
		return "Trợ lý"
	}
	return "Sinh viên"
}

// truncate cuts at a byte budget without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}
