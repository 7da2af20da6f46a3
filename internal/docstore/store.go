// Package docstore persists the system's durable records in SQLite:
// documents with their artifacts, the pending-update triage queue,
// monitor targets, search logs, knowledge gaps, student profiles, and
// chat history. One Store handle serves them all.
package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"uniassist/internal/errkind"
)

// Store is the SQLite-backed document store.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *zap.Logger
}

// Open initializes the store at path, creating the schema when absent.
func Open(path string, log *zap.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil && log != nil {
			log.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}
	return New(db, log)
}

// New wraps an existing database handle and ensures the schema.
func New(db *sql.DB, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{db: db, log: log}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		file_name TEXT DEFAULT '',
		collection TEXT NOT NULL DEFAULT 'default',
		content TEXT NOT NULL,
		metadata TEXT DEFAULT '{}',
		tags TEXT DEFAULT '[]',
		created_by TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		is_active INTEGER DEFAULT 1,
		content_hash TEXT DEFAULT '',
		chunk_count INTEGER DEFAULT 0,
		vector_ids TEXT DEFAULT '[]',
		artifacts TEXT DEFAULT '[]',
		primary_artifact_index INTEGER DEFAULT -1
	);
	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
	CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
	CREATE INDEX IF NOT EXISTS idx_documents_active ON documents(is_active);

	CREATE TABLE IF NOT EXISTS pending_updates (
		id TEXT PRIMARY KEY,
		source_id TEXT DEFAULT '',
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		source_url TEXT DEFAULT '',
		collection TEXT DEFAULT 'default',
		category TEXT DEFAULT '',
		detection_type TEXT NOT NULL,
		similarity_score REAL DEFAULT 0,
		matched_doc_id TEXT DEFAULT '',
		candidate_doc_ids TEXT DEFAULT '[]',
		llm_summary TEXT DEFAULT '',
		llm_reason TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER DEFAULT 5,
		metadata TEXT DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_updates(status);
	CREATE INDEX IF NOT EXISTS idx_pending_hash ON pending_updates(content_hash);

	CREATE TABLE IF NOT EXISTS monitor_targets (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		collection TEXT DEFAULT 'default',
		category TEXT DEFAULT '',
		interval_hours INTEGER DEFAULT 6,
		is_active INTEGER DEFAULT 1,
		last_checked_at DATETIME,
		last_success_at DATETIME,
		consecutive_failures INTEGER DEFAULT 0,
		max_failures INTEGER DEFAULT 5,
		last_content_hash TEXT DEFAULT '',
		last_error TEXT DEFAULT '',
		selector TEXT DEFAULT '',
		metadata TEXT DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS search_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		user_id TEXT DEFAULT '',
		session_id TEXT DEFAULT '',
		results TEXT DEFAULT '[]',
		top_score REAL DEFAULT 0,
		result_count INTEGER DEFAULT 0,
		result_quality TEXT DEFAULT 'none',
		used_web_fallback INTEGER DEFAULT 0,
		collection TEXT DEFAULT 'default',
		search_latency_ms INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_search_logs_created ON search_logs(created_at);

	CREATE TABLE IF NOT EXISTS knowledge_gaps (
		topic TEXT PRIMARY KEY,
		sample_queries TEXT DEFAULT '[]',
		query_count INTEGER DEFAULT 0,
		avg_score REAL DEFAULT 0,
		status TEXT DEFAULT 'detected',
		priority REAL DEFAULT 0,
		first_detected_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_query_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		resolution_notes TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS student_profiles (
		user_id TEXT PRIMARY KEY,
		profile TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_messages(session_id);

	CREATE TABLE IF NOT EXISTS orchestration_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		session_id TEXT DEFAULT '',
		user_id TEXT DEFAULT '',
		primary_tool TEXT DEFAULT '',
		success INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		detail TEXT DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize document schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Health verifies the store is reachable.
func (s *Store) Health(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return errkind.E(errkind.DependencyUnavailable, "document store unreachable", err)
	}
	return nil
}
