// Package vectorstore implements a cosine-metric vector index over SQLite.
// Records are grouped into named collections; payloads are JSON documents
// filtered by exact-match clauses. Builds tagged sqlite_vec score candidates
// inside SQLite via the sqlite-vec extension (see init_vec.go); other builds
// fall back to exact in-process scoring, which is fast enough for the
// collection sizes this system handles.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"uniassist/internal/errkind"
)

// Record is one stored vector with its payload.
type Record struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Scored is a search hit. Score is cosine similarity clamped to [0,1].
type Scored struct {
	Record
	Score float64
}

// Store is the SQLite-backed index.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *zap.Logger
}

// vecSearchEnabled is flipped by init_vec.go when the sqlite-vec
// extension is compiled in.
var vecSearchEnabled bool

// Open initializes the index at path, creating the schema when absent.
// An existing *sql.DB may be shared via New.
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
	CREATE TABLE IF NOT EXISTS vector_collections (
		name TEXT PRIMARY KEY,
		dim INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS vectors (
		id TEXT NOT NULL,
		collection TEXT NOT NULL,
		embedding BLOB NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_vectors_collection ON vectors(collection);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize vector schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Health verifies the store is reachable.
func (s *Store) Health(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return errkind.E(errkind.DependencyUnavailable, "vector store unreachable", err)
	}
	return nil
}

// EnsureCollection registers a collection with a fixed dimension.
// Re-registering with a different dimension is a conflict.
func (s *Store) EnsureCollection(ctx context.Context, name string, dim int) error {
	if name == "" || dim <= 0 {
		return errkind.Errorf(errkind.InvalidInput, "collection %q dim %d", name, dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int
	err := s.db.QueryRowContext(ctx, "SELECT dim FROM vector_collections WHERE name = ?", name).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx, "INSERT INTO vector_collections (name, dim) VALUES (?, ?)", name, dim)
		return err
	case err != nil:
		return err
	case existing != dim:
		return errkind.Errorf(errkind.Conflict, "collection %q has dim %d, requested %d", name, existing, dim)
	}
	return nil
}

// ListCollections returns all registered collection names.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM vector_collections ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Upsert inserts or replaces records in a collection. All vectors must
// match the collection dimension.
func (s *Store) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	dim, err := s.collectionDim(ctx, collection)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO vectors (id, collection, embedding, payload) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.ID == "" {
			return errkind.Errorf(errkind.InvalidInput, "record with empty id in collection %q", collection)
		}
		if len(rec.Vector) != dim {
			return errkind.Errorf(errkind.InvalidInput, "vector %q has dim %d, collection %q wants %d", rec.ID, len(rec.Vector), collection, dim)
		}
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("failed to serialize payload for %q: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, collection, encodeVector(rec.Vector), string(payload)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, collection, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var emb []byte
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding, payload FROM vectors WHERE collection = ? AND id = ?", collection, id).
		Scan(&emb, &payload)
	if err == sql.ErrNoRows {
		return Record{}, errkind.Errorf(errkind.NotFound, "vector %q not found in %q", id, collection)
	}
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Vector: decodeVector(emb), Payload: parsePayload(payload)}, nil
}

// UpdatePayload merges patch into the stored payload of one record,
// leaving its vector untouched.
func (s *Store) UpdatePayload(ctx context.Context, collection, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM vectors WHERE collection = ? AND id = ?", collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return errkind.Errorf(errkind.NotFound, "vector %q not found in %q", id, collection)
	}
	if err != nil {
		return err
	}

	payload := parsePayload(raw)
	for k, v := range patch {
		payload[k] = v
	}
	merged, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize payload for %q: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE vectors SET payload = ? WHERE collection = ? AND id = ?", string(merged), collection, id)
	return err
}

// DeleteIDs removes the given records. Missing ids are ignored.
func (s *Store) DeleteIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE collection = ? AND id = ?", collection, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteByFilter removes every record whose payload matches the filter.
func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) (int, error) {
	recs, err := s.scanCollection(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	if err := s.DeleteIDs(ctx, collection, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Search returns the topK records most similar to queryVec, filtered by
// scoreThreshold and the metadata filter, sorted by score descending with
// ties broken by insertion order.
func (s *Store) Search(ctx context.Context, collection string, queryVec []float32, topK int, scoreThreshold float64, filter map[string]any) ([]Scored, error) {
	if topK <= 0 {
		topK = 10
	}
	dim, err := s.collectionDim(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(queryVec) != dim {
		return nil, errkind.Errorf(errkind.InvalidInput, "query dim %d, collection %q wants %d", len(queryVec), collection, dim)
	}

	if vecSearchEnabled {
		return s.searchVec(ctx, collection, queryVec, topK, scoreThreshold, filter)
	}

	recs, err := s.scanCollection(ctx, collection, filter)
	if err != nil {
		return nil, err
	}

	scored := make([]Scored, 0, len(recs))
	for _, rec := range recs {
		score := cosine(queryVec, rec.Vector)
		if score < 0 {
			score = 0
		}
		if score < scoreThreshold {
			continue
		}
		scored = append(scored, Scored{Record: rec, Score: score})
	}

	// scanCollection yields insertion order, so a stable sort preserves it
	// for equal scores.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// searchVec scores candidates inside SQLite with vec_distance_cosine.
// Rows arrive best-first, so iteration stops at the threshold or once
// topK hits cleared the metadata filter.
func (s *Store) searchVec(ctx context.Context, collection string, queryVec []float32, topK int, scoreThreshold float64, filter map[string]any) ([]Scored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding, payload, vec_distance_cosine(embedding, ?) AS dist
		FROM vectors WHERE collection = ?
		ORDER BY dist, rowid`,
		encodeVector(queryVec), collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Scored
	for rows.Next() {
		var id, payload string
		var emb []byte
		var dist float64
		if err := rows.Scan(&id, &emb, &payload, &dist); err != nil {
			return nil, err
		}
		score := 1 - dist
		if score < 0 {
			score = 0
		}
		if score < scoreThreshold {
			break
		}
		rec := Record{ID: id, Vector: decodeVector(emb), Payload: parsePayload(payload)}
		if !matchesFilter(rec.Payload, filter) {
			continue
		}
		out = append(out, Scored{Record: rec, Score: score})
		if len(out) == topK {
			break
		}
	}
	return out, rows.Err()
}

// Scroll pages through a collection in insertion order. cursor is the
// opaque value returned by the previous page; empty starts from the top.
func (s *Store) Scroll(ctx context.Context, collection, cursor string, limit int, filter map[string]any) ([]Record, string, error) {
	if limit <= 0 {
		limit = 100
	}
	after := int64(0)
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", errkind.Errorf(errkind.InvalidInput, "bad scroll cursor %q", cursor)
		}
		after = n
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT rowid, id, embedding, payload FROM vectors WHERE collection = ? AND rowid > ? ORDER BY rowid LIMIT ?",
		collection, after, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []Record
	var lastRowID int64
	for rows.Next() {
		var rowid int64
		var id, payload string
		var emb []byte
		if err := rows.Scan(&rowid, &id, &emb, &payload); err != nil {
			return nil, "", err
		}
		rec := Record{ID: id, Vector: decodeVector(emb), Payload: parsePayload(payload)}
		if !matchesFilter(rec.Payload, filter) {
			lastRowID = rowid
			continue
		}
		if len(out) < limit {
			out = append(out, rec)
			lastRowID = rowid
		} else {
			// One extra matching row exists, so the page is full.
			return out, strconv.FormatInt(lastRowID, 10), rows.Err()
		}
	}
	return out, "", rows.Err()
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors WHERE collection = ?", collection).Scan(&n)
	return n, err
}

func (s *Store) collectionDim(ctx context.Context, collection string) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, "SELECT dim FROM vector_collections WHERE name = ?", collection).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, errkind.Errorf(errkind.NotFound, "collection %q not found", collection)
	}
	return dim, err
}

// scanCollection loads records in insertion order, applying the filter.
func (s *Store) scanCollection(ctx context.Context, collection string, filter map[string]any) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, embedding, payload FROM vectors WHERE collection = ? ORDER BY rowid", collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var id, payload string
		var emb []byte
		if err := rows.Scan(&id, &emb, &payload); err != nil {
			return nil, err
		}
		rec := Record{ID: id, Vector: decodeVector(emb), Payload: parsePayload(payload)}
		if !matchesFilter(rec.Payload, filter) {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// matchesFilter applies a conjunction of exact-match clauses.
func matchesFilter(payload, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := payload[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func parsePayload(raw string) map[string]any {
	payload := make(map[string]any)
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &payload)
	}
	return payload
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	if len(data)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}
