package docstore

import (
	"context"
	"database/sql"
	"time"

	"uniassist/internal/errkind"
)

// LoadProfile returns the serialized profile document and its version for
// a user, or NotFound when absent.
func (s *Store) LoadProfile(ctx context.Context, userID string) ([]byte, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var profile string
	var version int64
	err := s.db.QueryRowContext(ctx,
		"SELECT profile, version FROM student_profiles WHERE user_id = ?", userID).
		Scan(&profile, &version)
	if err == sql.ErrNoRows {
		return nil, 0, errkind.Errorf(errkind.NotFound, "profile for %q not found", userID)
	}
	if err != nil {
		return nil, 0, err
	}
	return []byte(profile), version, nil
}

// SaveProfile writes a profile with compare-and-set on version. Pass
// version 0 to create; a stale version yields Conflict so the caller can
// reload and retry.
func (s *Store) SaveProfile(ctx context.Context, userID string, profile []byte, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if version == 0 {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO student_profiles (user_id, profile, version, updated_at) VALUES (?, ?, 1, ?)",
			userID, string(profile), now)
		if err != nil {
			return errkind.E(errkind.Conflict, "profile already exists for "+userID, err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE student_profiles SET profile = ?, version = version + 1, updated_at = ? WHERE user_id = ? AND version = ?",
		string(profile), now, userID, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errkind.Errorf(errkind.Conflict, "stale profile write for %q", userID)
	}
	return nil
}
