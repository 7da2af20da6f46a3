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

// MonitorTarget is a URL scheduled for periodic re-crawl.
type MonitorTarget struct {
	ID                  string
	URL                 string
	Collection          string
	Category            string
	IntervalHours       int
	IsActive            bool
	LastCheckedAt       *time.Time
	LastSuccessAt       *time.Time
	ConsecutiveFailures int
	MaxFailures         int
	LastContentHash     string
	LastError           string
	Selector            string
	Metadata            map[string]any
	CreatedAt           time.Time
}

// Due reports whether the target should be checked at now.
func (t *MonitorTarget) Due(now time.Time) bool {
	if !t.IsActive {
		return false
	}
	if t.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*t.LastCheckedAt) >= time.Duration(t.IntervalHours)*time.Hour
}

// UpsertMonitorTarget inserts or refreshes a target keyed by URL.
func (s *Store) UpsertMonitorTarget(ctx context.Context, t *MonitorTarget) error {
	if t.URL == "" {
		return errkind.Errorf(errkind.InvalidInput, "monitor target requires a url")
	}
	if t.IntervalHours < 1 {
		t.IntervalHours = 6
	}
	if t.MaxFailures <= 0 {
		t.MaxFailures = 5
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Collection == "" {
		t.Collection = "default"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_targets
			(id, url, collection, category, interval_hours, is_active, max_failures,
			 selector, metadata)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			collection = excluded.collection,
			category = excluded.category,
			interval_hours = excluded.interval_hours,
			max_failures = excluded.max_failures,
			selector = excluded.selector,
			metadata = excluded.metadata,
			is_active = 1`,
		t.ID, t.URL, t.Collection, t.Category, t.IntervalHours, t.MaxFailures,
		t.Selector, marshalJSON(t.Metadata))
	if err != nil {
		return fmt.Errorf("failed to upsert monitor target: %w", err)
	}
	return nil
}

// ListActiveTargets returns all active targets.
func (s *Store) ListActiveTargets(ctx context.Context) ([]*MonitorTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, targetSelect+" WHERE is_active = 1 ORDER BY url")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MonitorTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClaimTarget marks a due target as checked at now. The compare-and-set on
// last_checked_at keeps two concurrent ticks from processing the same
// target; the loser gets a Conflict.
func (s *Store) ClaimTarget(ctx context.Context, t *MonitorTarget, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res sql.Result
	var err error
	if t.LastCheckedAt == nil {
		res, err = s.db.ExecContext(ctx,
			"UPDATE monitor_targets SET last_checked_at = ? WHERE id = ? AND last_checked_at IS NULL",
			now.UTC(), t.ID)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE monitor_targets SET last_checked_at = ? WHERE id = ? AND last_checked_at = ?",
			now.UTC(), t.ID, t.LastCheckedAt.UTC())
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errkind.Errorf(errkind.Conflict, "target %q claimed by another tick", t.URL)
	}
	checked := now.UTC()
	t.LastCheckedAt = &checked
	return nil
}

// RecordTargetSuccess resets the failure counter after a successful crawl.
func (s *Store) RecordTargetSuccess(ctx context.Context, id, contentHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE monitor_targets
		SET last_success_at = ?, last_content_hash = ?, consecutive_failures = 0, last_error = ''
		WHERE id = ?`, at.UTC(), contentHash, id)
	return err
}

// RecordTargetFailure increments the failure counter and deactivates the
// target once max_failures is reached. Reports whether it was deactivated.
func (s *Store) RecordTargetFailure(ctx context.Context, id, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE monitor_targets
		SET consecutive_failures = consecutive_failures + 1, last_error = ?
		WHERE id = ?`, errMsg, id)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE monitor_targets SET is_active = 0
		WHERE id = ? AND consecutive_failures >= max_failures AND is_active = 1`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const targetSelect = `
	SELECT id, url, collection, category, interval_hours, is_active,
	       last_checked_at, last_success_at, consecutive_failures, max_failures,
	       last_content_hash, last_error, selector, metadata, created_at
	FROM monitor_targets`

func scanTarget(row rowScanner) (*MonitorTarget, error) {
	var t MonitorTarget
	var isActive int
	var lastChecked, lastSuccess sql.NullTime
	var metadata string
	err := row.Scan(&t.ID, &t.URL, &t.Collection, &t.Category, &t.IntervalHours,
		&isActive, &lastChecked, &lastSuccess, &t.ConsecutiveFailures, &t.MaxFailures,
		&t.LastContentHash, &t.LastError, &t.Selector, &metadata, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.IsActive = isActive != 0
	if lastChecked.Valid {
		v := lastChecked.Time
		t.LastCheckedAt = &v
	}
	if lastSuccess.Valid {
		v := lastSuccess.Time
		t.LastSuccessAt = &v
	}
	t.Metadata = make(map[string]any)
	_ = json.Unmarshal([]byte(metadata), &t.Metadata)
	return &t, nil
}
