// Package searchlog records every retrieval call and aggregates repeated
// low-confidence queries into knowledge gaps.
package searchlog

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"uniassist/internal/docstore"
)

// Result quality thresholds.
const (
	qualityHighMin   = 0.75
	qualityMediumMin = 0.5
)

// QualityFor buckets a retrieval by its top score.
func QualityFor(topScore float64, resultCount int) string {
	switch {
	case resultCount == 0 || topScore == 0:
		return "none"
	case topScore >= qualityHighMin:
		return "high"
	case topScore >= qualityMediumMin:
		return "medium"
	default:
		return "low"
	}
}

// Logger persists search logs without ever failing the caller.
type Logger struct {
	store *docstore.Store
	log   *zap.Logger
}

// NewLogger creates a search logger.
func NewLogger(store *docstore.Store, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{store: store, log: log}
}

// Record classifies the retrieval quality and persists the log entry.
// Failures are logged and swallowed; responses never block on logging.
func (l *Logger) Record(ctx context.Context, entry *docstore.SearchLog) {
	entry.ResultQuality = QualityFor(entry.TopScore, entry.ResultCount)
	if err := l.store.InsertSearchLog(ctx, entry); err != nil {
		l.log.Warn("failed to record search log", zap.String("query", entry.Query), zap.Error(err))
	}
}

// Detector aggregates low-confidence retrievals into knowledge gaps.
type Detector struct {
	store      *docstore.Store
	minQueries int
	maxScore   float64
	window     time.Duration
	log        *zap.Logger
}

// NewDetector creates a gap detector. Defaults: 3 queries minimum, top
// score below 0.5, 30-day window.
func NewDetector(store *docstore.Store, minQueries int, maxScore float64, window time.Duration, log *zap.Logger) *Detector {
	if minQueries <= 0 {
		minQueries = 3
	}
	if maxScore <= 0 {
		maxScore = 0.5
	}
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{store: store, minQueries: minQueries, maxScore: maxScore, window: window, log: log}
}

// Detect groups recent low-confidence queries by normalized pattern and
// upserts a knowledge gap for every pattern seen often enough. Counts and
// scores are recomputed from the window on every run, which keeps the
// operation idempotent; first_detected_at survives from the existing gap.
func (d *Detector) Detect(ctx context.Context) ([]*docstore.KnowledgeGap, error) {
	logs, err := d.store.ListSearchLogsSince(ctx, time.Now().Add(-d.window))
	if err != nil {
		return nil, err
	}

	type bucket struct {
		queries  []string
		total    float64
		count    int
		lastSeen time.Time
	}
	buckets := make(map[string]*bucket)
	for _, l := range logs {
		if l.TopScore >= d.maxScore {
			continue
		}
		topic := NormalizeTopic(l.Query)
		if topic == "" {
			continue
		}
		b := buckets[topic]
		if b == nil {
			b = &bucket{}
			buckets[topic] = b
		}
		b.count++
		b.total += l.TopScore
		b.queries = appendUnique(b.queries, l.Query, 5)
		if l.CreatedAt.After(b.lastSeen) {
			b.lastSeen = l.CreatedAt
		}
	}

	var gaps []*docstore.KnowledgeGap
	for topic, b := range buckets {
		if b.count < d.minQueries {
			continue
		}
		avg := b.total / float64(b.count)
		gap := &docstore.KnowledgeGap{
			Topic:           topic,
			SampleQueries:   b.queries,
			QueryCount:      b.count,
			AvgScore:        avg,
			Status:          "detected",
			Priority:        GapPriority(b.count, avg),
			FirstDetectedAt: time.Now(),
			LastQueryAt:     b.lastSeen,
		}
		if existing, err := d.store.GetKnowledgeGap(ctx, topic); err == nil {
			gap.FirstDetectedAt = existing.FirstDetectedAt
			gap.Status = existing.Status
			gap.ResolutionNotes = existing.ResolutionNotes
			gap.SampleQueries = mergeUnique(existing.SampleQueries, b.queries, 5)
		}
		if err := d.store.UpsertKnowledgeGap(ctx, gap); err != nil {
			d.log.Warn("failed to upsert knowledge gap", zap.String("topic", topic), zap.Error(err))
			continue
		}
		gaps = append(gaps, gap)
	}
	return gaps, nil
}

// GapPriority scales with how often the topic misses and how badly.
func GapPriority(queryCount int, avgScore float64) float64 {
	p := float64(queryCount) * (1 - avgScore)
	if p > 10 {
		p = 10
	}
	if p < 0 {
		p = 0
	}
	return p
}

// NormalizeTopic case-folds, collapses whitespace, and caps the pattern
// at 100 characters.
func NormalizeTopic(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	runes := []rune(normalized)
	if len(runes) > 100 {
		normalized = string(runes[:100])
	}
	return normalized
}

func appendUnique(list []string, item string, max int) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	if len(list) >= max {
		return list
	}
	return append(list, item)
}

func mergeUnique(base, extra []string, max int) []string {
	out := append([]string(nil), base...)
	for _, item := range extra {
		out = appendUnique(out, item, max)
	}
	return out
}
