package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"uniassist/internal/crawler"
	"uniassist/internal/docstore"
	"uniassist/internal/errkind"
	"uniassist/internal/ingest"
)

// Ingestor is the triage port fed with crawled pages.
type Ingestor interface {
	Ingest(ctx context.Context, payload ingest.Payload) (*docstore.PendingUpdate, error)
}

// Config tunes the scheduler.
type Config struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	CrawlTimeout time.Duration `yaml:"crawl_timeout"`
	Concurrency  int64         `yaml:"concurrency"`
}

func (c *Config) fill() {
	if c.TickInterval <= 0 {
		c.TickInterval = 6 * time.Hour
	}
	if c.CrawlTimeout <= 0 {
		c.CrawlTimeout = 2 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// Scheduler periodically re-crawls monitor targets and feeds changed
// pages into the ingestion pipeline.
type Scheduler struct {
	store    *docstore.Store
	fetcher  crawler.Fetcher
	ingestor Ingestor
	cfg      Config
	sem      *semaphore.Weighted
	log      *zap.Logger
	now      func() time.Time
}

// NewScheduler wires the monitor scheduler.
func NewScheduler(store *docstore.Store, fetcher crawler.Fetcher, ingestor Ingestor, cfg Config, log *zap.Logger) *Scheduler {
	cfg.fill()
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		store:    store,
		fetcher:  fetcher,
		ingestor: ingestor,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		log:      log,
		now:      time.Now,
	}
}

// Run ticks until the context ends. The first tick fires immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick checks every due target once, bounded by the crawl semaphore.
// Returns when all checks started by this tick have finished.
func (s *Scheduler) Tick(ctx context.Context) {
	targets, err := s.store.ListActiveTargets(ctx)
	if err != nil {
		s.log.Error("failed to list monitor targets", zap.Error(err))
		return
	}

	now := s.now()
	var wg sync.WaitGroup
	for _, target := range targets {
		if !target.Due(now) {
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(t *docstore.MonitorTarget) {
			defer wg.Done()
			defer s.sem.Release(1)
			s.check(ctx, t, now)
		}(target)
	}
	wg.Wait()
}

// check claims one target and crawls it. Losing the claim to a
// concurrent tick is not an error.
func (s *Scheduler) check(ctx context.Context, target *docstore.MonitorTarget, now time.Time) {
	if err := s.store.ClaimTarget(ctx, target, now); err != nil {
		if !errkind.Is(err, errkind.Conflict) {
			s.log.Error("failed to claim target", zap.String("url", target.URL), zap.Error(err))
		}
		return
	}

	crawlCtx, cancel := context.WithTimeout(ctx, s.cfg.CrawlTimeout)
	defer cancel()

	page, err := s.fetcher.Fetch(crawlCtx, target.URL, target.Selector)
	if err != nil {
		deactivated, recErr := s.store.RecordTargetFailure(ctx, target.ID, err.Error())
		if recErr != nil {
			s.log.Error("failed to record crawl failure", zap.String("url", target.URL), zap.Error(recErr))
		}
		if deactivated {
			s.log.Warn("monitor target deactivated after repeated failures",
				zap.String("url", target.URL),
				zap.Int("max_failures", target.MaxFailures))
		} else {
			s.log.Warn("crawl failed", zap.String("url", target.URL), zap.Error(err))
		}
		return
	}

	hash := ingest.ContentHash(page.Content)
	if hash != target.LastContentHash {
		title := page.Title
		if title == "" {
			title = target.URL
		}
		if _, err := s.ingestor.Ingest(ctx, ingest.Payload{
			SourceID:   target.ID,
			Title:      title,
			Content:    page.Content,
			SourceURL:  target.URL,
			Collection: target.Collection,
			Category:   target.Category,
			Metadata:   map[string]any{"monitor_target_id": target.ID},
		}); err != nil {
			s.log.Error("failed to ingest crawled page", zap.String("url", target.URL), zap.Error(err))
			// The crawl itself succeeded; keep the target healthy.
		}
	} else {
		s.log.Debug("content unchanged", zap.String("url", target.URL))
	}

	if err := s.store.RecordTargetSuccess(ctx, target.ID, hash, s.now()); err != nil {
		s.log.Error("failed to record crawl success", zap.String("url", target.URL), zap.Error(err))
	}
}
