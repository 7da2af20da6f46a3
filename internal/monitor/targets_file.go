package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"uniassist/internal/docstore"
	"uniassist/internal/errkind"
)

// TargetSpec is one monitor target as declared in the targets file.
type TargetSpec struct {
	URL           string         `yaml:"url"`
	Collection    string         `yaml:"collection"`
	Category      string         `yaml:"category"`
	IntervalHours int            `yaml:"interval_hours"`
	MaxFailures   int            `yaml:"max_failures"`
	Selector      string         `yaml:"selector"`
	Metadata      map[string]any `yaml:"metadata"`
}

// TargetsFile is the declarative list of URLs to monitor.
type TargetsFile struct {
	Targets []TargetSpec `yaml:"targets"`
}

// LoadTargetsFile parses a targets YAML file.
func LoadTargetsFile(path string) (*TargetsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.E(errkind.NotFound, "targets file", err)
		}
		return nil, err
	}
	var f TargetsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errkind.E(errkind.InvalidInput, "parse targets file", err)
	}
	return &f, nil
}

// ApplyTargetsFile upserts every declared target. Upserting reactivates
// targets that were auto-deactivated after failures.
func (s *Scheduler) ApplyTargetsFile(ctx context.Context, path string) (int, error) {
	f, err := LoadTargetsFile(path)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, spec := range f.Targets {
		if spec.URL == "" {
			continue
		}
		err := s.store.UpsertMonitorTarget(ctx, &docstore.MonitorTarget{
			URL:           spec.URL,
			Collection:    spec.Collection,
			Category:      spec.Category,
			IntervalHours: spec.IntervalHours,
			MaxFailures:   spec.MaxFailures,
			Selector:      spec.Selector,
			Metadata:      spec.Metadata,
		})
		if err != nil {
			s.log.Error("failed to upsert target", zap.String("url", spec.URL), zap.Error(err))
			continue
		}
		applied++
	}
	s.log.Info("targets file applied", zap.String("path", path), zap.Int("targets", applied))
	return applied, nil
}

// WatchTargetsFile reloads the targets file when it changes on disk, so
// operators can add URLs without restarting the service. Blocks until
// the context ends.
func (s *Scheduler) WatchTargetsFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which would
	// drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	const debounce = 500 * time.Millisecond
	var (
		mu      sync.Mutex
		pending time.Time
	)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			pending = time.Now()
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("targets watcher error", zap.Error(err))
		case <-ticker.C:
			mu.Lock()
			due := !pending.IsZero() && time.Since(pending) >= debounce
			if due {
				pending = time.Time{}
			}
			mu.Unlock()
			if due {
				if _, err := s.ApplyTargetsFile(ctx, path); err != nil {
					s.log.Error("targets reload failed", zap.String("path", path), zap.Error(err))
				}
			}
		}
	}
}
