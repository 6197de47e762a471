// Package scan discovers source packages on disk: a startup sweep over
// the loaders directory and any configured extra directories, and a
// filesystem watch that picks up packages appearing or changing
// out-of-band while the console runs.
package scan

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"datadesk/internal/logging"
	"datadesk/internal/plugin"
	"datadesk/internal/source"
)

// Scanner finds packages and registers them. Packages inside the
// registry's own loaders directory register editable; packages from
// extra directories are externally managed and register read-only.
type Scanner struct {
	store    *plugin.Store
	registry *source.Registry

	// extraDirs may contain doublestar glob patterns.
	extraDirs []string

	debounce time.Duration
	logger   *slog.Logger
}

// Config configures a Scanner.
type Config struct {
	Store    *plugin.Store
	Registry *source.Registry

	// ExtraDirs are additional package directories to scan, glob
	// patterns allowed.
	ExtraDirs []string

	// Debounce coalesces watch events before a rescan. Defaults to
	// 500ms.
	Debounce time.Duration

	Logger *slog.Logger
}

// New creates a Scanner.
func New(cfg Config) *Scanner {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	return &Scanner{
		store:     cfg.Store,
		registry:  cfg.Registry,
		extraDirs: cfg.ExtraDirs,
		debounce:  cfg.Debounce,
		logger:    logging.Default(cfg.Logger).With("component", "scan"),
	}
}

// Scan walks every configured directory concurrently and registers any
// package directory found (marked by its metadata file). A package
// already registered is reloaded if its scripts changed on disk.
// Returns the sources registered for the first time. Unloadable
// packages are logged and skipped; a bad package must not take
// discovery down.
func (s *Scanner) Scan(ctx context.Context) ([]*source.DataSource, error) {
	dirs, err := s.expandDirs()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var added []*source.DataSource

	g, ctx := errgroup.WithContext(ctx)
	for _, dir := range dirs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			found := s.scanDir(ctx, dir)
			mu.Lock()
			added = append(added, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return added, nil
}

func (s *Scanner) scanDir(ctx context.Context, dir string) []*source.DataSource {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("scan directory", "dir", dir, "error", err)
		}
		return nil
	}

	editable := dir == s.store.LoadersDir()
	var added []*source.DataSource
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !isPackageDir(path) {
			continue
		}
		pkg, err := s.store.Load(path, e.Name())
		if err != nil {
			s.logger.Warn("skipping package", "path", path, "error", err)
			continue
		}
		if src, isNew := s.registry.RegisterPackage(ctx, pkg, editable); isNew {
			added = append(added, src)
		}
	}
	return added
}

// expandDirs resolves the loaders dir plus the extra dirs, expanding
// glob patterns to the directories they match.
func (s *Scanner) expandDirs() ([]string, error) {
	dirs := []string{s.store.LoadersDir()}
	seen := map[string]bool{dirs[0]: true}

	add := func(dir string) {
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	for _, pattern := range s.extraDirs {
		if !hasGlobMeta(pattern) {
			add(pattern)
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			s.logger.Warn("bad loaders dir pattern", "pattern", pattern, "error", err)
			continue
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.IsDir() {
				add(m)
			}
		}
	}
	return dirs, nil
}

// Watch re-scans whenever a watched directory changes, with debounce,
// and hands first-time registrations to onAdded. It blocks until ctx
// is done.
func (s *Scanner) Watch(ctx context.Context, onAdded func([]*source.DataSource)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dirs, err := s.expandDirs()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			s.logger.Warn("watch", "dir", dir, "error", err)
		}
	}

	var timer *time.Timer
	var kick <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
				kick = timer.C
			} else {
				timer.Reset(s.debounce)
			}
		case _, ok := <-w.Errors:
			if !ok {
				return nil
			}
		case <-kick:
			timer = nil
			kick = nil
			added, err := s.Scan(ctx)
			if err != nil {
				s.logger.Warn("rescan", "error", err)
				continue
			}
			if len(added) > 0 && onAdded != nil {
				onAdded(added)
			}
		}
	}
}

func isPackageDir(path string) bool {
	info, err := os.Stat(filepath.Join(path, plugin.MetadataFile))
	return err == nil && info.Mode().IsRegular()
}

func hasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
