// Package cache stores node artifacts on disk: the serialized dataframe
// behind each node id, and the built profile report when one exists.
//
// Artifacts are content caches keyed by data id. Existence and mtime
// drive the node's lastCachedAt; deletion is explicit (clear-cache), a
// consequence of a breaking source update, or the sweeper reclaiming
// artifacts whose nodes no longer exist.
package cache

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"datadesk/internal/fault"
	"datadesk/internal/frame"
	"datadesk/internal/home"
	"datadesk/internal/logging"
)

// Store reads and writes node artifacts under the home cache dirs.
type Store struct {
	home   home.Dir
	logger *slog.Logger
}

// NewStore creates a Store over the given home layout.
func NewStore(h home.Dir, logger *slog.Logger) *Store {
	return &Store{
		home:   h,
		logger: logging.Default(logger).With("component", "cache"),
	}
}

// DataPath returns the on-disk dataframe path for a data id.
func (s *Store) DataPath(dataID string) string {
	return s.home.DataPath(dataID)
}

// HasData reports whether a cached dataframe exists.
func (s *Store) HasData(dataID string) bool {
	_, err := os.Stat(s.home.DataPath(dataID))
	return err == nil
}

// SaveData persists a frame atomically.
func (s *Store) SaveData(dataID string, f *frame.Frame) error {
	data, err := frame.Encode(f)
	if err != nil {
		return fault.Wrap(fault.IO, err, "cache data")
	}
	if err := home.WriteFileAtomic(s.home.DataPath(dataID), data); err != nil {
		return fault.Wrap(fault.IO, err, "cache data")
	}
	return nil
}

// ReadData loads a cached frame.
func (s *Store) ReadData(dataID string) (*frame.Frame, error) {
	data, err := os.ReadFile(s.home.DataPath(dataID))
	if err != nil {
		return nil, fault.Wrap(fault.IO, err, "read cached data")
	}
	f, err := frame.Decode(data)
	if err != nil {
		return nil, fault.Wrap(fault.IO, err, "read cached data")
	}
	return f, nil
}

// LastCachedAt returns the cached dataframe's mtime in unix millis,
// or false when nothing is cached.
func (s *Store) LastCachedAt(dataID string) (int64, bool) {
	ms, err := home.MTimeMillis(s.home.DataPath(dataID))
	if err != nil {
		return 0, false
	}
	return ms, true
}

// ProfileReportPath returns the on-disk report path for a data id.
func (s *Store) ProfileReportPath(dataID string) string {
	return s.home.ProfileReportPath(dataID)
}

// HasProfileReport reports whether a built report exists.
func (s *Store) HasProfileReport(dataID string) bool {
	_, err := os.Stat(s.home.ProfileReportPath(dataID))
	return err == nil
}

// ReadProfileReport returns the built report HTML.
func (s *Store) ReadProfileReport(dataID string) (string, error) {
	data, err := os.ReadFile(s.home.ProfileReportPath(dataID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fault.New(fault.NotFound, "no profile report for %s", dataID)
		}
		return "", fault.Wrap(fault.IO, err, "read profile report")
	}
	return string(data), nil
}

// Clear removes the cached dataframe and any built report for a data
// id. Missing files are fine; a clear of nothing is a no-op.
func (s *Store) Clear(dataID string) error {
	for _, path := range []string{s.home.DataPath(dataID), s.home.ProfileReportPath(dataID)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fault.Wrap(fault.IO, err, "clear cache")
		}
	}
	return nil
}

// Sweep removes artifacts whose data id no longer belongs to any live
// node, returning how many files were removed. isLive is consulted once
// per artifact.
func (s *Store) Sweep(isLive func(dataID string) bool) int {
	removed := 0
	removed += s.sweepDir(s.home.DataDir(), ".df", isLive)
	removed += s.sweepDir(s.home.ProfileReportsDir(), ".html", isLive)
	if removed > 0 {
		s.logger.Info("swept orphaned artifacts", "removed", removed)
	}
	return removed
}

func (s *Store) sweepDir(dir, ext string, isLive func(string) bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		dataID := strings.TrimSuffix(e.Name(), ext)
		if isLive(dataID) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed
}
