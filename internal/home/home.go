// Package home manages the datadesk home directory layout.
//
// The home directory owns all persistent state: data source packages,
// cached dataframes, and built profile reports.
//
// Layout:
//
//	<root>/
//	  loaders/                   (user-editable data source packages)
//	  builtin/                   (built-in read-only packages)
//	  staging/
//	    <uuid>/                  (temporary package dirs, discarded or
//	                              moved into loaders/ after validation)
//	  cache/
//	    data/<data-id>.df        (zstd-compressed msgpack frames)
//	    profile_reports/<data-id>.html
package home

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Dir represents a datadesk home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// LoadersDir returns the directory holding user-editable packages.
func (d Dir) LoadersDir() string {
	return filepath.Join(d.root, "loaders")
}

// BuiltinDir returns the directory holding built-in packages.
func (d Dir) BuiltinDir() string {
	return filepath.Join(d.root, "builtin")
}

// DataDir returns the cached-dataframe directory.
func (d Dir) DataDir() string {
	return filepath.Join(d.root, "cache", "data")
}

// ProfileReportsDir returns the built-report directory.
func (d Dir) ProfileReportsDir() string {
	return filepath.Join(d.root, "cache", "profile_reports")
}

// DataPath returns the cached-dataframe path for a data id.
func (d Dir) DataPath(dataID string) string {
	return filepath.Join(d.DataDir(), dataID+".df")
}

// ProfileReportPath returns the built-report path for a data id.
func (d Dir) ProfileReportPath(dataID string) string {
	return filepath.Join(d.ProfileReportsDir(), dataID+".html")
}

// EnsureExists creates the full directory layout if missing.
func (d Dir) EnsureExists() error {
	for _, dir := range []string{
		d.root,
		d.LoadersDir(),
		d.BuiltinDir(),
		filepath.Join(d.root, "staging"),
		d.DataDir(),
		d.ProfileReportsDir(),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// StagingDir allocates a fresh uuid-named staging directory. Callers
// install or discard it; Remove cleans up either way.
func (d Dir) StagingDir() (string, error) {
	p := filepath.Join(d.root, "staging", uuid.NewString())
	if err := os.MkdirAll(p, 0o750); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	return p, nil
}

// WriteFileAtomic writes data via a temp file in the same directory
// followed by a rename, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// MTimeMillis returns a file's modification time as unix milliseconds.
func MTimeMillis(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixMilli(), nil
}
