// Package defaults ships the built-in data sources: small scanners for
// common file formats in the user's home directory. They install into
// the home layout's builtin directory on startup and register
// read-only, so the update endpoints cannot touch them.
package defaults

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"datadesk/internal/home"
	"datadesk/internal/logging"
	"datadesk/internal/plugin"
	"datadesk/internal/source"
)

//go:embed sources
var assets embed.FS

// Install copies the embedded packages into <root>/builtin, replacing
// whatever a previous version left there, and registers them. Returns
// the sources registered for the first time.
func Install(ctx context.Context, h home.Dir, store *plugin.Store, reg *source.Registry, logger *slog.Logger) ([]*source.DataSource, error) {
	logger = logging.Default(logger).With("component", "defaults")

	entries, err := fs.ReadDir(assets, "sources")
	if err != nil {
		return nil, err
	}

	var added []*source.DataSource
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		dest := filepath.Join(h.BuiltinDir(), name)

		sub, err := fs.Sub(assets, "sources/"+name)
		if err != nil {
			return nil, err
		}
		if err := os.RemoveAll(dest); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dest, 0o750); err != nil {
			return nil, err
		}
		if err := os.CopyFS(dest, sub); err != nil {
			return nil, err
		}

		pkg, err := store.Load(dest, name)
		if err != nil {
			logger.Warn("skipping builtin", "name", name, "error", err)
			continue
		}
		if src, isNew := reg.RegisterPackage(ctx, pkg, false); isNew {
			added = append(added, src)
		}
	}
	return added, nil
}
