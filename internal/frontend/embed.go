// Package frontend embeds the built console UI into the binary.
package frontend

import (
	"embed"
	"io/fs"
)

//go:embed all:dist
var distFS embed.FS

// Handler returns an http.Handler serving the embedded UI, or nil if
// no real assets are embedded (dev mode, when dist only contains
// .gitignore). appTitle, when non-empty, replaces the page title in
// the served index.
func Handler(appTitle string) *staticHandler {
	sub, err := fs.Sub(distFS, "dist")
	if err != nil {
		return nil
	}

	hasContent := false
	fs.WalkDir(sub, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && path != ".gitignore" {
			hasContent = true
			return fs.SkipAll
		}
		return nil
	})
	if !hasContent {
		return nil
	}

	return newStaticHandler(sub, appTitle)
}
