// Command compress-assets prepares the built console UI for embedding.
// Every file under the given directory is replaced by a
// brotli-compressed .br sibling; the server decompresses on demand for
// clients that cannot take brotli.
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/andybalholm/brotli"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: compress-assets <dist-dir>")
		os.Exit(1)
	}
	n, err := compressTree(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "compress-assets: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "compressed %d files\n", n)
}

func compressTree(dir string) (int, error) {
	// Collect first so the walk never sees its own output.
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Base(path) == ".gitignore" || filepath.Ext(path) == ".br" {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, path := range files {
		if err := compressFile(path); err != nil {
			return 0, fmt.Errorf("compress %s: %w", path, err)
		}
	}
	return len(files), nil
}

func compressFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dst, err := os.Create(path + ".br")
	if err != nil {
		return err
	}
	w := brotli.NewWriterLevel(dst, brotli.BestCompression)
	if _, err := w.Write(src); err != nil {
		dst.Close()
		return err
	}
	if err := w.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}
