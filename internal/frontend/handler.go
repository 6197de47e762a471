package frontend

import (
	"bytes"
	"compress/gzip"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
)

// staticHandler serves brotli-compressed UI assets from an embedded
// fs.FS. All files in the FS carry a .br extension; the handler strips
// it for MIME detection and path matching. The index page is held
// decompressed so the configured app title can be stamped into it, and
// it doubles as the SPA fallback for client-side routes.
type staticHandler struct {
	fs    fs.FS
	files map[string]bool // original paths (without .br) that exist
	index []byte          // index.html, decompressed, title applied
}

var titleTag = regexp.MustCompile(`<title>.*?</title>`)

func newStaticHandler(fsys fs.FS, appTitle string) *staticHandler {
	h := &staticHandler{
		fs:    fsys,
		files: make(map[string]bool),
	}

	fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.HasSuffix(p, ".br") {
			h.files[strings.TrimSuffix(p, ".br")] = true
		}
		return nil
	})

	if raw, err := fs.ReadFile(fsys, "index.html.br"); err == nil {
		if plain, err := decompressBrotli(raw); err == nil {
			if appTitle != "" {
				plain = titleTag.ReplaceAll(plain, []byte("<title>"+appTitle+"</title>"))
			}
			h.index = plain
		}
	}

	return h
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p := strings.TrimPrefix(path.Clean(r.URL.Path), "/")

	// SPA fallback: anything that is not a real asset gets the index.
	if p == "" || p == "index.html" || !h.files[p] {
		h.serveIndex(w, r)
		return
	}

	raw, err := fs.ReadFile(h.fs, p+".br")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	ct := mime.TypeByExtension(filepath.Ext(p))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)

	// Hashed assets are immutable.
	if strings.HasPrefix(p, "assets/") {
		w.Header().Set("Cache-Control", "max-age=31536000, immutable")
	}

	ae := r.Header.Get("Accept-Encoding")
	switch {
	case acceptsEncoding(ae, "br"):
		w.Header().Set("Content-Encoding", "br")
		writeBody(w, r, raw)

	case acceptsEncoding(ae, "gzip"):
		plain, err := decompressBrotli(raw)
		if err != nil {
			http.Error(w, "decompression error", http.StatusInternalServerError)
			return
		}
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write(plain)
		gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		writeBody(w, r, buf.Bytes())

	default:
		plain, err := decompressBrotli(raw)
		if err != nil {
			http.Error(w, "decompression error", http.StatusInternalServerError)
			return
		}
		writeBody(w, r, plain)
	}
}

// serveIndex always sends the title-stamped index identity-encoded; it
// is small and rewritten at startup, so negotiating an encoding buys
// nothing.
func (h *staticHandler) serveIndex(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	writeBody(w, r, h.index)
}

func writeBody(w http.ResponseWriter, r *http.Request, data []byte) {
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(data)
	}
}

func decompressBrotli(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}

// acceptsEncoding checks whether the Accept-Encoding header includes
// the given encoding.
func acceptsEncoding(header, encoding string) bool {
	for _, part := range strings.Split(header, ",") {
		// Strip quality value (e.g. "br;q=1.0" → "br").
		if enc, _, _ := strings.Cut(strings.TrimSpace(part), ";"); strings.TrimSpace(enc) == encoding {
			return true
		}
	}
	return false
}
