// Package preview hands out short-lived, locally served references to the
// clip currently selected in the session.
package preview

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/stickerkit/sticker-agent/internal/logging"
)

// Handle is a renderable reference to a selected clip. The zero Handle refers
// to nothing.
type Handle struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

func (h Handle) IsZero() bool {
	return h.Token == ""
}

// Registry owns the mapping from handle tokens to files on disk.
type Registry struct {
	baseURL string
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]string
}

// NewRegistry builds handles whose URLs are rooted at baseURL, e.g.
// http://127.0.0.1:8787/preview.
func NewRegistry(baseURL string, logger *slog.Logger) *Registry {
	return &Registry{
		baseURL: baseURL,
		logger:  logger,
		entries: make(map[string]string),
	}
}

// Acquire registers path and returns a fresh handle for it.
func (r *Registry) Acquire(path string) (Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Handle{}, fmt.Errorf("stat preview source: %w", err)
	}
	if info.IsDir() {
		return Handle{}, fmt.Errorf("preview source is a directory")
	}

	token := uuid.NewString()

	r.mu.Lock()
	r.entries[token] = path
	r.mu.Unlock()

	r.logger.Debug("preview acquired", "token", logging.SanitizeToken(token), "path", logging.SanitizePath(path))
	return Handle{Token: token, URL: r.baseURL + "/" + url.PathEscape(token)}, nil
}

// Release forgets a handle. Releasing the zero handle or an already released
// handle is a no-op.
func (r *Registry) Release(h Handle) {
	if h.IsZero() {
		return
	}

	r.mu.Lock()
	_, ok := r.entries[h.Token]
	delete(r.entries, h.Token)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("preview released", "token", logging.SanitizeToken(h.Token))
	}
}

// Lookup resolves a token to its file path.
func (r *Registry) Lookup(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.entries[token]
	return path, ok
}

// Serve streams the file behind token, honouring a single-span Range header.
func (r *Registry) Serve(w http.ResponseWriter, req *http.Request, token string) error {
	path, ok := r.Lookup(token)
	if !ok {
		http.Error(w, "preview not found", http.StatusNotFound)
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	size := stat.Size()
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")

	span, ok, err := parseRange(req.Header.Get("Range"), size)
	if err == ErrUnsatisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	// Malformed ranges fall back to the whole file.
	if err != nil || !ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		_, err := io.Copy(w, file)
		return err
	}

	w.Header().Set("Content-Length", strconv.FormatInt(span.length(), 10))
	w.Header().Set("Content-Range", span.header(size))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := file.Seek(span.start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	_, err = io.CopyN(w, file, span.length())
	return err
}
