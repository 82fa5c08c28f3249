// Package watcher turns a directory into a drop folder: video files that
// appear in it are reported once they stop changing.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stickerkit/sticker-agent/internal/logging"
	"github.com/stickerkit/sticker-agent/internal/media"
)

const defaultSettle = 2 * time.Second

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// FSWatcher watches a single directory with fsnotify. Writes to a file are
// coalesced until the file has been quiet for the settle interval, so a
// video still being copied is reported once, after the copy finishes.
type FSWatcher struct {
	settle time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	callback func(path string, event EventType)
	pending  map[string]time.Time
	seen     map[string]bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewFSWatcher(settle time.Duration, logger *slog.Logger) *FSWatcher {
	if settle <= 0 {
		settle = defaultSettle
	}
	return &FSWatcher{
		settle:  settle,
		logger:  logging.WithComponent(logger, "watcher"),
		pending: make(map[string]time.Time),
		seen:    make(map[string]bool),
	}
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch starts watching dir, creating it if needed. Files already present are
// not reported.
func (w *FSWatcher) Watch(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		fw.Close()
		return fmt.Errorf("watcher already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx, fw)

	w.logger.Info("watching drop folder", "path", logging.SanitizePath(dir))
	return nil
}

func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	fw, cancel := w.watcher, w.cancel
	w.watcher, w.cancel = nil, nil
	w.mu.Unlock()

	if fw == nil {
		return nil
	}
	cancel()
	err := fw.Close()
	w.wg.Wait()
	return err
}

func (w *FSWatcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.settle / 4)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("drop folder watch error", "error", err)

		case now := <-ticker.C:
			w.flush(now)

		case <-ctx.Done():
			return
		}
	}
}

func (w *FSWatcher) handle(event fsnotify.Event) {
	if !media.IsSupported(event.Name) || isHidden(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.mu.Lock()
		w.pending[event.Name] = time.Now()
		w.mu.Unlock()

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A rename reports the old name; the new name arrives as a Create.
		w.mu.Lock()
		delete(w.pending, event.Name)
		wasSeen := w.seen[event.Name]
		delete(w.seen, event.Name)
		w.mu.Unlock()

		if wasSeen {
			w.emit(event.Name, EventDelete)
		}
	}
}

// flush reports files that have been quiet for the settle interval.
func (w *FSWatcher) flush(now time.Time) {
	type ready struct {
		path  string
		event EventType
	}
	var out []ready

	w.mu.Lock()
	for path, last := range w.pending {
		if now.Sub(last) < w.settle {
			continue
		}
		delete(w.pending, path)

		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		ev := EventCreate
		if w.seen[path] {
			ev = EventModify
		}
		w.seen[path] = true
		out = append(out, ready{path, ev})
	}
	w.mu.Unlock()

	for _, r := range out {
		w.emit(r.path, r.event)
	}
}

func (w *FSWatcher) emit(path string, event EventType) {
	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()

	w.logger.Debug("drop folder event", "event", event.String(), "path", logging.SanitizePath(path))
	if cb != nil {
		cb(path, event)
	}
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return len(base) > 0 && base[0] == '.'
}
