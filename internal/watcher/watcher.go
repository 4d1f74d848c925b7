// Package watcher turns filesystem changes in an upload directory into
// uploads and deletes.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alexjbarnes/bucket-sync/internal/models"
)

const (
	watchDirPerm = fs.FileMode(0o755)

	// debounceInterval is how often pending writes are checked.
	debounceInterval = 500 * time.Millisecond

	// settleTime is how long a file must stay quiet before it is uploaded.
	settleTime = 300 * time.Millisecond
)

// Uploader is the subset of the manager the watcher drives.
type Uploader interface {
	Upload(ctx context.Context, path string) (models.FileRecord, error)
	Delete(ctx context.Context, name string) error
}

// Watcher uploads files written to a directory and deletes the remote
// copy of files removed from it. Subdirectories are not watched.
type Watcher struct {
	dir      string
	uploader Uploader
	logger   *slog.Logger
}

// New creates a watcher on dir.
func New(dir string, uploader Uploader, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{dir: dir, uploader: uploader, logger: logger}
}

// Watch blocks until ctx is cancelled. Rapid writes to one file are
// collapsed into a single upload. A failed upload or delete is logged
// and does not stop the loop.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, watchDirPerm); err != nil {
		return fmt.Errorf("creating watch dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.logger.Info("file watcher started", slog.String("dir", w.dir))

	pending := make(map[string]time.Time)

	ticker := time.NewTicker(debounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()
			}

			// For a rename fsnotify reports the old path here. The new
			// path arrives as a separate Create.
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
				w.handleDelete(ctx, event.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) < settleTime {
					continue
				}

				delete(pending, path)
				w.handleWrite(ctx, path)
			}
		}
	}
}

func (w *Watcher) handleWrite(ctx context.Context, path string) {
	info, err := os.Lstat(path)
	if err != nil {
		// Gone before it settled; the Remove event handles it.
		return
	}

	if !info.Mode().IsRegular() {
		return
	}

	rec, err := w.uploader.Upload(ctx, path)
	if err != nil {
		w.logger.Warn("upload failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	w.logger.Debug("watched file uploaded", slog.String("name", rec.Name))
}

// handleDelete removes the object the file was uploaded as.
func (w *Watcher) handleDelete(ctx context.Context, path string) {
	name := models.LocalName(filepath.Base(path))

	if err := w.uploader.Delete(ctx, name); err != nil {
		w.logger.Warn("delete failed", slog.String("name", name), slog.String("error", err.Error()))
	}
}

// shouldIgnore skips hidden files and editor or download temp files.
func shouldIgnore(path string) bool {
	name := filepath.Base(path)

	switch {
	case strings.HasPrefix(name, "."):
		return true
	case strings.HasSuffix(name, "~"), strings.HasSuffix(name, ".swp"):
		return true
	case strings.HasSuffix(name, ".tmp"), strings.HasSuffix(name, ".part"), strings.HasSuffix(name, ".crdownload"):
		return true
	}

	return false
}
