// Package inbox imports Markdown files dropped into a watched directory.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/models"
	"github.com/starford/scholia/internal/noteservice"
)

// Subdirectories that receive processed files.
const (
	ImportedDir = "imported"
	RejectedDir = "rejected"
)

// DefaultDebounce is how long a file must stay quiet before it is read.
const DefaultDebounce = 300 * time.Millisecond

// Importer turns a Markdown document into a note.
type Importer interface {
	ImportMarkdown(ctx context.Context, data []byte) (models.Note, error)
}

// Watcher watches the top level of one directory.
type Watcher struct {
	dir      string
	debounce time.Duration
	rescan   chan struct{}
}

// New returns a Watcher for dir. A non-positive debounce uses DefaultDebounce.
func New(dir string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{dir: dir, debounce: debounce, rescan: make(chan struct{}, 1)}
}

// PublishNoteEvent schedules a rescan when the session changes, so files
// deferred for lack of a session are picked up after login.
func (w *Watcher) PublishNoteEvent(kind, _ string) {
	if kind != noteservice.EventSessionChanged {
		return
	}
	select {
	case w.rescan <- struct{}{}:
	default:
	}
}

// Run imports the files already in the directory, then processes change
// events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, imp Importer, logger *slog.Logger) error {
	for _, d := range []string{w.dir, filepath.Join(w.dir, ImportedDir), filepath.Join(w.dir, RejectedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("inbox: create %s: %w", d, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}

	logger.Info("inbox: started", slog.String("dir", w.dir))
	w.scan(ctx, imp, logger)

	ready := make(chan string)
	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("inbox: stopped")
			return nil

		case <-w.rescan:
			w.scan(ctx, imp, logger)

		case path := <-ready:
			delete(pending, path)
			w.importFile(ctx, imp, path, logger)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isMarkdown(ev.Name) {
				continue
			}
			if t, ok := pending[ev.Name]; ok {
				t.Reset(w.debounce)
				continue
			}
			path := ev.Name
			pending[path] = time.AfterFunc(w.debounce, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) scan(ctx context.Context, imp Importer, logger *slog.Logger) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.Warn("inbox: scan failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isMarkdown(e.Name()) {
			continue
		}
		w.importFile(ctx, imp, filepath.Join(w.dir, e.Name()), logger)
	}
}

func (w *Watcher) importFile(ctx context.Context, imp Importer, path string, logger *slog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		// A duplicate timer fire after the file was already moved.
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		logger.Warn("inbox: read failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	n, err := imp.ImportMarkdown(ctx, data)
	switch {
	case err == nil:
		logger.Info("inbox: imported", slog.String("path", path), slog.String("note_id", n.ID))
		w.move(path, ImportedDir, logger)
	case errors.Is(err, apperr.ErrInvalidInput):
		logger.Warn("inbox: rejected", slog.String("path", path), slog.String("error", err.Error()))
		w.move(path, RejectedDir, logger)
	default:
		logger.Warn("inbox: import deferred", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (w *Watcher) move(path, sub string, logger *slog.Logger) {
	dst := filepath.Join(w.dir, sub, fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(path)))
	if err := os.Rename(path, dst); err != nil {
		logger.Error("inbox: move failed",
			slog.String("path", path),
			slog.String("to", dst),
			slog.String("error", err.Error()))
	}
}

// isMarkdown reports whether name is a visible .md file. Editors often write
// dot-prefixed swap files next to the real one.
func isMarkdown(name string) bool {
	base := filepath.Base(name)
	return !strings.HasPrefix(base, ".") && strings.EqualFold(filepath.Ext(base), ".md")
}
