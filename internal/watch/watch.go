package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports batches of changed paths under a set of directories.
type Watcher struct {
	watcher  *fsnotify.Watcher
	Dirs     []string
	Debounce time.Duration
	OnChange func(paths []string)
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	flushes sync.WaitGroup
}

// New creates a watcher for the specified directories
func New(dirs []string, debounce time.Duration, onChange func([]string), logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		watcher:  w,
		Dirs:     dirs,
		Debounce: debounce,
		OnChange: onChange,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}, nil
}

// Run adds the directories recursively and dispatches events until ctx is
// done. Directories that cannot be watched are logged and skipped. Run does
// not return while an OnChange call is still in progress.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn("Failed to close file watcher", "error", err)
		}
	}()
	defer w.flushes.Wait()

	for _, dir := range w.Dirs {
		w.addTree(dir)
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if isHidden(event.Name) {
				continue
			}

			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(event.Name)
				}
			}

			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

// addTree watches root and every non-hidden directory below it. A directory
// that cannot be read or added is logged and skipped.
func (w *Watcher) addTree(root string) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("Error walking directory", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("Error walking directory", "path", root, "error", err)
	}
}

// schedule records path and restarts the quiet period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil && w.timer.Stop() {
		w.flushes.Done()
	}
	w.flushes.Add(1)
	w.timer = time.AfterFunc(w.Debounce, w.flush)
}

func (w *Watcher) flush() {
	defer w.flushes.Done()

	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.timer = nil
	w.mu.Unlock()

	if len(paths) == 0 || w.OnChange == nil {
		return
	}
	sort.Strings(paths)
	w.OnChange(paths)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		if w.timer.Stop() {
			w.flushes.Done()
		}
		w.timer = nil
	}
}

// isHidden reports whether the last path element starts with a dot.
func isHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}
