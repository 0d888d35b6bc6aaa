package advisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crowdwork/workq/internal/logging"
)

// debounceWindow collapses the burst of events editors emit for a single
// save into one recorded edit.
const debounceWindow = 50 * time.Millisecond

// Watcher observes a project tree and records every file write against
// the owning session, so other sessions see the edits without the session
// having to report them by hand.
type Watcher struct {
	watcher *fsnotify.Watcher
	advisor *Advisor
	root    string
	tag     string

	// Directory base names that are never watched or recorded.
	ignorePaths []string

	logger *logging.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewWatcher creates a Watcher rooted at root that attributes observed
// edits to sessionTag.
func NewWatcher(advisor *Advisor, root, sessionTag string, logger *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		_ = fw.Close()
		return nil, err
	}

	return &Watcher{
		watcher:     fw,
		advisor:     advisor,
		root:        absRoot,
		tag:         sessionTag,
		ignorePaths: []string{".git", ".workq", "node_modules", ".DS_Store"},
		logger:      logger.WithStore("files"),
		pending:     make(map[string]struct{}),
	}, nil
}

// Start registers the root and its subdirectories with the watcher.
// fsnotify only watches directories, so the tree is walked up front and
// new directories are added as create events arrive.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.root); err != nil {
		return err
	}
	return w.watchDirRecursive(w.root)
}

func (w *Watcher) watchDirRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries, keep walking
		}

		base := filepath.Base(path)
		for _, ignore := range w.ignorePaths {
			if base == ignore {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if info.IsDir() {
			_ = w.watcher.Add(path)
		}
		return nil
	})
}

// Run processes filesystem events until the context is cancelled or the
// watcher's event channel closes.
func (w *Watcher) Run(ctx context.Context) error {
	debounce := time.NewTimer(0)
	<-debounce.C // drain initial timer

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// New directories need their own watch before events
			// inside them can arrive.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watchDirRecursive(event.Name)
					continue
				}
			}

			w.mu.Lock()
			w.pending[event.Name] = struct{}{}
			w.mu.Unlock()
			debounce.Reset(debounceWindow)

		case <-debounce.C:
			w.flushPending()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// flushPending records every debounced path as an edit by the session.
func (w *Watcher) flushPending() {
	w.mu.Lock()
	paths := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	for path := range paths {
		if w.ignored(path) {
			continue
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}

		if err := w.advisor.RecordEdit(rel, w.tag); err != nil {
			w.logger.Warn("failed to record edit", "path", rel, "error", err)
		}
	}
}

func (w *Watcher) ignored(path string) bool {
	sep := string(filepath.Separator)
	for _, ignore := range w.ignorePaths {
		if strings.Contains(path, sep+ignore+sep) ||
			strings.HasSuffix(path, sep+ignore) ||
			filepath.Base(path) == ignore {
			return true
		}
	}
	return false
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
