package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

const (
	// DefaultDebounce is the quiet period before a batch is emitted.
	DefaultDebounce = 500 * time.Millisecond

	// DefaultEventBufferSize is the number of batches buffered for the consumer.
	DefaultEventBufferSize = 64
)

// Operation is a filesystem change kind.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a change to one absolute path.
type FileEvent struct {
	Path      string
	Operation Operation

	// IsDir is set for directories, including removed ones that were
	// being watched.
	IsDir     bool
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	Roots           []string
	Debounce        time.Duration
	EventBufferSize int

	// SkipDir prunes directories from the watch set. Nil watches everything.
	SkipDir func(path string) bool
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = DefaultEventBufferSize
	}
	return o
}

// Watcher reports debounced changes under a set of roots using fsnotify.
// New directories are added to the watch set as they appear.
type Watcher struct {
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	opts      Options
	roots     []string

	events chan []FileEvent
	errors chan error

	mu      sync.Mutex
	dirs    map[string]bool
	stopCh  chan struct{}
	stopped bool

	dropped atomic.Uint64
}

// New creates a watcher for opts.Roots. Watching starts with Run.
func New(opts Options) (*Watcher, error) {
	opts = opts.withDefaults()
	if len(opts.Roots) == 0 {
		return nil, ierrors.New(ierrors.ErrCodeInvalidInput, "no roots to watch", nil)
	}

	roots := make([]string, 0, len(opts.Roots))
	for _, r := range opts.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("resolve root %s: %w", r, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, ierrors.New(ierrors.ErrCodeFileNotFound, "watch root not found", err).
				WithDetail("path", abs)
		}
		if !info.IsDir() {
			return nil, ierrors.New(ierrors.ErrCodeInvalidInput, "watch root is not a directory", nil).
				WithDetail("path", abs)
		}
		roots = append(roots, abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsw:       fsw,
		debouncer: NewDebouncer(opts.Debounce),
		opts:      opts,
		roots:     roots,
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 16),
		dirs:      make(map[string]bool),
		stopCh:    make(chan struct{}),
	}, nil
}

// Run registers the roots and pumps events until ctx is cancelled or Stop
// is called. Events and Errors are closed when it returns. Run may be
// called once.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.errors)
	defer close(w.events)

	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			_ = w.Stop()
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}
	slog.Info("watch_started",
		slog.Int("roots", len(w.roots)),
		slog.Int("directories", w.Watched()))

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		w.forward()
	}()
	defer func() {
		_ = w.Stop()
		<-forwarded
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	isDir := false
	if op == OpDelete || op == OpRename {
		w.mu.Lock()
		isDir = w.dirs[ev.Name]
		for d := range w.dirs {
			if d == ev.Name || isUnder(d, ev.Name) {
				delete(w.dirs, d)
			}
		}
		w.mu.Unlock()
	} else if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
		isDir = true
		if w.skipDir(ev.Name) {
			return
		}
		if op == OpCreate {
			if err := w.addTree(ev.Name); err != nil {
				w.emitError(err)
			}
		}
	}

	w.debouncer.Add(FileEvent{Path: ev.Name, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// addTree watches dir and every directory below it that is not skipped.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			slog.Debug("watch_walk_error", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.skipDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("add watch %s: %w", path, err)
		}
		w.mu.Lock()
		w.dirs[path] = true
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) skipDir(path string) bool {
	return w.opts.SkipDir != nil && w.opts.SkipDir(path)
}

func (w *Watcher) forward() {
	for batch := range w.debouncer.Output() {
		select {
		case w.events <- batch:
		default:
			n := w.dropped.Add(1)
			slog.Warn("watch_batch_dropped",
				slog.Int("batch_size", len(batch)),
				slog.Uint64("total_dropped", n))
		}
	}
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// Events returns debounced batches. Closed when Run returns.
func (w *Watcher) Events() <-chan []FileEvent { return w.events }

// Errors returns non-fatal watch errors. Closed when Run returns.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Roots returns the absolute watched roots.
func (w *Watcher) Roots() []string { return w.roots }

// Watched returns the number of directories in the watch set.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// DroppedBatches returns the number of batches lost to a full buffer.
func (w *Watcher) DroppedBatches() uint64 { return w.dropped.Load() }

// Stop releases the fsnotify watcher. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	return w.fsw.Close()
}

func isUnder(path, dir string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
