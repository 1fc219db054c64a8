package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/index"
)

type fakeIndexer struct {
	mu        sync.Mutex
	submitted []string
	scans     int
}

func (f *fakeIndexer) Submit(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, path)
	return nil
}

func (f *fakeIndexer) Scan(_ context.Context) (*index.ScanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return &index.ScanResult{}, nil
}

func (f *fakeIndexer) sawSubmit(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.submitted {
		if p == path {
			return true
		}
	}
	return false
}

func (f *fakeIndexer) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

func startRunner(t *testing.T, opts Options, ix Indexer, sched *Schedule) (*Watcher, context.CancelFunc) {
	t.Helper()
	w, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRunner(w, ix, sched).Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("runner did not stop")
		}
	})

	require.Eventually(t, func() bool { return w.Watched() > 0 }, 2*time.Second, 10*time.Millisecond)
	return w, cancel
}

// TS01: A file written under a root is submitted by absolute path
func TestRunner_SubmitsChangedFiles(t *testing.T) {
	// Given: a runner watching an empty root
	root := t.TempDir()
	ix := &fakeIndexer{}
	startRunner(t, Options{Roots: []string{root}, Debounce: 20 * time.Millisecond}, ix, nil)

	// When: a file is created
	path := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	// Then: the manager receives it
	require.Eventually(t, func() bool { return ix.sawSubmit(path) }, 3*time.Second, 20*time.Millisecond)
	assert.Zero(t, ix.scanCount())
}

// TS02: New directories are watched and trigger a rescan
func TestRunner_NewDirectory(t *testing.T) {
	root := t.TempDir()
	ix := &fakeIndexer{}
	w, _ := startRunner(t, Options{Roots: []string{root}, Debounce: 20 * time.Millisecond}, ix, nil)
	before := w.Watched()

	// When: a directory is created
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// Then: a scan is requested and the directory joins the watch set
	require.Eventually(t, func() bool { return ix.scanCount() >= 1 }, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return w.Watched() > before }, 3*time.Second, 20*time.Millisecond)

	// And: files written inside it are submitted
	path := filepath.Join(sub, "inner.md")
	require.NoError(t, os.WriteFile(path, []byte("# inner"), 0o644))
	require.Eventually(t, func() bool { return ix.sawSubmit(path) }, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_SkipDirNotWatched(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))

	skip := func(path string) bool { return filepath.Base(path) == "node_modules" }
	w, _ := startRunner(t, Options{Roots: []string{root}, SkipDir: skip}, &fakeIndexer{}, nil)

	// root and docs only
	assert.Equal(t, 2, w.Watched())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Equal(t, ierrors.ErrCodeInvalidInput, ierrors.GetCode(err))

	_, err = New(Options{Roots: []string{filepath.Join(t.TempDir(), "missing")}})
	assert.Equal(t, ierrors.ErrCodeFileNotFound, ierrors.GetCode(err))

	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = New(Options{Roots: []string{file}})
	assert.Equal(t, ierrors.ErrCodeInvalidInput, ierrors.GetCode(err))
}

func TestRunner_RequestScanCollapses(t *testing.T) {
	r := NewRunner(nil, &fakeIndexer{}, nil)
	r.RequestScan("a")
	r.RequestScan("b")
	assert.Len(t, r.rescan, 1)
	assert.Equal(t, "a", <-r.rescan)
}

func TestRunner_DispatchRoutesEvents(t *testing.T) {
	ix := &fakeIndexer{}
	r := NewRunner(nil, ix, nil)

	r.dispatch([]FileEvent{
		{Path: "/r/a.txt", Operation: OpModify},
		{Path: "/r/dir", Operation: OpModify, IsDir: true},
		{Path: "/r/b.txt", Operation: OpDelete},
	})
	assert.Equal(t, []string{"/r/a.txt", "/r/b.txt"}, ix.submitted)
	assert.Empty(t, r.rescan)

	r.dispatch([]FileEvent{{Path: "/r/old", Operation: OpRename, IsDir: true}})
	assert.Equal(t, "directory_changed", <-r.rescan)
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("  ")
	require.NoError(t, err)
	assert.Nil(t, s)
	_, ok := s.Until(time.Now())
	assert.False(t, ok)

	_, err = ParseSchedule("not a schedule")
	assert.Equal(t, ierrors.ErrCodeConfigInvalid, ierrors.GetCode(err))

	s, err = ParseSchedule("0 * * * *")
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", s.String())

	from := time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC), s.Next(from))

	d, ok := s.Until(from)
	require.True(t, ok)
	assert.Equal(t, 45*time.Minute, d)
}
