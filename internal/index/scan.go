package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/scanner"
)

// FileError describes a per-file failure in a scan.
type FileError struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ScanResult summarizes one scan cycle.
type ScanResult struct {
	ScanID    string        `json:"scan_id"`
	Indexed   int           `json:"indexed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Deleted   int           `json:"deleted"`
	Cancelled int           `json:"cancelled"`
	Chunks    int           `json:"chunks"`
	Bytes     int64         `json:"bytes"`
	Errors    []FileError   `json:"errors,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Progress is reported after each job of a scan finishes.
type Progress struct {
	ScanID string
	Total  int
	Done   int
	Failed int
	Path   string
	State  JobState
}

type pending struct {
	file        scanner.FileInfo
	fingerprint string
}

// Scan enumerates the watched roots and reconciles the store with them:
// new and changed documents are indexed, unchanged ones skipped, and
// documents no longer found are deleted.
//
// Per-file failures are counted in the result and never abort the scan.
// StoreUnavailable or DimensionMismatch stop dispatching; in-flight jobs
// finish and Scan returns the partial result with the error. Cancelling ctx
// drops jobs not yet started and counts them as cancelled.
func (m *Manager) Scan(ctx context.Context) (*ScanResult, error) {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	return m.scan(ctx)
}

// Reindex clears the store and scans from scratch.
func (m *Manager) Reindex(ctx context.Context) (*ScanResult, error) {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		return nil, err
	}
	slog.Info("index_cleared")
	return m.scan(ctx)
}

func (m *Manager) scan(ctx context.Context) (res *ScanResult, err error) {
	res = &ScanResult{ScanID: uuid.NewString(), StartedAt: time.Now()}
	m.status.scanStarted(res.ScanID)
	slog.Info("scan_started", slog.String("scan_id", res.ScanID))

	defer func() {
		res.Duration = time.Since(res.StartedAt)
		chunks := m.refreshCounts(context.WithoutCancel(ctx))
		m.status.scanFinished(res)
		if m.opts.Recorder != nil {
			m.opts.Recorder.ScanFinished(res, chunks)
		}

		attrs := []any{
			slog.String("scan_id", res.ScanID),
			slog.Int("indexed", res.Indexed),
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed),
			slog.Int("deleted", res.Deleted),
			slog.Int("cancelled", res.Cancelled),
			slog.Int("chunks", res.Chunks),
			slog.Duration("duration", res.Duration),
		}
		if err != nil {
			slog.Warn("scan_incomplete", append(attrs, ierrors.LogAttrs(err)...)...)
			return
		}
		slog.Info("scan_complete", attrs...)
	}()

	if err := m.checkSignature(ctx); err != nil {
		return res, err
	}

	discovered, err := m.scanner.Discover(ctx)
	if err != nil {
		return res, err
	}
	fingerprints, err := scanner.FingerprintAll(ctx, discovered.Files, m.workers)
	if err != nil {
		res.Cancelled = len(discovered.Files)
		return res, err
	}

	docs, err := m.store.ListDocuments(ctx)
	if err != nil {
		return res, err
	}
	byPath := make(map[string]int, len(docs))
	for i, d := range docs {
		byPath[d.Path] = i
	}

	present := make(map[string]bool, len(fingerprints))
	var todo []pending
	for _, fp := range fingerprints {
		present[fp.File.Path] = true
		if fp.Err != nil {
			res.Failed++
			cause := ierrors.ExtractionFailed(fp.File.Path, fp.Err)
			res.Errors = append(res.Errors, FileError{Path: fp.File.Path, Kind: ierrors.KindExtractionFailed, Message: cause.Error()})
			m.status.failure(FailureInfo{Kind: ierrors.KindExtractionFailed, Path: fp.File.Path, Message: cause.Error(), At: time.Now()})
			continue
		}
		if i, ok := byPath[fp.File.Path]; ok && !needsIndex(&docs[i], fp.Fingerprint) {
			res.Skipped++
			continue
		}
		todo = append(todo, pending{file: fp.File, fingerprint: fp.Fingerprint})
	}

	// Documents no longer discovered, including chunk sets left without a
	// document row by an interrupted run.
	sources, err := m.store.Sources(ctx)
	if err != nil {
		return res, err
	}
	var gone []string
	for _, d := range docs {
		if !present[d.Path] {
			gone = append(gone, d.Path)
		}
	}
	for _, s := range sources {
		if _, ok := byPath[s]; !ok && !present[s] {
			gone = append(gone, s)
		}
	}
	sort.Strings(gone)
	for _, path := range gone {
		if err := ctx.Err(); err != nil {
			res.Cancelled += len(todo)
			return res, err
		}
		removed, err := m.removeQueued(ctx, path)
		if err != nil {
			return res, err
		}
		if removed {
			res.Deleted++
			slog.Debug("document_removed", slog.String("path", path))
		}
	}

	return res, m.dispatch(ctx, res, todo)
}

// dispatch runs the pending jobs on the worker pool and tallies the results.
func (m *Manager) dispatch(ctx context.Context, res *ScanResult, todo []pending) error {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fatalErr error
		done     int
	)

	stop := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fatalErr != nil
	}

	var dispatchErr error
	for i, p := range todo {
		if err := ctx.Err(); err != nil {
			dispatchErr = err
		} else if stop() {
			dispatchErr = errStopped
		} else if err := m.pool.Acquire(ctx, 1); err != nil {
			dispatchErr = err
		} else if stop() {
			m.pool.Release(1)
			dispatchErr = errStopped
		}
		if dispatchErr != nil {
			mu.Lock()
			res.Cancelled += len(todo) - i
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func(p pending) {
			defer wg.Done()
			defer m.pool.Release(1)

			job, superseded, err := m.runQueued(ctx, p)

			mu.Lock()
			defer mu.Unlock()
			done++
			switch {
			case superseded || (job == nil && err == nil):
				res.Skipped++
			case err != nil:
				res.Failed++
				kind := ierrors.KindOf(err)
				if kind == "" {
					kind = ierrors.KindInternal
				}
				res.Errors = append(res.Errors, FileError{Path: p.file.Path, Kind: kind, Message: err.Error()})
				if isFatal(err) && fatalErr == nil {
					fatalErr = err
				}
			default:
				res.Indexed++
				res.Chunks += job.Chunks
				res.Bytes += job.Size
			}

			state := StateDone
			if err != nil {
				state = StateFailed
			}
			m.progress(Progress{
				ScanID: res.ScanID,
				Total:  len(todo),
				Done:   done,
				Failed: res.Failed,
				Path:   p.file.Path,
				State:  state,
			})
		}(p)
	}
	wg.Wait()

	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].Path < res.Errors[j].Path })

	if fatalErr != nil {
		return fatalErr
	}
	if errors.Is(dispatchErr, errStopped) {
		return nil
	}
	return dispatchErr
}

var errStopped = errors.New("dispatch stopped")

// runQueued runs a job for p once it holds the path. superseded is true when
// a newer request for the same path replaced this one.
func (m *Manager) runQueued(ctx context.Context, p pending) (job *Job, superseded bool, err error) {
	gen := m.queue.ticket(p.file.Path)
	if !m.queue.acquire(p.file.Path, gen) {
		return nil, true, nil
	}
	defer m.queue.release(p.file.Path)

	job, err = m.process(ctx, p.file, p.fingerprint)
	return job, false, err
}

// Submit schedules a single path, typically reported by a file watcher. It
// returns immediately; the job runs on the worker pool behind any job for
// the same path, and bursts of submissions for one path collapse into the
// latest. A path that no longer exists, or is now skipped, is removed.
func (m *Manager) Submit(path string) error {
	if m.closed.Load() {
		return errors.New("index manager is closed")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	gen := m.queue.ticket(abs)
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		ctx := context.Background()
		if err := m.pool.Acquire(ctx, 1); err != nil {
			return
		}
		defer m.pool.Release(1)

		if !m.queue.acquire(abs, gen) {
			return
		}
		defer m.queue.release(abs)

		m.submitted(ctx, abs)
		m.refreshCounts(ctx)
	}()
	return nil
}

func (m *Manager) submitted(ctx context.Context, path string) {
	fi, reason, err := m.scanner.Check(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if _, err := m.remove(ctx, path); err != nil {
			slog.Warn("remove_failed", append([]any{slog.String("path", path)}, ierrors.LogAttrs(err)...)...)
		}
		return
	case err != nil:
		slog.Warn("submit_failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	case reason != "":
		// Now excluded, or never indexable.
		if removed, err := m.remove(ctx, path); err == nil && removed {
			slog.Debug("document_removed", slog.String("path", path), slog.String("reason", string(reason)))
		}
		return
	}

	fp, err := scanner.Fingerprint(ctx, path)
	if err != nil {
		cause := ierrors.ExtractionFailed(path, err)
		m.status.failure(FailureInfo{Kind: ierrors.KindExtractionFailed, Path: path, Message: cause.Error(), At: time.Now()})
		return
	}
	_, _ = m.process(ctx, *fi, fp)
}

// Remove deletes every chunk and the document record for path. It waits
// for any running job on the same path.
func (m *Manager) Remove(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	_, err = m.removeQueued(ctx, abs)
	m.refreshCounts(context.WithoutCancel(ctx))
	return err
}

func (m *Manager) removeQueued(ctx context.Context, path string) (bool, error) {
	gen := m.queue.ticket(path)
	if !m.queue.acquire(path, gen) {
		return false, nil
	}
	defer m.queue.release(path)
	return m.remove(ctx, path)
}

// remove must be called while holding the path.
func (m *Manager) remove(ctx context.Context, path string) (bool, error) {
	n, err := m.store.CountBySource(ctx, path)
	if err != nil {
		return false, err
	}
	doc, err := m.store.GetDocument(ctx, path)
	if err != nil {
		return false, err
	}
	if n == 0 && doc == nil {
		return false, nil
	}
	if err := m.store.DeleteBySource(ctx, path); err != nil {
		return false, err
	}
	if err := m.store.DeleteDocument(ctx, path); err != nil {
		return false, err
	}
	return true, nil
}
