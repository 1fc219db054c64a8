package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rajasaid/InsightOS/internal/store"
)

// Manager states.
const (
	StatusIdle     = "idle"
	StatusScanning = "scanning"
)

// FailureInfo is the most recent per-file failure.
type FailureInfo struct {
	Kind    string    `json:"kind"`
	Path    string    `json:"path"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// StatusSnapshot is an immutable copy of the indexing status surface.
type StatusSnapshot struct {
	State           string       `json:"state"`
	ScanID          string       `json:"scan_id,omitempty"`
	Documents       int          `json:"documents"`
	FailedDocuments int          `json:"failed_documents"`
	Chunks          int          `json:"chunks"`
	ActiveJobs      int          `json:"active_jobs"`
	LastScan        *ScanResult  `json:"last_scan,omitempty"`
	LastFailure     *FailureInfo `json:"last_failure,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// statusTracker provides thread-safe tracking of the status surface.
type statusTracker struct {
	mu sync.RWMutex

	state       string
	scanID      string
	documents   int
	failedDocs  int
	chunks      int
	activeJobs  int
	lastScan    *ScanResult
	lastFailure *FailureInfo
	updatedAt   time.Time
}

func newStatusTracker() *statusTracker {
	return &statusTracker{state: StatusIdle, updatedAt: time.Now()}
}

func (t *statusTracker) scanStarted(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StatusScanning
	t.scanID = id
	t.updatedAt = time.Now()
}

func (t *statusTracker) scanFinished(res *ScanResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := *res
	cp.Errors = append([]FileError(nil), res.Errors...)
	t.lastScan = &cp
	t.state = StatusIdle
	t.updatedAt = time.Now()
}

func (t *statusTracker) jobStarted() {
	t.mu.Lock()
	t.activeJobs++
	t.mu.Unlock()
}

func (t *statusTracker) jobEnded() {
	t.mu.Lock()
	t.activeJobs--
	t.mu.Unlock()
}

func (t *statusTracker) failure(f FailureInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFailure = &f
	t.updatedAt = f.At
}

func (t *statusTracker) counts(documents, failed, chunks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.documents, t.failedDocs, t.chunks = documents, failed, chunks
	t.updatedAt = time.Now()
}

func (t *statusTracker) snapshot() StatusSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := StatusSnapshot{
		State:           t.state,
		ScanID:          t.scanID,
		Documents:       t.documents,
		FailedDocuments: t.failedDocs,
		Chunks:          t.chunks,
		ActiveJobs:      t.activeJobs,
		UpdatedAt:       t.updatedAt,
	}
	if t.lastScan != nil {
		cp := *t.lastScan
		cp.Errors = append([]FileError(nil), t.lastScan.Errors...)
		s.LastScan = &cp
	}
	if t.lastFailure != nil {
		f := *t.lastFailure
		s.LastFailure = &f
	}
	return s
}

// Status returns the current status surface. Counts reflect the store as of
// the last scan, submission or Refresh.
func (m *Manager) Status() StatusSnapshot {
	return m.status.snapshot()
}

// Refresh reloads document and chunk counts from the store.
func (m *Manager) Refresh(ctx context.Context) {
	m.refreshCounts(ctx)
}

// refreshCounts updates the cached counts and returns the chunk total.
func (m *Manager) refreshCounts(ctx context.Context) int {
	chunks, err := m.store.Count(ctx)
	if err != nil {
		slog.Debug("count_failed", slog.String("error", err.Error()))
		return 0
	}
	docs, err := m.store.ListDocuments(ctx)
	if err != nil {
		slog.Debug("count_failed", slog.String("error", err.Error()))
		return chunks
	}
	indexed, failed := 0, 0
	for _, d := range docs {
		if d.Status == store.StatusFailed {
			failed++
		} else {
			indexed++
		}
	}
	m.status.counts(indexed, failed, chunks)
	return chunks
}

// Stats describes the index contents.
type Stats struct {
	Documents       int            `json:"documents"`
	FailedDocuments int            `json:"failed_documents"`
	Chunks          int            `json:"chunks"`
	Formats         map[string]int `json:"formats"`
	ChunkSize       int            `json:"chunk_size"`
	ChunkOverlap    int            `json:"chunk_overlap"`
	Model           string         `json:"model"`
	Dimensions      int            `json:"dimensions"`
}

// Stats queries the store for document, chunk and per-format counts.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	chunks, err := m.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := m.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		Chunks:       chunks,
		Formats:      make(map[string]int),
		ChunkSize:    m.chunker.Size(),
		ChunkOverlap: m.chunker.Overlap(),
		Model:        m.embedder.ModelName(),
		Dimensions:   m.embedder.Dimensions(),
	}
	for _, d := range docs {
		if d.Status == store.StatusFailed {
			st.FailedDocuments++
			continue
		}
		st.Documents++
		if d.Format != "" {
			st.Formats[d.Format]++
		}
	}
	return st, nil
}

// IndexedSources returns the sorted paths that have chunks in the store.
func (m *Manager) IndexedSources(ctx context.Context) ([]string, error) {
	sources, err := m.store.Sources(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(sources)
	return sources, nil
}

// IsIndexed reports whether path has chunks in the store.
func (m *Manager) IsIndexed(ctx context.Context, path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	n, err := m.store.CountBySource(ctx, abs)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
