// Package index implements the Index Manager: it reconciles the watched
// directories with the vector store, running one job per changed document
// through read, chunk, embed and write stages on a bounded worker pool.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rajasaid/InsightOS/internal/chunk"
	"github.com/rajasaid/InsightOS/internal/embed"
	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/reader"
	"github.com/rajasaid/InsightOS/internal/scanner"
	"github.com/rajasaid/InsightOS/internal/store"
)

// DefaultJobTimeout bounds a single job when Options.JobTimeout is zero.
const DefaultJobTimeout = 2 * time.Minute

// stateSignature is the store state key holding the config signature the
// index was built with.
const stateSignature = "config_signature"

// Extractor turns a file into normalized text.
type Extractor interface {
	Extract(ctx context.Context, path string) (*reader.Document, error)
}

// Discoverer enumerates the watched roots.
type Discoverer interface {
	Discover(ctx context.Context) (*scanner.Result, error)
	Check(path string) (*scanner.FileInfo, scanner.SkipReason, error)
}

// Store is the subset of the vector store the manager writes through.
type Store interface {
	Dimensions() int
	Upsert(ctx context.Context, records []store.Record) error
	DeleteBySource(ctx context.Context, path string) error
	DeleteStale(ctx context.Context, path string, keep int) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	CountBySource(ctx context.Context, path string) (int, error)
	Sources(ctx context.Context) ([]string, error)

	GetDocument(ctx context.Context, path string) (*store.Document, error)
	PutDocument(ctx context.Context, d store.Document) error
	ListDocuments(ctx context.Context) ([]store.Document, error)
	DeleteDocument(ctx context.Context, path string) error
	MarkAllStale(ctx context.Context) (int, error)
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
}

// Recorder receives job and scan outcomes, typically for metrics.
type Recorder interface {
	JobFinished(outcome string, duration time.Duration)
	ScanFinished(result *ScanResult, chunks int)
}

// Dependencies are the collaborators of a Manager. All are required.
type Dependencies struct {
	Reader   Extractor
	Scanner  Discoverer
	Embedder embed.Embedder
	Store    Store
}

// Options configures a Manager.
type Options struct {
	// Workers bounds concurrent jobs (0 = NumCPU).
	Workers int

	// JobTimeout is the wall-clock budget of one job (0 = DefaultJobTimeout).
	JobTimeout time.Duration

	ChunkSize    int
	ChunkOverlap int

	// Signature identifies the settings the index depends on. A change marks
	// every document stale so the next scan re-indexes it.
	Signature string

	// OnTransition observes every job state change. It runs on the worker
	// goroutine and must not block.
	OnTransition func(Transition)

	// OnProgress observes scan progress. It must not block.
	OnProgress func(Progress)

	Recorder Recorder
}

// Manager keeps the vector store consistent with the watched directories.
type Manager struct {
	reader   Extractor
	scanner  Discoverer
	embedder embed.Embedder
	store    Store
	chunker  *chunk.Chunker

	opts    Options
	workers int
	timeout time.Duration

	pool   *semaphore.Weighted
	queue  *pathQueue
	status *statusTracker

	scanMu sync.Mutex
	jobSeq atomic.Uint64

	// background tracks Submit jobs.
	background sync.WaitGroup
	closed     atomic.Bool
}

// NewManager validates the dependencies and configuration and returns a
// Manager. An embedder whose dimensions differ from the store's fails with
// DimensionMismatch; an unusable chunk size/overlap with InvalidChunkConfig.
func NewManager(deps Dependencies, opts Options) (*Manager, error) {
	switch {
	case deps.Reader == nil:
		return nil, fmt.Errorf("reader is required")
	case deps.Scanner == nil:
		return nil, fmt.Errorf("scanner is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	}

	if opts.ChunkSize == 0 && opts.ChunkOverlap == 0 {
		opts.ChunkSize, opts.ChunkOverlap = chunk.DefaultSize, chunk.DefaultOverlap
	}
	chunker, err := chunk.New(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	if sd := deps.Store.Dimensions(); sd > 0 && sd != deps.Embedder.Dimensions() {
		return nil, ierrors.DimensionMismatch(sd, deps.Embedder.Dimensions()).
			WithDetail("model", deps.Embedder.ModelName())
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	timeout := opts.JobTimeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}

	return &Manager{
		reader:   deps.Reader,
		scanner:  deps.Scanner,
		embedder: deps.Embedder,
		store:    deps.Store,
		chunker:  chunker,
		opts:     opts,
		workers:  workers,
		timeout:  timeout,
		pool:     semaphore.NewWeighted(int64(workers)),
		queue:    newPathQueue(),
		status:   newStatusTracker(),
	}, nil
}

// Workers returns the size of the worker pool.
func (m *Manager) Workers() int { return m.workers }

// Wait blocks until every job started by Submit has finished.
func (m *Manager) Wait() {
	m.background.Wait()
}

// Close stops accepting submissions and waits for background jobs.
// It does not close the store or embedder.
func (m *Manager) Close() error {
	m.closed.Store(true)
	m.background.Wait()
	return nil
}

// checkSignature marks every document stale when the stored config
// signature differs from the current one.
func (m *Manager) checkSignature(ctx context.Context) error {
	if m.opts.Signature == "" {
		return nil
	}
	stored, ok, err := m.store.GetState(ctx, stateSignature)
	if err != nil {
		return err
	}
	if ok && stored == m.opts.Signature {
		return nil
	}
	if ok {
		n, err := m.store.MarkAllStale(ctx)
		if err != nil {
			return err
		}
		slog.Info("config_changed",
			slog.String("previous", stored),
			slog.String("current", m.opts.Signature),
			slog.Int("documents_marked_stale", n))
	}
	return m.store.SetState(ctx, stateSignature, m.opts.Signature)
}

// isFatal reports errors that stop dispatching for the rest of a scan.
func isFatal(err error) bool {
	return errors.Is(err, ierrors.ErrStoreUnavailable) || errors.Is(err, ierrors.ErrDimensionMismatch)
}

func (m *Manager) notify(t Transition) {
	if m.opts.OnTransition != nil {
		m.opts.OnTransition(t)
	}
}

func (m *Manager) progress(p Progress) {
	if m.opts.OnProgress != nil {
		m.opts.OnProgress(p)
	}
}
