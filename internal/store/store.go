// Package store is the durable vector store. Chunks, their vectors and
// per-document bookkeeping live in SQLite; vectors are mirrored in memory
// with an HNSW graph for candidate generation on large collections.
//
// A Store is the only writer of its directory: Open takes an exclusive
// file lock that is released by Close.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

const (
	dbFileName   = "index.db"
	lockFileName = "index.lock"

	stateDimensions = "dimensions"
	// stateGeneration is bumped by every commit that changes chunks.
	stateGeneration = "generation"

	// DefaultExactSearchLimit is the collection size up to which Search
	// scans every vector instead of querying the graph.
	DefaultExactSearchLimit = 20000
)

// ErrReadOnly is returned by mutations on a store opened with ReadOnly.
var ErrReadOnly = errors.New("store is opened read-only")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store is closed")

// Options configures Open.
type Options struct {
	// Dir holds index.db and index.lock.
	Dir string

	// Dimensions is the vector length. 0 adopts the stored value; a
	// non-zero value must match it.
	Dimensions int

	// ExactSearchLimit selects exact scan for collections up to this size.
	ExactSearchLimit int

	// HNSW graph parameters.
	M          int
	EfSearch   int
	Oversample int

	// ReadOnly skips the writer lock and rejects mutations. Reads reload
	// memory when the writer has committed chunk changes since the last
	// load.
	ReadOnly bool
}

func (o *Options) applyDefaults() {
	if o.ExactSearchLimit <= 0 {
		o.ExactSearchLimit = DefaultExactSearchLimit
	}
	if o.M <= 0 {
		o.M = 16
	}
	if o.EfSearch <= 0 {
		o.EfSearch = 20
	}
	if o.Oversample <= 0 {
		o.Oversample = 4
	}
}

// Store is safe for concurrent use. Mutations hold the write lock across
// the SQLite transaction and the in-memory update, so a concurrent Search
// sees either all or none of a mutation.
type Store struct {
	opts Options
	db   *sql.DB
	lock *flock.Flock

	mu      sync.RWMutex
	dims    int
	entries map[chunkKey]*entry
	sources map[string]map[int]struct{}
	byKey   map[uint64]chunkKey
	graph   *hnsw.Graph[uint64]
	nextKey uint64
	orphans int
	gen     int64 // generation of the loaded chunks
	closed  bool
}

// Open opens or creates the store in opts.Dir.
func Open(ctx context.Context, opts Options) (*Store, error) {
	opts.applyDefaults()
	if opts.Dir == "" {
		return nil, ierrors.New(ierrors.ErrCodeInvalidInput, "store directory is required", nil)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, ierrors.StoreUnavailable("create directory", err)
	}

	s := &Store{opts: opts}

	if !opts.ReadOnly {
		s.lock = flock.New(filepath.Join(opts.Dir, lockFileName))
		ok, err := s.lock.TryLock()
		if err != nil {
			return nil, ierrors.StoreUnavailable("lock", err)
		}
		if !ok {
			return nil, ierrors.New(ierrors.ErrCodeIndexLocked,
				"index at "+opts.Dir+" is in use by another process", nil).
				WithSuggestion("Stop the running 'insightos watch' or 'insightos serve' first")
		}
	}

	if err := s.open(ctx); err != nil {
		s.unlock()
		return nil, err
	}
	return s, nil
}

func (s *Store) open(ctx context.Context) error {
	path := filepath.Join(s.opts.Dir, dbFileName)

	if !s.opts.ReadOnly {
		if err := checkIntegrity(ctx, path); err != nil {
			slog.Warn("index_corrupted",
				slog.String("path", path),
				slog.String("error", err.Error()))
			for _, p := range []string{path, path + "-wal", path + "-shm"} {
				if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
					return ierrors.New(ierrors.ErrCodeCorruptIndex, "index corrupted and cannot be removed", rmErr)
				}
			}
			slog.Info("index_cleared", slog.String("reason", "corruption detected, rescan required"))
		}
	}

	db, err := openDB(ctx, path, s.opts.ReadOnly)
	if err != nil {
		return err
	}
	s.db = db

	if !s.opts.ReadOnly {
		if err := initSchema(ctx, db); err != nil {
			_ = db.Close()
			return ierrors.StoreUnavailable("init schema", err)
		}
	}

	if err := s.checkDimensions(ctx); err != nil {
		_ = db.Close()
		return err
	}

	gen, err := s.generation(ctx)
	if err != nil {
		_ = db.Close()
		return err
	}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return err
	}
	s.gen = gen

	slog.Debug("store_opened",
		slog.String("dir", s.opts.Dir),
		slog.Int("dimensions", s.dims),
		slog.Int("chunks", len(s.entries)),
		slog.Bool("read_only", s.opts.ReadOnly))
	return nil
}

// checkDimensions adopts or verifies the stored vector length.
func (s *Store) checkDimensions(ctx context.Context) error {
	stored, ok, err := s.getState(ctx, stateDimensions)
	if err != nil {
		return err
	}

	if ok {
		n, err := strconv.Atoi(stored)
		if err != nil {
			return ierrors.New(ierrors.ErrCodeCorruptIndex, "stored dimensions are not a number", err)
		}
		if s.opts.Dimensions != 0 && s.opts.Dimensions != n {
			return ierrors.DimensionMismatch(n, s.opts.Dimensions)
		}
		s.dims = n
		return nil
	}

	s.dims = s.opts.Dimensions
	if s.dims <= 0 || s.opts.ReadOnly {
		return nil
	}
	return s.setState(ctx, stateDimensions, strconv.Itoa(s.dims))
}

// generation returns the stored chunk generation, 0 when never written.
func (s *Store) generation(ctx context.Context) (int64, error) {
	v, ok, err := s.getState(ctx, stateGeneration)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ierrors.New(ierrors.ErrCodeCorruptIndex, "stored generation is not a number", err)
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// bumpGeneration runs inside the mutating transaction so readers observe
// the new generation together with the chunks it covers.
func bumpGeneration(ctx context.Context, ex execer) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, '1')
		ON CONFLICT (key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)`,
		stateGeneration)
	return err
}

// refresh reloads memory on a read-only store when the writer committed
// since the last load. A writer's own memory is always current.
func (s *Store) refresh(ctx context.Context) error {
	if !s.opts.ReadOnly {
		return nil
	}
	s.mu.RLock()
	closed, loaded := s.closed, s.gen
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	gen, err := s.generation(ctx)
	if err != nil {
		return err
	}
	if gen == loaded {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.gen == gen {
		return nil
	}
	if s.dims == 0 {
		if err := s.checkDimensions(ctx); err != nil {
			return err
		}
	}
	if err := s.load(ctx); err != nil {
		return err
	}
	slog.Debug("store_reloaded",
		slog.String("dir", s.opts.Dir),
		slog.Int64("generation", gen),
		slog.Int("chunks", len(s.entries)))
	s.gen = gen
	return nil
}

// Dimensions returns the vector length, or 0 for an empty store opened
// without dimensions.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.opts.Dir }

// Close releases the database and the writer lock. It is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.entries = nil
	s.sources = nil
	s.byKey = nil
	s.graph = nil

	err := s.db.Close()
	s.unlock()
	return err
}

func (s *Store) unlock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		slog.Warn("index_unlock_failed", slog.String("error", err.Error()))
	}
}

// writable is called with s.mu held.
func (s *Store) writable() error {
	if s.closed {
		return ErrClosed
	}
	if s.opts.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// storeErr maps a database error to StoreUnavailable, passing context
// errors through so callers can tell cancellation from I/O failure.
func storeErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("store %s: %w", op, ctxErr)
	}
	return ierrors.StoreUnavailable(op, err)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
