package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rajasaid/InsightOS/internal/config"
	"github.com/rajasaid/InsightOS/internal/embed"
	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/index"
	"github.com/rajasaid/InsightOS/internal/reader"
	"github.com/rajasaid/InsightOS/internal/retrieve"
	"github.com/rajasaid/InsightOS/internal/scanner"
	"github.com/rajasaid/InsightOS/internal/store"
)

// engineOptions selects how much of the engine a command needs.
type engineOptions struct {
	// readOnly opens the store without the writer lock.
	readOnly bool

	// roots replaces paths.roots when non-empty.
	roots []string

	onProgress func(index.Progress)
	recorder   index.Recorder
}

// engine is the assembled indexing and retrieval stack for one command.
type engine struct {
	cfg      *config.Config
	embedder embed.Embedder
	store    *store.Store
	registry *reader.Registry
	scanner  *scanner.Scanner
	manager  *index.Manager
}

// openEngine builds the embedder, store, reader registry, scanner and
// manager from cfg. Close releases them.
func openEngine(ctx context.Context, cfg *config.Config, opts engineOptions) (*engine, error) {
	roots := cfg.Paths.Roots
	if len(opts.roots) > 0 {
		roots = opts.roots
	}

	if opts.readOnly {
		if _, err := os.Stat(filepath.Join(cfg.IndexPath(), "index.db")); err != nil {
			return nil, ierrors.New(ierrors.ErrCodeStoreUnavailable,
				"no index found in "+cfg.IndexPath(), err).
				WithSuggestion("Run 'insightos index <dir>' first")
		}
	}

	emb, err := embed.NewFromConfig(ctx, cfg.Embeddings)
	if err != nil {
		return nil, err
	}
	e := &engine{cfg: cfg, embedder: emb}

	e.store, err = store.Open(ctx, store.Options{
		Dir:              cfg.IndexPath(),
		Dimensions:       emb.Dimensions(),
		ExactSearchLimit: cfg.Indexing.ExactSearchLimit,
		ReadOnly:         opts.readOnly,
	})
	if err != nil {
		_ = e.Close()
		return nil, err
	}

	e.registry = reader.NewDefaultRegistry(reader.Options{Normalize: cfg.Chunking.Normalize})
	e.scanner, err = scanner.New(scanner.Options{
		Roots:       roots,
		Exclude:     cfg.Paths.Exclude,
		SkipHidden:  cfg.Paths.SkipHidden,
		MaxFileSize: cfg.MaxFileSize(),
		Extensions:  cfg.Paths.Extensions,
		Supports:    e.registry.Supports,
	})
	if err != nil {
		_ = e.Close()
		return nil, err
	}

	e.manager, err = index.NewManager(index.Dependencies{
		Reader:   e.registry,
		Scanner:  e.scanner,
		Embedder: emb,
		Store:    e.store,
	}, index.Options{
		Workers:      cfg.Indexing.Workers,
		JobTimeout:   cfg.JobTimeoutDuration(),
		ChunkSize:    cfg.Chunking.Size,
		ChunkOverlap: cfg.Chunking.Overlap,
		Signature:    cfg.Signature(),
		OnProgress:   opts.onProgress,
		Recorder:     opts.recorder,
	})
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.manager.Refresh(ctx)
	return e, nil
}

// retriever returns a Retriever over the engine's store.
func (e *engine) retriever(rec retrieve.Recorder) (*retrieve.Retriever, error) {
	return retrieve.New(e.embedder, e.store, retrieve.Options{
		TopK:            e.cfg.Retrieval.TopK,
		Threshold:       e.cfg.Retrieval.SimilarityThreshold,
		MaxContextChars: e.cfg.Retrieval.MaxContextChars,
		MergeAdjacent:   e.cfg.Retrieval.MergeAdjacent,
		Recorder:        rec,
	})
}

// Close waits for background jobs, then closes the store and embedder.
func (e *engine) Close() error {
	var errs []error
	if e.manager != nil {
		errs = append(errs, e.manager.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.embedder != nil {
		errs = append(errs, e.embedder.Close())
	}
	return errors.Join(errs...)
}
