package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/rajasaid/InsightOS/internal/config"
	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/index"
	"github.com/rajasaid/InsightOS/internal/store"
	"github.com/rajasaid/InsightOS/internal/ui"
)

// stateRoots is the store state key holding the roots of the last index run.
const stateRoots = "roots"

// State shown when another process holds the index writer lock.
const stateInUse = "in use"

func newStatusCmd(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and statistics",
		Long: `Show the documents, chunks and formats in the index, the embedding
model it was built with, and the documents that failed to index.
Given paths, also report whether each one is searchable.`,
		Example: `  insightos status
  insightos status --format json
  insightos status ~/Documents/report.pdf`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if format != "text" && format != "json" {
				return ierrors.New(ierrors.ErrCodeInvalidInput, "unknown format "+format, nil).
					WithSuggestion("Use --format text or --format json")
			}

			info, err := collectStatus(cmd.Context(), cfg, args)
			if err != nil {
				return err
			}
			r := ui.NewStatusRenderer(cmd.OutOrStdout(), root.noColor)
			if format == "json" {
				return r.RenderJSON(*info)
			}
			return r.Render(*info)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

// collectStatus reads the index read-only and gathers the status view.
// Each of paths is looked up in the store.
func collectStatus(ctx context.Context, cfg *config.Config, paths []string) (*ui.StatusInfo, error) {
	eng, err := openEngine(ctx, cfg, engineOptions{readOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = eng.Close() }()

	stats, err := eng.manager.Stats(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := eng.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	sources, err := eng.manager.IndexedSources(ctx)
	if err != nil {
		return nil, err
	}
	graph := eng.store.GraphStats()

	info := &ui.StatusInfo{
		IndexDir:         cfg.IndexPath(),
		IndexSize:        dirSize(cfg.IndexPath()),
		State:            indexState(cfg.IndexPath()),
		Documents:        stats.Documents,
		FailedDocuments:  stats.FailedDocuments,
		Searchable:       len(sources),
		Chunks:           stats.Chunks,
		Vectors:          graph.Vectors,
		GraphNodes:       graph.GraphNodes,
		Orphans:          graph.Orphans,
		Formats:          stats.Formats,
		ChunkSize:        stats.ChunkSize,
		ChunkOverlap:     stats.ChunkOverlap,
		Roots:            cfg.Paths.Roots,
		EmbedderProvider: cfg.Embeddings.Provider,
		EmbedderModel:    stats.Model,
		Dimensions:       stats.Dimensions,
		EmbedderStatus:   "offline",
	}
	if eng.embedder.Available(ctx) {
		info.EmbedderStatus = "ready"
	}
	if v, ok, err := eng.store.GetState(ctx, stateRoots); err == nil && ok && v != "" {
		info.Roots = strings.Split(v, "\n")
	}

	for _, p := range paths {
		ok, err := eng.manager.IsIndexed(ctx, p)
		if err != nil {
			return nil, err
		}
		info.Paths = append(info.Paths, ui.PathLine{Path: p, Indexed: ok})
	}

	for _, d := range docs {
		if d.IndexedAt.After(info.LastIndexed) {
			info.LastIndexed = d.IndexedAt
		}
		if d.Status == store.StatusFailed {
			info.Failures = append(info.Failures, ui.FailureLine{
				Path:    d.Path,
				Kind:    d.ErrorKind,
				Message: d.ErrorMessage,
			})
		}
	}
	return info, nil
}

// indexState reports whether a writer holds the index.
func indexState(dir string) string {
	lock := flock.New(filepath.Join(dir, "index.lock"))
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return stateInUse
	}
	_ = lock.Unlock()
	return index.StatusIdle
}

func dirSize(dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var n int64
	for _, e := range entries {
		if info, err := e.Info(); err == nil && !info.IsDir() {
			n += info.Size()
		}
	}
	return n
}
