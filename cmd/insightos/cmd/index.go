package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rajasaid/InsightOS/internal/config"
	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/index"
	"github.com/rajasaid/InsightOS/internal/ui"
)

type indexOptions struct {
	reindex bool
	noTUI   bool
}

func newIndexCmd(root *rootOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [dir...]",
		Short: "Bring the index up to date with a set of directories",
		Long: `Scan the given directories (or paths.roots from the config) and index
every new or changed document. Unchanged documents are skipped by
fingerprint. Documents that disappeared, or that lie outside the
directories of this run, are removed from the index.

Per-file failures are reported and never stop the run. Use --reindex
to clear the index and rebuild it from scratch.`,
		Example: `  insightos index ~/Documents ~/Notes
  insightos index --reindex
  insightos index ~/Documents --no-tui --workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			return runIndex(ctx, cmd, cfg, args, opts, root.noColor)
		},
	}

	cmd.Flags().BoolVar(&opts.reindex, "reindex", false, "Clear the index and rebuild it")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Plain text progress instead of the terminal UI")
	cmd.Flags().Int("workers", 0, "Concurrent indexing jobs (default from config)")

	return cmd
}

// resolveRoots makes args absolute, falling back to the configured roots.
func resolveRoots(cfg *config.Config, args []string) ([]string, error) {
	if len(args) == 0 {
		args = cfg.Paths.Roots
	}
	if len(args) == 0 {
		return nil, ierrors.New(ierrors.ErrCodeInvalidInput, "no directories to index", nil).
			WithSuggestion("Pass directories as arguments or set paths.roots in " + config.GetUserConfigPath())
	}
	roots := make([]string, 0, len(args))
	for _, a := range args {
		abs, err := filepath.Abs(a)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", a, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, ierrors.New(ierrors.ErrCodeFileNotFound, "directory not found: "+abs, err)
		}
		if !info.IsDir() {
			return nil, ierrors.New(ierrors.ErrCodeInvalidInput, "not a directory: "+abs, nil)
		}
		roots = append(roots, abs)
	}
	return roots, nil
}

func runIndex(ctx context.Context, cmd *cobra.Command, cfg *config.Config, args []string, opts indexOptions, noColor bool) error {
	roots, err := resolveRoots(cfg, args)
	if err != nil {
		return err
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithNoColor(noColor),
		ui.WithTitle(strings.Join(roots, ", "))))

	eng, err := openEngine(ctx, cfg, engineOptions{
		roots: roots,
		onProgress: func(p index.Progress) {
			renderer.UpdateProgress(ui.FromProgress(p))
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if err := renderer.Start(ctx); err != nil {
		return err
	}
	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageDiscovering})

	slog.Info("index_started",
		slog.Any("roots", roots),
		slog.Bool("reindex", opts.reindex),
		slog.Int("workers", eng.manager.Workers()))

	var res *index.ScanResult
	if opts.reindex {
		res, err = eng.manager.Reindex(ctx)
	} else {
		res, err = eng.manager.Scan(ctx)
	}

	if res != nil {
		for _, fe := range res.Errors {
			renderer.AddError(ui.ErrorEvent{File: fe.Path, Kind: fe.Kind, Err: errors.New(fe.Message)})
		}
		renderer.Complete(ui.CompletionFromScan(res, ui.EmbedderInfo{
			Provider:   cfg.Embeddings.Provider,
			Model:      eng.embedder.ModelName(),
			Dimensions: eng.embedder.Dimensions(),
		}))
	}
	_ = renderer.Stop()

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("indexing interrupted: %w", ctx.Err())
		}
		return err
	}
	if err := eng.store.SetState(ctx, stateRoots, strings.Join(roots, "\n")); err != nil {
		slog.Warn("roots_not_saved", ierrors.LogAttrs(err)...)
	}
	return nil
}
