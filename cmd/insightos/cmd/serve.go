package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rajasaid/InsightOS/internal/config"
	"github.com/rajasaid/InsightOS/internal/mcp"
	"github.com/rajasaid/InsightOS/internal/telemetry"
)

// resourceRefresh is how often newly indexed documents are registered as
// resources.
const resourceRefresh = 30 * time.Second

type serveOptions struct {
	watch bool
}

func newServeCmd(_ *rootOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve [dir...]",
		Short: "Serve retrieval to MCP clients over stdio",
		Long: `Start an MCP server on stdin/stdout exposing the 'retrieve' and
'index_status' tools, plus every indexed document as a resource.

Stdout carries only protocol messages; logs go to the log file.
By default the index is opened read-only and follows changes committed
by a running 'insightos watch'. With --watch the server itself keeps the
index in sync with the given directories (or paths.roots).`,
		Example: `  insightos serve
  insightos serve --watch ~/Documents`,
		Annotations: map[string]string{stdioMode: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			return runServe(ctx, cfg, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Also watch the directories and keep the index current")
	cmd.Flags().Int("workers", 0, "Concurrent indexing jobs with --watch (default from config)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, args []string, opts serveOptions) error {
	var roots []string
	if opts.watch {
		var err error
		if roots, err = resolveRoots(cfg, args); err != nil {
			return err
		}
	}

	queries := telemetry.NewQueryLog(telemetry.QueryLogConfig{})
	metrics := telemetry.NewMetrics(queries)

	eng, err := openEngine(ctx, cfg, engineOptions{
		readOnly: !opts.watch,
		roots:    roots,
		recorder: metrics,
	})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	r, err := eng.retriever(metrics)
	if err != nil {
		return err
	}
	srv, err := mcp.NewServer(r, eng.manager, mcp.Options{
		Documents: eng.store,
		Embedder:  eng.embedder,
		Provider:  cfg.Embeddings.Provider,
		Queries:   queries,
		Logger:    slog.Default(),
	})
	if err != nil {
		return err
	}
	if err := srv.RegisterResources(ctx); err != nil {
		return err
	}

	slog.Info("serve_started",
		slog.Bool("watch", opts.watch),
		slog.String("index", cfg.IndexPath()))

	// A client disconnect ends Serve without error; the watcher stops with it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		refreshResources(gctx, srv)
		return nil
	})
	if opts.watch {
		g.Go(func() error { return watchAndServe(gctx, cfg, eng, roots, metrics) })
	}

	err = g.Wait()
	slog.Info("serve_stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// refreshResources registers documents indexed since startup until ctx ends.
func refreshResources(ctx context.Context, srv *mcp.Server) {
	t := time.NewTicker(resourceRefresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := srv.RegisterResources(ctx); err != nil {
				slog.Warn("resource_refresh_failed", slog.String("error", err.Error()))
			}
		}
	}
}
