package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rajasaid/InsightOS/internal/config"
	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/output"
	"github.com/rajasaid/InsightOS/internal/telemetry"
	"github.com/rajasaid/InsightOS/internal/watcher"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Keep the index in sync with the watched directories",
		Long: `Run a full scan, then watch the directories for changes and index them
as they happen. Directory moves trigger a rescan, and indexing.schedule
(a cron expression) adds periodic rescans that catch missed events.

With --metrics-addr, Prometheus metrics are served on /metrics.`,
		Example: `  insightos watch ~/Documents
  insightos watch --metrics-addr 127.0.0.1:9464`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Server.MetricsAddr = metricsAddr
			}
			return runWatch(ctx, cmd, cfg, args, root.noColor)
		},
	}

	cmd.Flags().Int("workers", 0, "Concurrent indexing jobs (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, cfg *config.Config, args []string, noColor bool) error {
	roots, err := resolveRoots(cfg, args)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics(telemetry.NewQueryLog(telemetry.QueryLogConfig{}))
	eng, err := openEngine(ctx, cfg, engineOptions{roots: roots, recorder: metrics})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	out := output.New(cmd.OutOrStdout())
	if !noColor {
		out = output.NewColor(cmd.OutOrStdout())
	}
	out.Statusf("👀", "Watching %s", strings.Join(roots, ", "))
	if cfg.Indexing.Schedule != "" {
		out.Statusf("⏱", "Rescanning on schedule %q", cfg.Indexing.Schedule)
	}
	if cfg.Server.MetricsAddr != "" {
		out.Statusf("📈", "Metrics on http://%s/metrics", cfg.Server.MetricsAddr)
	}

	err = watchAndServe(ctx, cfg, eng, roots, metrics)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	st := eng.manager.Status()
	out.Successf("Stopped: %d documents, %d chunks indexed", st.Documents, st.Chunks)
	return nil
}

// watchAndServe runs the watcher, its scan loop and the optional metrics
// endpoint until ctx is cancelled or one of them fails.
func watchAndServe(ctx context.Context, cfg *config.Config, eng *engine, roots []string, metrics *telemetry.Metrics) error {
	sched, err := watcher.ParseSchedule(cfg.Indexing.Schedule)
	if err != nil {
		return err
	}
	w, err := watcher.New(watcher.Options{
		Roots:    roots,
		Debounce: cfg.WatchDebounceDuration(),
		SkipDir:  eng.scanner.SkipDir,
	})
	if err != nil {
		return err
	}

	if err := eng.store.SetState(ctx, stateRoots, strings.Join(roots, "\n")); err != nil {
		slog.Warn("roots_not_saved", ierrors.LogAttrs(err)...)
	}

	runner := watcher.NewRunner(w, eng.manager, sched)
	runner.RequestScan("startup")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := runner.Run(gctx); err != nil {
			return fmt.Errorf("watcher stopped: %w", err)
		}
		return nil
	})
	if cfg.Server.MetricsAddr != "" && metrics != nil {
		g.Go(func() error {
			if err := metrics.Serve(gctx, cfg.Server.MetricsAddr); err != nil {
				return fmt.Errorf("metrics endpoint: %w", err)
			}
			return nil
		})
	}

	slog.Info("watch_started",
		slog.Any("roots", roots),
		slog.String("schedule", sched.String()))
	err = g.Wait()
	slog.Info("watch_stopped",
		slog.Int("watched_dirs", w.Watched()),
		slog.Uint64("dropped_batches", w.DroppedBatches()))
	return err
}
