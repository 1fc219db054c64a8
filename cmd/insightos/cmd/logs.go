package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rajasaid/InsightOS/internal/logging"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	logFile string
	noColor bool
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the InsightOS log",
		Long: `Pretty-print the JSON log written by every command. By default the
last 50 entries are shown; -f follows new entries like 'tail -f'.`,
		Example: `  insightos logs -n 100
  insightos logs -f --level warn
  insightos logs --filter scan_`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.logFile == "" {
				cfg, err := configFrom(cmd)
				if err != nil {
					return err
				}
				opts.logFile = cfg.LogPath()
			}
			opts.noColor, _ = cmd.Flags().GetBool("no-color")
			return runLogs(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only entries matching this regular expression")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Log file (default: <data-dir>/logs/insightos.log)")

	return cmd
}

func runLogs(cmd *cobra.Command, opts logsOptions) error {
	var pattern *regexp.Regexp
	if opts.filter != "" {
		var err error
		if pattern, err = regexp.Compile(opts.filter); err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Pattern: pattern,
		NoColor: opts.noColor,
	}, cmd.OutOrStdout())

	if opts.follow {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Following %s (Ctrl+C to stop)\n", opts.logFile)
		return viewer.Follow(ctx, opts.logFile)
	}

	entries, err := viewer.Tail(opts.logFile, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)
	return nil
}
