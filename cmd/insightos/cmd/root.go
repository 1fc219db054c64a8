// Package cmd provides the CLI commands for InsightOS.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rajasaid/InsightOS/internal/config"
	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/logging"
	"github.com/rajasaid/InsightOS/internal/profiling"
	"github.com/rajasaid/InsightOS/pkg/version"
)

// Command annotations read by the root hooks.
const (
	// skipConfig marks commands that run without loading the configuration.
	skipConfig = "skip-config"
	// stdioMode marks commands whose stdout carries a protocol.
	stdioMode = "stdio"
)

type configKey struct{}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configFile string
	envFile    string
	debug      bool
	noColor    bool

	profile profiling.Options

	session        *profiling.Session
	loggingCleanup func()
}

// NewRootCmd creates the root command for the insightos CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   version.Name,
		Short: "Local document indexing and retrieval engine",
		Long: `InsightOS keeps a local vector index of the documents under a set of
directories and retrieves the passages most relevant to a question,
with citations back to the source files.

Index once with 'insightos index ~/Documents', keep it fresh with
'insightos watch', and query it with 'insightos search' or from an MCP
client through 'insightos serve'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(version.Name + " version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "Config file (default: "+config.GetUserConfigPath()+")")
	pf.StringVar(&opts.envFile, "env-file", ".env", "Dotenv file with INSIGHTOS_* overrides")
	pf.String("data-dir", "", "Directory holding the index and logs")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("provider", "", "Embedding provider: hash, ollama, gemini")
	pf.String("model", "", "Embedding model name")
	pf.BoolVar(&opts.debug, "debug", false, "Debug logging, mirrored to stderr")
	pf.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	pf.StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	pf.StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	pf.StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = opts.start
	cmd.PersistentPostRunE = opts.stop

	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// start begins profiling, loads the configuration and installs logging.
func (o *rootOptions) start(cmd *cobra.Command, _ []string) error {
	if o.profile.Enabled() {
		s, err := profiling.Start(o.profile)
		if err != nil {
			return err
		}
		o.session = s
	}

	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: o.configFile,
		EnvFile:    o.envFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return err
	}

	var cleanup func()
	if cmd.Annotations[stdioMode] == "true" && !o.debug {
		// stdout belongs to the protocol
		cleanup, err = logging.SetupStdioMode(cfg.LogPath(), cfg.Server.LogLevel)
	} else {
		logCfg := logging.DefaultConfig()
		logCfg.FilePath = cfg.LogPath()
		logCfg.Level = cfg.Server.LogLevel
		if o.debug {
			logCfg.Level = "debug"
			logCfg.WriteToStderr = true
		}
		cleanup, err = logging.SetupDefault(logCfg)
	}
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	o.loggingCleanup = cleanup
	slog.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("version", version.Version),
		slog.String("data_dir", cfg.Paths.DataDir))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, configKey{}, cfg))
	return nil
}

// stop ends profiling and flushes the log file.
func (o *rootOptions) stop(_ *cobra.Command, _ []string) error {
	err := o.session.Stop()
	o.session = nil
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
	return err
}

// configFrom returns the configuration loaded by the root command.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, ierrors.New(ierrors.ErrCodeInternal, "configuration not loaded", nil)
	}
	return cfg, nil
}

// Execute runs the root command and prints a formatted error on failure.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprint(root.ErrOrStderr(), ierrors.FormatForCLI(err))
		return err
	}
	return nil
}
