// Package ui renders indexing progress and index status in the terminal:
// a bubbletea view for interactive terminals and plain lines for pipes,
// CI and --no-tui.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/rajasaid/InsightOS/internal/index"
)

// Stage is a phase of an indexing run.
type Stage int

const (
	// StageDiscovering walks the roots and fingerprints files.
	StageDiscovering Stage = iota
	// StageIndexing extracts, chunks, embeds and stores changed files.
	StageIndexing
	// StageComplete is reached once the scan returns.
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageDiscovering:
		return "Discovering"
	case StageIndexing:
		return "Indexing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon is the short tag used by the plain renderer.
func (s Stage) Icon() string {
	switch s {
	case StageDiscovering:
		return "SCAN"
	case StageIndexing:
		return "INDEX"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is one progress update.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	Failed      int
	CurrentFile string
	Message     string
}

// FromProgress converts a manager progress report into an event.
func FromProgress(p index.Progress) ProgressEvent {
	return ProgressEvent{
		Stage:       StageIndexing,
		Current:     p.Done,
		Total:       p.Total,
		Failed:      p.Failed,
		CurrentFile: p.Path,
	}
}

// ErrorEvent is a per-file failure or warning.
type ErrorEvent struct {
	File   string
	Kind   string
	Err    error
	IsWarn bool
}

// EmbedderInfo names the embedding model used by the run.
type EmbedderInfo struct {
	Provider   string
	Model      string
	Dimensions int
}

// CompletionStats summarizes a finished run.
type CompletionStats struct {
	Indexed   int
	Skipped   int
	Failed    int
	Deleted   int
	Cancelled int
	Chunks    int
	Bytes     int64
	Duration  time.Duration
	Embedder  EmbedderInfo
}

// CompletionFromScan builds completion stats from a scan result.
func CompletionFromScan(res *index.ScanResult, emb EmbedderInfo) CompletionStats {
	if res == nil {
		return CompletionStats{Embedder: emb}
	}
	return CompletionStats{
		Indexed:   res.Indexed,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
		Deleted:   res.Deleted,
		Cancelled: res.Cancelled,
		Chunks:    res.Chunks,
		Bytes:     res.Bytes,
		Duration:  res.Duration,
		Embedder:  emb,
	}
}

// Renderer displays the progress of one indexing run.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Title      string // shown in the TUI header, usually the roots
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

func WithTitle(title string) ConfigOption {
	return func(c *Config) { c.Title = title }
}

// NewConfig returns a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	if DetectNoColor() {
		cfg.NoColor = true
	}
	return cfg
}

// NewRenderer picks the TUI for interactive terminals and plain output
// otherwise.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor honors the NO_COLOR convention.
func DetectNoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// DetectCI reports whether a common CI environment variable is set.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}
