package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per update, for pipes and CI logs.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors int
	warns  int
}

func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress prints "[STAGE] done/total path".
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}
	switch {
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	case msg != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
		r.warns++
	} else {
		r.errors++
	}
	if event.Kind != "" {
		prefix += " " + event.Kind
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
}

// Complete prints the run summary.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d indexed, %d unchanged, %d failed, %d removed; %d chunks from %s in %s\n",
		stats.Indexed, stats.Skipped, stats.Failed, stats.Deleted, stats.Chunks,
		FormatBytes(stats.Bytes), stats.Duration.Round(100*time.Millisecond))
	if stats.Cancelled > 0 {
		_, _ = fmt.Fprintf(r.out, "Cancelled: %d files not processed\n", stats.Cancelled)
	}
	if e := stats.Embedder; e.Model != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%d dims)", e.Model, e.Dimensions)
		if e.Provider != "" {
			_, _ = fmt.Fprintf(r.out, " via %s", e.Provider)
		}
		_, _ = fmt.Fprintln(r.out)
	}
}

func (r *PlainRenderer) Stop() error { return nil }

var _ Renderer = (*PlainRenderer)(nil)
