package watcher

import (
	"context"
	"log/slog"
	"time"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/index"
)

// Indexer is the part of the index manager the runner drives.
type Indexer interface {
	Submit(path string) error
	Scan(ctx context.Context) (*index.ScanResult, error)
}

// Runner feeds watcher events and schedule ticks into an Indexer. File
// events become single-path submissions; directory changes and ticks
// become full scans, run one at a time.
type Runner struct {
	watcher  *Watcher
	indexer  Indexer
	schedule *Schedule
	rescan   chan string
}

// NewRunner wires w and the optional schedule to ix.
func NewRunner(w *Watcher, ix Indexer, schedule *Schedule) *Runner {
	return &Runner{
		watcher:  w,
		indexer:  ix,
		schedule: schedule,
		rescan:   make(chan string, 1),
	}
}

// RequestScan queues a full scan. Requests made while one is already
// queued collapse into it.
func (r *Runner) RequestScan(reason string) {
	select {
	case r.rescan <- reason:
	default:
	}
}

// Run blocks until ctx is cancelled or the watcher fails.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchErr := make(chan error, 1)
	go func() { watchErr <- r.watcher.Run(ctx) }()

	scans := make(chan struct{})
	go func() {
		defer close(scans)
		r.scanLoop(ctx)
	}()
	defer func() {
		cancel()
		<-scans
	}()

	var (
		timer *time.Timer
		tick  <-chan time.Time
	)
	arm := func() {
		tick = nil
		if d, ok := r.schedule.Until(time.Now()); ok {
			timer = time.NewTimer(d)
			tick = timer.C
			slog.Debug("rescan_scheduled", slog.Time("at", time.Now().Add(d)))
		}
	}
	arm()
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	events, errs := r.watcher.Events(), r.watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			<-watchErr
			return nil
		case err := <-watchErr:
			return err
		case batch, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.dispatch(batch)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		case <-tick:
			r.RequestScan("schedule")
			arm()
		}
	}
}

func (r *Runner) dispatch(batch []FileEvent) {
	scan := false
	for _, ev := range batch {
		if ev.IsDir {
			// Files moved in or out with a directory produce no events of
			// their own.
			if ev.Operation != OpModify {
				scan = true
			}
			continue
		}
		if err := r.indexer.Submit(ev.Path); err != nil {
			slog.Warn("submit_failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	}
	slog.Debug("watch_batch", slog.Int("events", len(batch)), slog.Bool("rescan", scan))
	if scan {
		r.RequestScan("directory_changed")
	}
}

func (r *Runner) scanLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-r.rescan:
			slog.Info("rescan_triggered", slog.String("reason", reason))
			if _, err := r.indexer.Scan(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("rescan_failed", append([]any{slog.String("reason", reason)}, ierrors.LogAttrs(err)...)...)
			}
		}
	}
}
