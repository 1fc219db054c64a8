// Package watcher supplies the external triggers for indexing: filesystem
// events from fsnotify and an optional cron rescan schedule.
//
// Events are debounced to coalesce the bursts editors and sync tools
// produce, then handed to the index manager one path at a time. Directory
// level changes and schedule ticks request a full scan instead.
//
// Usage:
//
//	w, err := watcher.New(watcher.Options{Roots: roots, Debounce: 500 * time.Millisecond})
//	if err != nil {
//	    return err
//	}
//	sched, err := watcher.ParseSchedule("*/30 * * * *")
//	if err != nil {
//	    return err
//	}
//	return watcher.NewRunner(w, manager, sched).Run(ctx)
package watcher
