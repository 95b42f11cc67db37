package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay is how long the file must stay quiet before it is re-read.
// Saving usually produces a truncate followed by one or more writes.
const reloadDelay = 250 * time.Millisecond

// Watch monitors the rules file at path and calls onChange with the decoded
// result once it settles after a change. It runs until ctx is cancelled.
//
// A document that fails to parse, or has no rules section, is logged and
// onChange is not called, so the rules loaded last stay active.
func Watch(ctx context.Context, path string, onChange func(ImportResult)) error {
	return watch(ctx, path, reloadDelay, onChange)
}

func watch(ctx context.Context, path string, delay time.Duration, onChange func(ImportResult)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("rules: watching for changes", "path", path)

	timer := time.NewTimer(delay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	var settled <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save by rename, which drops the watch on the old inode.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if settled != nil && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(delay)
			settled = timer.C

		case <-settled:
			settled = nil

			// Re-add in case the inode was replaced by an atomic save.
			_ = watcher.Add(path)

			res, err := ImportFile(path)
			if err != nil {
				slog.Error("rules: reload failed, keeping previous rules",
					"path", path, "err", err)
				continue
			}

			slog.Info("rules: reloaded", "path", path,
				"rules", len(res.Rules), "rejected", len(res.Errors))
			onChange(res)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("rules: watcher error", "err", err)
		}
	}
}
