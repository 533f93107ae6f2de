package config

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/pulsewatch/pulsewatch/internal/metrics"
)

// Watch monitors path and calls onChange with the newly parsed Config each
// time the file's content actually changes. It runs until ctx is cancelled.
//
// Change detection is content-based, not event-based: editors fire several
// filesystem events per save (truncate, write, chmod, rename), so Watch
// hashes the file and reloads only when the hash differs from the last
// applied config. A file that fails to parse or validate is rejected — the
// error is logged, the rejection is counted, and the previous config stays
// active; its hash is not recorded, so fixing the file back to the applied
// content is correctly seen as no change.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	var applied [sha256.Size]byte
	if data, err := os.ReadFile(path); err == nil {
		applied = sha256.Sum256(data)
	}

	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Write covers in-place saves; Create covers atomic saves, where
			// the editor renames a temp file over ours.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			// Re-add before reading: an atomic save replaced the inode, and
			// watching the stale one would miss every later save.
			_ = watcher.Add(path)

			data, err := os.ReadFile(path)
			if err != nil {
				slog.Error("config: reload read failed", "path", path, "err", err)
				continue
			}

			hash := sha256.Sum256(data)
			if hash == applied {
				continue
			}

			cfg, err := Parse(data)
			if err != nil {
				metrics.ReloadsTotal.WithLabelValues("rejected").Inc()
				slog.Error("config: reload rejected — keeping previous config",
					"path", path, "err", err)
				continue
			}

			applied = hash
			slog.Info("config: reloaded", "path", path,
				"services", len(cfg.Services), "notifiers", len(cfg.Notifiers))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
