package control

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch blocks until ctx is cancelled, invoking onChange with the fresh
// status whenever the status file changes. The parent directory is watched
// rather than the file itself: atomic writes replace the file, which would
// otherwise drop the watch.
func (s *Switch) Watch(ctx context.Context, logger *zap.Logger, onChange func(Status)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	base := filepath.Base(s.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			status, err := s.Load()
			if err != nil {
				logger.Warn("engine status reload failed", zap.Error(err))
				continue
			}
			logger.Info("engine switch changed", zap.Bool("running", status.Running))
			onChange(status)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("engine status watcher error", zap.Error(err))
		}
	}
}
