package session

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"vigil/internal/logger"
)

// Watch reloads the calendar whenever its backing file changes. It blocks
// until the context is cancelled; calendars without a file return immediately.
func Watch(ctx context.Context, cal *Calendar) error {
	if cal == nil || cal.Path() == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file atomically, which
	// drops a watch placed on the file itself.
	target := filepath.Clean(cal.Path())
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			if err := cal.Reload(); err != nil {
				logger.Errorf("calendar reload failed (%s): %v", evt.Name, err)
				continue
			}
			logger.Infof("calendar reloaded path=%s", target)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("calendar watcher error: %v", err)
		}
	}
}
