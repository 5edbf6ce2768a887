package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var watchLog = logger.New("pipeline:watch")

// DefaultWatchDebounce coalesces the burst of events editors emit on save.
const DefaultWatchDebounce = 200 * time.Millisecond

// WatchFunc receives the re-loaded pipeline and the load or validation error.
type WatchFunc func(p *Pipeline, err error)

// Watch loads and validates the pipeline at path, reports the result, and
// repeats every time the file changes until ctx is done. The parent directory
// is watched so that editors replacing the file through a rename are seen.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange WatchFunc) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(absPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	watchLog.Printf("Watching %s (debounce %v)", absPath, debounce)

	reload := func() {
		p, err := Load(path)
		if err == nil {
			err = p.Validate()
		}
		onChange(p, err)
	}
	reload()

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			watchLog.Print("Watch stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			watchLog.Printf("Change detected: %s", event)
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			watchLog.Printf("Watcher error: %v", err)

		case <-timer.C:
			reload()
		}
	}
}
