package daemon

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchSettingsFile watches path for writes and calls onChange whenever
// it's modified, for SIGHUP-independent hot reload (editors often
// replace-via-rename rather than write-in-place, so both Write and
// Create are treated as a change). The watcher runs until stop is
// closed.
func WatchSettingsFile(path string, onChange func(), stop <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					onChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("settings file watch error", "error", err)
			case <-stop:
				return
			}
		}
	}()
	return nil
}
