// control/hotreload.go
// Manages global hot-reload hooks and file watching for config changes.
// Adds a TriggerHotReloadSync for deterministic test notification.

package control

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/momentics/hioload-tcp/internal/logging"
)

var (
	hooksMu     sync.Mutex
	reloadHooks []func()
)

// RegisterReloadHook adds a new component reload listener.
func RegisterReloadHook(fn func()) {
	hooksMu.Lock()
	reloadHooks = append(reloadHooks, fn)
	hooksMu.Unlock()
}

func hooks() []func() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	return append([]func(){}, reloadHooks...)
}

// TriggerHotReload dispatches all reload hooks asynchronously.
func TriggerHotReload() {
	for _, fn := range hooks() {
		go fn()
	}
}

// TriggerHotReloadSync invokes all reload hooks synchronously (for test determinism).
func TriggerHotReloadSync() {
	for _, fn := range hooks() {
		fn()
	}
}

// FileWatcher invokes a callback whenever a watched file is written,
// created or renamed into place.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// WatchFile starts watching path. The parent directory is watched so that
// editors replacing the file atomically are still observed.
func WatchFile(path string, onChange func()) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		_ = w.Close()
		return nil, err
	}
	fw := &FileWatcher{watcher: w}
	log := logging.NewLogger("control")
	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					log.WithField("file", target).Debug("config file changed")
					onChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")
			}
		}
	}()
	return fw, nil
}

// Close stops the watcher and waits for its goroutine.
func (fw *FileWatcher) Close() error {
	err := fw.watcher.Close()
	fw.wg.Wait()
	return err
}
