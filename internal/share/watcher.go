package share

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// KeyMapper converts between disk paths and workspace keys
type KeyMapper interface {
	KeyFromPath(path string) (string, error)
}

// Watcher feeds file system events of a workspace into a Manager
type Watcher struct {
	root    string
	keys    KeyMapper
	manager *Manager
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher watches root recursively and starts forwarding events
func NewWatcher(root string, keys KeyMapper, manager *Manager, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Create file watcher
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		root:    root,
		keys:    keys,
		manager: manager,
		logger:  logger,
		watcher: fw,
		done:    make(chan struct{}),
	}
	if err := w.addDirs(root); err != nil {
		fw.Close()
		return nil, err
	}

	// Start watching for file changes
	go w.watchFiles()

	return w, nil
}

// Close stops watching and waits for the event loop to exit
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

// addDirs recursively adds directories to the watcher
func (w *Watcher) addDirs(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != w.root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		return nil
	})
}

// watchFiles forwards file changes to the share manager
func (w *Watcher) watchFiles() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	// New directories are watched as they appear
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirs(event.Name); err != nil {
				w.logger.Warn("failed to watch directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}

	// Get the workspace key from the file path
	key, err := w.keys.KeyFromPath(event.Name)
	if err != nil {
		w.logger.Warn("error determining workspace key", zap.Error(err))
		return
	}

	ctx := context.Background()
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if _, err := os.Stat(event.Name); err == nil {
			return
		}
		err = w.manager.OnLocalFileRemoved(key)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.logger.Debug("file changed", zap.String("file", key))
		err = w.manager.OnLocalFileChanged(ctx, key)
	default:
		return
	}
	if err != nil {
		w.logger.Warn("local change not shared", zap.String("file", key), zap.Error(err))
	}
}
