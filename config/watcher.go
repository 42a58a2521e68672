package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watcher reloads the manager's tree when the backing file changes. Reload
// failures keep the previous tree in effect.
type watcher struct {
	fs        *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// Watch starts watching a previously loaded configuration file and reloads it
// on every write event. The logger records reload outcomes; pass zap.NewNop()
// to silence them. Watching an already watched manager replaces the watcher.
func (m *Manager) Watch(path string, envPrefix string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fs.Add(path); err != nil {
		_ = fs.Close()
		return err
	}
	w := &watcher{fs: fs, done: make(chan struct{})}

	m.mu.Lock()
	prev := m.watcher
	m.watcher = w
	m.mu.Unlock()
	if prev != nil {
		_ = prev.close()
	}

	go w.run(m, path, envPrefix, logger)
	return nil
}

func (w *watcher) run(m *Manager, path string, envPrefix string, logger *zap.Logger) {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}
			if err := m.LoadFile(path, envPrefix); err != nil {
				logger.Warn("config reload failed, keeping previous tree",
					zap.String("path", path), zap.Error(err))
				continue
			}
			logger.Info("config reloaded", zap.String("path", path))
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

func (w *watcher) close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}
