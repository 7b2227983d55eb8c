package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config file when it changes on disk. Reloaded
// values apply to the next session; a running session keeps the
// parameters it started with.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	logger   zerolog.Logger
	onReload func(*Config)
	done     chan struct{}
}

// NewWatcher watches the config directory and invokes onReload with the
// freshly loaded config after each write to config.yaml.
func NewWatcher(logger zerolog.Logger, onReload func(*Config)) (*Watcher, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  watcher,
		path:     filepath.Join(configDir, "config.yaml"),
		logger:   logger.With().Str("component", "config-watch").Logger(),
		onReload: onReload,
		done:     make(chan struct{}),
	}

	go w.watchLoop()

	return w, nil
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path || !event.Has(fsnotify.Write) {
				continue
			}
			cfg, err := Load()
			if err != nil {
				w.logger.Warn().Err(err).Msg("Config reload failed")
				continue
			}
			w.logger.Info().Msg("Config reloaded")
			if w.onReload != nil {
				w.onReload(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
