package service

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/apimgr/devrestore/src/config"
)

// ConfigWatcher watches server.yml for changes and triggers reload
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	reloadFunc func(*config.Config) error
	logger     zerolog.Logger
	debounce   time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewConfigWatcher creates a new config file watcher
func NewConfigWatcher(configPath string, logger zerolog.Logger, reloadFunc func(*config.Config) error) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &ConfigWatcher{
		watcher:    watcher,
		configPath: configPath,
		reloadFunc: reloadFunc,
		logger:     logger,
		debounce:   500 * time.Millisecond,
		stopChan:   make(chan struct{}),
	}, nil
}

// Start begins watching the config file for changes
func (cw *ConfigWatcher) Start() error {
	// Watch the directory; editors replace files instead of writing in place
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return err
	}

	cw.logger.Info().Str("path", cw.configPath).Msg("watching config file for changes")

	go func() {
		var debounceTimer *time.Timer

		for {
			select {
			case event, ok := <-cw.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(cw.configPath) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(cw.debounce, cw.reload)

			case err, ok := <-cw.watcher.Errors:
				if !ok {
					return
				}
				cw.logger.Warn().Err(err).Msg("config watcher error")

			case <-cw.stopChan:
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				return
			}
		}
	}()

	return nil
}

func (cw *ConfigWatcher) reload() {
	newCfg, err := config.LoadFile(cw.configPath)
	if err != nil {
		cw.logger.Error().Err(err).Msg("failed to load new config, keeping current one")
		return
	}
	if err := cw.reloadFunc(newCfg); err != nil {
		cw.logger.Error().Err(err).Msg("failed to apply new config")
		return
	}
	cw.logger.Info().Msg("configuration reloaded")
}

// Stop stops the config file watcher
func (cw *ConfigWatcher) Stop() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.stopChan)
		err = cw.watcher.Close()
	})
	return err
}
