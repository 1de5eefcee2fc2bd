// host_watch.go: Hot reload of host configuration via Argus
//
// Watches the host configuration file and applies tunable changes
// (scanner weights, upload limits) to a running host without a restart.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"sync"
	"time"

	"github.com/agilira/argus"
)

// ConfigWatcher hot-reloads a host's configuration file.
type ConfigWatcher struct {
	host       *Host
	configPath string
	logger     Logger

	mu      sync.Mutex
	watcher *argus.Watcher
	running bool
}

// NewConfigWatcher creates a watcher for the given host and config
// file. Call Start to begin watching.
func NewConfigWatcher(host *Host, configPath string) *ConfigWatcher {
	return &ConfigWatcher{
		host:       host,
		configPath: configPath,
		logger:     host.logger,
	}
}

// Start begins watching the configuration file. Change events reload
// and validate the file through LoadHostConfig; invalid files are
// logged and skipped, the running config is never replaced with a
// broken one.
func (w *ConfigWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	argusConfig := argus.Config{
		PollInterval:    2 * time.Second,
		CacheTTL:        1 * time.Second,
		MaxWatchedFiles: 10,
		ErrorHandler: func(err error, path string) {
			w.logger.Error("config watch error", "path", path, "error", err)
		},
	}

	watcher, err := argus.UniversalConfigWatcherWithConfig(
		w.configPath,
		w.handleChange,
		argusConfig,
	)
	if err != nil {
		return NewFilesystemFailureError(w.configPath, err)
	}

	w.watcher = watcher
	w.running = true
	w.logger.Info("host config watching started", "file", w.configPath)
	return nil
}

// handleChange is invoked by Argus with the parsed file contents. The
// raw map is ignored; the file is re-read through the validating loader
// so hot reload and cold start share one code path.
func (w *ConfigWatcher) handleChange(_ map[string]interface{}) {
	safeGo(w.logger, w.reload)
}

func (w *ConfigWatcher) reload() {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return
	}

	config, err := LoadHostConfig(w.configPath)
	if err != nil {
		w.logger.Error("ignoring invalid host config change",
			"file", w.configPath, "error", err)
		return
	}
	w.host.ApplyConfig(*config)
	w.logger.Info("host config reloaded", "file", w.configPath)
}

// Stop ends watching. Safe to call more than once.
func (w *ConfigWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	if w.watcher != nil {
		if err := w.watcher.Stop(); err != nil {
			w.logger.Warn("could not stop config watcher", "error", err)
		}
		w.watcher = nil
	}
	return nil
}
