// host.go: Plugin host construction, startup and shutdown
//
// The Host is the lifecycle manager: the single writer for installed-
// plugin records and on-disk plugin files. All mutation flows through
// its operations (host_install.go, host_activate.go, host_configure.go,
// host_backup.go), serialized per plugin id by a keyed mutex.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
	"github.com/agilira/go-timecache"
)

// Host orchestrates plugin install, activation, configuration, backup
// and uninstall against a Store, a Scanner and the in-process
// registries.
type Host struct {
	config   HostConfig
	configMu sync.RWMutex

	store     Store
	scanner   *Scanner
	resolver  *Resolver
	hooks     *HookRegistry
	surfaces  *SurfaceRegistry
	backups   *BackupEngine
	loader    CodeLoader
	extractor Extractor

	auditLogger *argus.AuditLogger

	locks    keyedMutex
	shutdown atomic.Bool
	logger   Logger
}

// HostOption customizes host construction.
type HostOption func(*Host)

// WithLoader replaces the default declarative code loader. The loader
// is wrapped with single-flight memoization either way.
func WithLoader(loader CodeLoader) HostOption {
	return func(h *Host) { h.loader = loader }
}

// WithExtractor replaces the default zip extractor.
func WithExtractor(extractor Extractor) HostOption {
	return func(h *Host) { h.extractor = extractor }
}

// NewHost creates a host over the given store. The working directories
// from config are created if missing; when config.AuditFile is set,
// security-relevant decisions (rejections, overrides) are written to an
// append-only audit trail.
func NewHost(config HostConfig, store Store, logger Logger, opts ...HostOption) (*Host, error) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	for _, dir := range []string{config.InstallDir, config.TempDir, config.BackupDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, NewFilesystemFailureError(dir, err)
		}
	}

	backups, err := NewBackupEngine(config.BackupDir, store, logger)
	if err != nil {
		return nil, err
	}

	h := &Host{
		config:    config,
		store:     store,
		scanner:   NewScanner(config.Scanner, logger),
		resolver:  NewResolver(store, logger),
		hooks:     NewHookRegistry(logger),
		surfaces:  NewSurfaceRegistry(logger),
		backups:   backups,
		extractor: &ZipExtractor{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.loader == nil {
		h.loader = NewDeclarativeLoader(logger)
	}
	h.loader = newMemoizedLoader(h.loader, config.LoadWaitTimeout)

	if config.AuditFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.AuditFile), 0o750); err != nil {
			return nil, NewFilesystemFailureError(config.AuditFile, err)
		}
		auditLogger, err := argus.NewAuditLogger(argus.AuditConfig{
			Enabled:       true,
			OutputFile:    config.AuditFile,
			MinLevel:      argus.AuditInfo,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
		})
		if err != nil {
			return nil, NewFilesystemFailureError(config.AuditFile, err)
		}
		h.auditLogger = auditLogger
		logger.Info("security audit logging configured", "file", config.AuditFile)
	}

	return h, nil
}

// Hooks exposes the hook registry so the application and plugins can
// subscribe to lifecycle events.
func (h *Host) Hooks() *HookRegistry { return h.hooks }

// Surfaces exposes the live surface registry for route dispatch and
// admin UI rendering.
func (h *Host) Surfaces() *SurfaceRegistry { return h.surfaces }

// Resolver exposes the dependency resolver for advisory queries.
func (h *Host) Resolver() *Resolver { return h.resolver }

// Scanner exposes the security scanner for on-demand scans. The
// returned scanner reflects the tuning at call time; hot reloads swap
// in a new instance.
func (h *Host) Scanner() *Scanner {
	h.configMu.RLock()
	defer h.configMu.RUnlock()
	return h.scanner
}

// Start rebuilds the in-memory registries from persisted active
// plugins. Call once after construction, before serving requests.
//
// A plugin that fails to re-register (surface collision after an
// offline edit, loader failure) is deactivated in the store rather
// than left half-live, and the failure is logged.
func (h *Host) Start(ctx context.Context) error {
	active, err := h.store.FindActivePlugins(ctx)
	if err != nil {
		return err
	}

	for _, plugin := range active {
		if err := h.registerActivePlugin(ctx, plugin); err != nil {
			h.logger.Error("could not restore active plugin, deactivating",
				"plugin_id", plugin.PluginID, "error", err)
			if _, updateErr := h.store.UpdateByPluginID(ctx, plugin.PluginID, func(p *InstalledPlugin) error {
				p.IsActive = false
				p.AppendError("error", "startup restore failed: "+err.Error())
				return nil
			}); updateErr != nil {
				h.logger.Error("could not persist deactivation",
					"plugin_id", plugin.PluginID, "error", updateErr)
			}
		}
	}

	h.logger.Info("plugin host started", "active_plugins", len(active))
	return nil
}

// registerActivePlugin loads one plugin and claims its surfaces and
// hooks, undoing everything on failure.
func (h *Host) registerActivePlugin(ctx context.Context, plugin *InstalledPlugin) error {
	loaded, err := h.loader.Load(ctx, plugin)
	if err != nil {
		return err
	}
	if err := h.surfaces.RegisterPlugin(plugin.PluginID, &plugin.Manifest); err != nil {
		_ = h.loader.Unload(ctx, plugin.PluginID)
		return err
	}
	h.registerManifestHooks(plugin, loaded)
	return nil
}

// registerManifestHooks registers the plugin's declared hook callbacks.
func (h *Host) registerManifestHooks(plugin *InstalledPlugin, loaded *LoadedPlugin) {
	for _, spec := range plugin.Manifest.Hooks {
		callback := loaded.Hooks[spec.Name]
		if callback == nil {
			continue
		}
		switch spec.Kind {
		case HookFilter:
			h.hooks.AddFilter(spec.Name, callback, spec.Priority, plugin.PluginID)
		default:
			h.hooks.AddAction(spec.Name, callback, spec.Priority, plugin.PluginID)
		}
	}
}

// Shutdown stops accepting operations and releases the audit logger.
// In-flight operations complete; new ones fail with a shutdown error.
func (h *Host) Shutdown(ctx context.Context) error {
	if !h.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	if h.auditLogger != nil {
		if err := h.auditLogger.Close(); err != nil {
			h.logger.Warn("could not close audit logger", "error", err)
		}
	}
	h.logger.Info("plugin host shut down")
	return nil
}

// checkRunning gates every public operation.
func (h *Host) checkRunning() error {
	if h.shutdown.Load() {
		return NewHostShutdownError()
	}
	return nil
}

// auditEvent writes one security audit record when auditing is enabled.
func (h *Host) auditEvent(event, description string, context map[string]any) {
	if h.auditLogger == nil {
		return
	}
	h.auditLogger.LogSecurityEvent(event, description, context)
}

// currentConfig returns a consistent snapshot of the host config.
func (h *Host) currentConfig() HostConfig {
	h.configMu.RLock()
	defer h.configMu.RUnlock()
	return h.config
}

// ApplyConfig swaps in updated tunables at runtime. Only the scanner
// tuning, upload limits and load timeout are hot-swappable; directory
// moves require a restart and are ignored with a warning.
func (h *Host) ApplyConfig(updated HostConfig) {
	updated.applyDefaults()

	h.configMu.Lock()
	if updated.InstallDir != h.config.InstallDir ||
		updated.TempDir != h.config.TempDir ||
		updated.BackupDir != h.config.BackupDir {
		h.logger.Warn("directory changes require a restart, keeping current paths")
	}
	h.config.MaxUploadSize = updated.MaxUploadSize
	h.config.AllowedArchiveExts = updated.AllowedArchiveExts
	h.config.Scanner = updated.Scanner
	h.config.LoadWaitTimeout = updated.LoadWaitTimeout
	h.scanner = NewScanner(updated.Scanner, h.logger)
	h.configMu.Unlock()

	h.logger.Info("host configuration applied",
		"max_upload_size", updated.MaxUploadSize,
		"scan_timeout", updated.Scanner.Timeout)
}

// newLifecycleEvent builds the payload for a lifecycle hook emission.
func newLifecycleEvent(plugin *InstalledPlugin, userID string) LifecycleEvent {
	return LifecycleEvent{
		PluginID:   plugin.PluginID,
		PluginName: plugin.Manifest.Name,
		Version:    plugin.Manifest.Version,
		Timestamp:  timecache.CachedTime(),
		UserID:     userID,
	}
}

// keyedMutex serializes operations per plugin id so concurrent requests
// against different plugins proceed in parallel while two operations on
// the same plugin never interleave.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
