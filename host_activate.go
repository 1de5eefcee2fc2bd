// host_activate.go: Plugin activation, deactivation and uninstall
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"fmt"
	"os"

	"github.com/agilira/go-timecache"
)

// ActivateOptions tune a single activation.
type ActivateOptions struct {
	UserID string
	// SkipDependencyCheck activates even with unmet dependencies or
	// conflicts. For recovery tooling; the gap is logged.
	SkipDependencyCheck bool
}

// Activate brings an installed plugin live: dependency checks, code
// load, lifecycle hook, surface and hook registration, then persists
// IsActive=true. Fails closed on any unmet dependency or conflict
// unless explicitly skipped.
func (h *Host) Activate(ctx context.Context, pluginID string, opts ActivateOptions) (*OperationResult, error) {
	if err := h.checkRunning(); err != nil {
		return failure(pluginID, "host is shut down", err), err
	}
	unlock := h.locks.lock(pluginID)
	defer unlock()
	return h.activateLocked(ctx, pluginID, opts)
}

// activateLocked is the activation body; the caller holds the plugin's
// keyed lock.
func (h *Host) activateLocked(ctx context.Context, pluginID string, opts ActivateOptions) (*OperationResult, error) {
	plugin, err := h.store.FindByPluginID(ctx, pluginID)
	if err != nil {
		return failure(pluginID, "could not query installed plugins", err), err
	}
	if plugin == nil {
		err := NewPluginNotFoundError(pluginID)
		return failure(pluginID, "plugin is not installed", err), err
	}
	if plugin.IsActive {
		err := NewAlreadyActiveError(pluginID)
		return failure(pluginID, "plugin is already active", err), err
	}
	if plugin.Status != StatusInstalled {
		err := NewWrongStatusError(pluginID, plugin.Status)
		return failure(pluginID, "plugin is not in an activatable state", err), err
	}

	if opts.SkipDependencyCheck {
		h.logger.Warn("dependency check skipped for activation",
			"plugin_id", pluginID, "user", opts.UserID)
	} else {
		report, err := h.resolver.CheckDependencies(ctx, &plugin.Manifest)
		if err != nil {
			return failure(pluginID, "dependency check failed", err), err
		}
		if !report.Satisfied {
			var depErr error
			switch {
			case report.Cycle != nil:
				depErr = NewDependencyCycleError(pluginID, report.Cycle)
			case len(report.Missing) > 0:
				depErr = NewUnmetDependencyError(pluginID, report.Missing, report.Conflicts)
			default:
				depErr = NewResourceConflictError(pluginID, report.Conflicts)
			}
			return failure(pluginID, "activation blocked by dependency check", depErr), depErr
		}
	}

	start := timecache.CachedTime()
	loaded, err := h.loader.Load(ctx, plugin)
	if err != nil {
		return failure(pluginID, "plugin code failed to load", err), err
	}

	// Declared lifecycle script runs as an action hook before the
	// plugin's surfaces go live.
	if script := plugin.Manifest.Lifecycle.Activate; script != "" {
		h.hooks.DoAction(ctx, script, newLifecycleEvent(plugin, opts.UserID))
	}

	if err := h.surfaces.RegisterPlugin(pluginID, &plugin.Manifest); err != nil {
		_ = h.loader.Unload(ctx, pluginID)
		return failure(pluginID, "plugin surfaces conflict with an active plugin", err), err
	}
	h.registerManifestHooks(plugin, loaded)

	updated, err := h.store.UpdateByPluginID(ctx, pluginID, func(p *InstalledPlugin) error {
		p.IsActive = true
		p.ActivatedAt = timecache.CachedTime()
		p.Performance.ActivationCount++
		p.Performance.LoadDuration = timecache.CachedTime().Sub(start)
		p.Performance.LastMeasured = timecache.CachedTime()
		return nil
	})
	if err != nil || updated == nil {
		// Persist failed after registration: roll the in-memory state
		// back so nothing is live without a matching record.
		h.surfaces.UnregisterPlugin(pluginID)
		h.hooks.RemovePluginHooks(pluginID)
		_ = h.loader.Unload(ctx, pluginID)
		if err == nil {
			err = NewPluginNotFoundError(pluginID)
		}
		wrapped := NewActivationFailedError(pluginID, err)
		return failure(pluginID, "could not persist activation", wrapped), wrapped
	}

	h.logger.Info("plugin activated",
		"plugin_id", pluginID,
		"version", plugin.Manifest.Version,
		"user", opts.UserID)
	h.hooks.DoAction(ctx, EventPluginActivated, newLifecycleEvent(updated, opts.UserID))
	return success(pluginID, fmt.Sprintf("plugin %s activated", pluginID)), nil
}

// Deactivate takes an active plugin offline. Deactivating an inactive
// plugin is a no-op failure: success=false, no state change, no event.
func (h *Host) Deactivate(ctx context.Context, pluginID, userID string) (*OperationResult, error) {
	if err := h.checkRunning(); err != nil {
		return failure(pluginID, "host is shut down", err), err
	}
	unlock := h.locks.lock(pluginID)
	defer unlock()
	return h.deactivateLocked(ctx, pluginID, userID)
}

func (h *Host) deactivateLocked(ctx context.Context, pluginID, userID string) (*OperationResult, error) {
	plugin, err := h.store.FindByPluginID(ctx, pluginID)
	if err != nil {
		return failure(pluginID, "could not query installed plugins", err), err
	}
	if plugin == nil {
		err := NewPluginNotFoundError(pluginID)
		return failure(pluginID, "plugin is not installed", err), err
	}
	if !plugin.IsActive {
		err := NewPluginNotActiveError(pluginID)
		return failure(pluginID, "plugin is not active", err), err
	}

	// Best effort: the plugin is going down either way.
	if script := plugin.Manifest.Lifecycle.Deactivate; script != "" {
		h.hooks.DoAction(ctx, script, newLifecycleEvent(plugin, userID))
	}

	h.surfaces.UnregisterPlugin(pluginID)
	h.hooks.RemovePluginHooks(pluginID)
	if err := h.loader.Unload(ctx, pluginID); err != nil {
		h.logger.Warn("loader unload failed", "plugin_id", pluginID, "error", err)
	}

	updated, err := h.store.UpdateByPluginID(ctx, pluginID, func(p *InstalledPlugin) error {
		p.IsActive = false
		return nil
	})
	if err != nil {
		return failure(pluginID, "could not persist deactivation", err), err
	}

	h.logger.Info("plugin deactivated", "plugin_id", pluginID, "user", userID)
	h.hooks.DoAction(ctx, EventPluginDeactivated, newLifecycleEvent(updated, userID))
	return success(pluginID, fmt.Sprintf("plugin %s deactivated", pluginID)), nil
}

// Uninstall removes a plugin entirely: deactivates it if active,
// deletes installed files, the record and all backups. Irreversible;
// existing backups are deleted with it, restoring is a separate
// explicit action that must happen before uninstalling.
func (h *Host) Uninstall(ctx context.Context, pluginID, userID string) (*OperationResult, error) {
	if err := h.checkRunning(); err != nil {
		return failure(pluginID, "host is shut down", err), err
	}
	unlock := h.locks.lock(pluginID)
	defer unlock()

	plugin, err := h.store.FindByPluginID(ctx, pluginID)
	if err != nil {
		return failure(pluginID, "could not query installed plugins", err), err
	}
	if plugin == nil {
		err := NewPluginNotFoundError(pluginID)
		return failure(pluginID, "plugin is not installed", err), err
	}

	if plugin.IsActive {
		if result, err := h.deactivateLocked(ctx, pluginID, userID); err != nil {
			return result, err
		}
	}

	if script := plugin.Manifest.Lifecycle.Uninstall; script != "" {
		h.hooks.DoAction(ctx, script, newLifecycleEvent(plugin, userID))
	}

	if plugin.InstallPath != "" {
		if err := os.RemoveAll(plugin.InstallPath); err != nil {
			wrapped := NewFilesystemFailureError(plugin.InstallPath, err)
			return failure(pluginID, "could not delete installed files", wrapped), wrapped
		}
	}
	if err := h.backups.Remove(ctx, pluginID); err != nil {
		h.logger.Warn("could not remove plugin backups", "plugin_id", pluginID, "error", err)
	}
	if err := h.store.DeleteByPluginID(ctx, pluginID); err != nil {
		return failure(pluginID, "could not delete the plugin record", err), err
	}

	h.logger.Info("plugin uninstalled", "plugin_id", pluginID, "user", userID)
	h.hooks.DoAction(ctx, EventPluginUninstalled, newLifecycleEvent(plugin, userID))
	return success(pluginID, fmt.Sprintf("plugin %s uninstalled", pluginID)), nil
}
