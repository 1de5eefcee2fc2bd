// host_backup.go: Backup and restore operations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"fmt"
)

// Backup snapshots the plugin's current manifest, config and version.
func (h *Host) Backup(ctx context.Context, pluginID string, backupType BackupType, userID string) (*PluginBackup, error) {
	if err := h.checkRunning(); err != nil {
		return nil, err
	}
	unlock := h.locks.lock(pluginID)
	defer unlock()

	plugin, err := h.store.FindByPluginID(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	if plugin == nil {
		return nil, NewPluginNotFoundError(pluginID)
	}
	return h.backups.Create(ctx, plugin, backupType, userID)
}

// Backups lists the stored backups for a plugin, oldest first.
func (h *Host) Backups(ctx context.Context, pluginID string) ([]*PluginBackup, error) {
	return h.store.FindBackupsByPlugin(ctx, pluginID)
}

// Restore re-applies a verified backup snapshot to its plugin: config
// and recorded version are restored, activation state is untouched. The
// backup's checksum is recomputed from file content first; any mismatch
// aborts before any mutation.
func (h *Host) Restore(ctx context.Context, backupID, userID string) (*OperationResult, error) {
	if err := h.checkRunning(); err != nil {
		return failure("", "host is shut down", err), err
	}

	backup, snapshot, err := h.backups.Restore(ctx, backupID)
	if err != nil {
		return failure("", "backup could not be verified", err), err
	}

	unlock := h.locks.lock(backup.PluginID)
	defer unlock()

	plugin, err := h.store.FindByPluginID(ctx, backup.PluginID)
	if err != nil {
		return failure(backup.PluginID, "could not query installed plugins", err), err
	}
	if plugin == nil {
		err := NewPluginNotFoundError(backup.PluginID)
		return failure(backup.PluginID, "the backed-up plugin is no longer installed", err), err
	}

	updated, err := h.store.UpdateByPluginID(ctx, backup.PluginID, func(p *InstalledPlugin) error {
		p.Config = snapshot.Config
		p.Manifest = snapshot.Manifest
		p.Manifest.Version = snapshot.Version
		p.AppendError("info", fmt.Sprintf("restored from backup %s (%s)", backup.BackupID, backup.BackupType))
		return nil
	})
	if err != nil {
		return failure(backup.PluginID, "could not persist the restored state", err), err
	}

	if updated.IsActive {
		if _, err := h.loader.Reload(ctx, updated); err != nil {
			h.logger.Warn("hot reload after restore failed",
				"plugin_id", backup.PluginID, "error", err)
		}
	}

	h.logger.Info("plugin restored from backup",
		"plugin_id", backup.PluginID,
		"backup_id", backupID,
		"version", snapshot.Version,
		"user", userID)
	h.auditEvent("plugin_restored", "Plugin state restored from backup", map[string]any{
		"plugin_id": backup.PluginID,
		"backup_id": backupID,
		"version":   snapshot.Version,
		"user_id":   userID,
	})
	return success(backup.PluginID, fmt.Sprintf("plugin %s restored from backup %s", backup.PluginID, backupID)), nil
}
