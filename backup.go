// backup.go: Checksummed plugin snapshots
//
// A backup is a JSON snapshot of a plugin's manifest, config and
// version written to its own file and recorded in the store. The two
// are created atomically from the caller's point of view: the record is
// only written after the file exists, and the file is removed again if
// recording fails. Restore recomputes the checksum from file content
// and refuses on any mismatch.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// BackupSnapshot is the on-disk backup payload, the unit a restore
// re-applies.
type BackupSnapshot struct {
	PluginID string         `json:"plugin_id"`
	Version  string         `json:"version"`
	Manifest PluginManifest `json:"manifest"`
	Config   map[string]any `json:"config"`
}

// BackupEngine creates and restores plugin snapshots under a dedicated
// directory.
type BackupEngine struct {
	dir    string
	store  Store
	logger Logger
}

// NewBackupEngine creates an engine writing snapshots under dir.
func NewBackupEngine(dir string, store Store, logger Logger) (*BackupEngine, error) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, NewFilesystemFailureError(dir, err)
	}
	return &BackupEngine{dir: dir, store: store, logger: logger}, nil
}

// Create snapshots the plugin's current manifest, config and version.
//
// The snapshot file is written to a temp name and renamed into place so
// a crash never leaves a half-written artifact; if the store rejects
// the record afterwards the file is removed again, so a record always
// has its file and vice versa.
func (e *BackupEngine) Create(ctx context.Context, plugin *InstalledPlugin, backupType BackupType, userID string) (*PluginBackup, error) {
	snapshot := BackupSnapshot{
		PluginID: plugin.PluginID,
		Version:  plugin.Manifest.Version,
		Manifest: plugin.Manifest,
		Config:   plugin.Config,
	}
	content, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, NewFilesystemFailureError(plugin.PluginID, err)
	}

	backupID := uuid.NewString()
	path := filepath.Join(e.dir, plugin.PluginID+"-"+backupID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return nil, NewFilesystemFailureError(tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, NewFilesystemFailureError(path, err)
	}

	digest := sha256.Sum256(content)
	backup := &PluginBackup{
		BackupID:   backupID,
		PluginID:   plugin.PluginID,
		Version:    plugin.Manifest.Version,
		Config:     plugin.Config,
		BackupPath: path,
		BackupType: backupType,
		Checksum:   hex.EncodeToString(digest[:]),
		Restorable: true,
		CreatedAt:  timecache.CachedTime(),
		CreatedBy:  userID,
	}
	if err := e.store.CreateBackup(ctx, backup); err != nil {
		os.Remove(path)
		return nil, err
	}

	e.logger.Info("backup created",
		"plugin_id", plugin.PluginID,
		"backup_id", backupID,
		"type", string(backupType))
	return backup, nil
}

// Restore loads the identified backup, verifies its checksum against
// the file's current content, and returns the decoded snapshot. Nothing
// is mutated here; applying the snapshot is the lifecycle manager's
// job, so a failed verification cannot leave partial state.
func (e *BackupEngine) Restore(ctx context.Context, backupID string) (*PluginBackup, *BackupSnapshot, error) {
	backup, err := e.store.FindBackup(ctx, backupID)
	if err != nil {
		return nil, nil, err
	}
	if backup == nil {
		return nil, nil, NewBackupMissingError(backupID, errors.New("no backup record with this id"))
	}
	if !backup.Restorable {
		return nil, nil, NewNotRestorableError(backupID)
	}

	content, err := os.ReadFile(backup.BackupPath)
	if err != nil {
		return nil, nil, NewBackupMissingError(backupID, err)
	}
	digest := sha256.Sum256(content)
	actual := hex.EncodeToString(digest[:])
	if actual != backup.Checksum {
		e.logger.Error("backup checksum mismatch, refusing restore",
			"backup_id", backupID,
			"expected", backup.Checksum,
			"actual", actual)
		return nil, nil, NewChecksumMismatchError(backupID, backup.Checksum, actual)
	}

	var snapshot BackupSnapshot
	if err := json.Unmarshal(content, &snapshot); err != nil {
		return nil, nil, NewChecksumMismatchError(backupID, backup.Checksum, actual)
	}
	return backup, &snapshot, nil
}

// Remove deletes every backup file recorded for the plugin. Missing
// files are ignored; the store records are removed by the caller.
func (e *BackupEngine) Remove(ctx context.Context, pluginID string) error {
	backups, err := e.store.FindBackupsByPlugin(ctx, pluginID)
	if err != nil {
		return err
	}
	for _, backup := range backups {
		if err := os.Remove(backup.BackupPath); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("could not remove backup file",
				"backup_id", backup.BackupID, "path", backup.BackupPath, "error", err)
		}
	}
	return e.store.DeleteBackupsByPlugin(ctx, pluginID)
}
