// backup_test.go: Tests for checksummed plugin snapshots
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backupFixture(t *testing.T, store Store) (*BackupEngine, *InstalledPlugin) {
	t.Helper()
	engine, err := NewBackupEngine(t.TempDir(), store, NewTestLogger())
	require.NoError(t, err)

	manifest := testManifest("gallery", "2.1.0", nil)
	plugin := &InstalledPlugin{
		PluginID: "gallery",
		Status:   StatusInstalled,
		Manifest: *manifest,
		Config:   map[string]any{"columns": float64(3), "lazy": true},
	}
	return engine, plugin
}

func TestBackupEngine_CreateAndRestore(t *testing.T) {
	store := NewMemoryStore()
	engine, plugin := backupFixture(t, store)
	ctx := context.Background()

	backup, err := engine.Create(ctx, plugin, BackupManual, "admin-user")
	require.NoError(t, err)
	assert.Equal(t, "gallery", backup.PluginID)
	assert.Equal(t, "2.1.0", backup.Version)
	assert.Equal(t, BackupManual, backup.BackupType)
	assert.True(t, backup.Restorable)
	assert.NotEmpty(t, backup.Checksum)
	assert.FileExists(t, backup.BackupPath)

	record, snapshot, err := engine.Restore(ctx, backup.BackupID)
	require.NoError(t, err)
	assert.Equal(t, backup.BackupID, record.BackupID)
	assert.Equal(t, "gallery", snapshot.PluginID)
	assert.Equal(t, "2.1.0", snapshot.Version)
	assert.Equal(t, plugin.Config, snapshot.Config)
	assert.Equal(t, plugin.Manifest.Name, snapshot.Manifest.Name)
}

func TestBackupEngine_RestoreDetectsTampering(t *testing.T) {
	store := NewMemoryStore()
	engine, plugin := backupFixture(t, store)
	ctx := context.Background()

	backup, err := engine.Create(ctx, plugin, BackupAuto, "system")
	require.NoError(t, err)

	// Flip one byte of the snapshot file.
	content, err := os.ReadFile(backup.BackupPath)
	require.NoError(t, err)
	content[len(content)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(backup.BackupPath, content, 0o644))

	_, _, err = engine.Restore(ctx, backup.BackupID)
	assertErrorCode(t, err, ErrCodeChecksumMismatch)
}

func TestBackupEngine_RestoreUnknownID(t *testing.T) {
	engine, _ := backupFixture(t, NewMemoryStore())
	_, _, err := engine.Restore(context.Background(), "no-such-backup")
	assertErrorCode(t, err, ErrCodeBackupMissing)
}

func TestBackupEngine_RestoreMissingFile(t *testing.T) {
	store := NewMemoryStore()
	engine, plugin := backupFixture(t, store)
	ctx := context.Background()

	backup, err := engine.Create(ctx, plugin, BackupManual, "admin-user")
	require.NoError(t, err)
	require.NoError(t, os.Remove(backup.BackupPath))

	_, _, err = engine.Restore(ctx, backup.BackupID)
	assertErrorCode(t, err, ErrCodeBackupMissing)
}

func TestBackupEngine_NotRestorable(t *testing.T) {
	store := NewMemoryStore()
	engine, plugin := backupFixture(t, store)
	ctx := context.Background()

	backup, err := engine.Create(ctx, plugin, BackupManual, "admin-user")
	require.NoError(t, err)

	// Re-record the backup with the restorable flag cleared.
	require.NoError(t, store.DeleteBackupsByPlugin(ctx, "gallery"))
	backup.Restorable = false
	require.NoError(t, store.CreateBackup(ctx, backup))

	_, _, err = engine.Restore(ctx, backup.BackupID)
	assertErrorCode(t, err, ErrCodeNotRestorable)
}

// failingBackupStore rejects backup records to exercise the create-side
// cleanup path.
type failingBackupStore struct {
	Store
}

func (s *failingBackupStore) CreateBackup(ctx context.Context, backup *PluginBackup) error {
	return errors.New("store unavailable")
}

func TestBackupEngine_CreateCleansUpOnStoreFailure(t *testing.T) {
	engine, plugin := backupFixture(t, &failingBackupStore{Store: NewMemoryStore()})

	backup, err := engine.Create(context.Background(), plugin, BackupManual, "admin-user")
	require.Error(t, err)
	assert.Nil(t, backup)

	// No orphaned snapshot file may survive a failed record.
	entries, readErr := os.ReadDir(engine.dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestBackupEngine_RemoveDeletesFilesAndRecords(t *testing.T) {
	store := NewMemoryStore()
	engine, plugin := backupFixture(t, store)
	ctx := context.Background()

	first, err := engine.Create(ctx, plugin, BackupManual, "admin-user")
	require.NoError(t, err)
	second, err := engine.Create(ctx, plugin, BackupAuto, "system")
	require.NoError(t, err)

	require.NoError(t, engine.Remove(ctx, "gallery"))
	assert.NoFileExists(t, first.BackupPath)
	assert.NoFileExists(t, second.BackupPath)

	remaining, err := store.FindBackupsByPlugin(ctx, "gallery")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
