// host_test.go: End-to-end lifecycle tests against a real host
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildArchive writes a zip file containing the given entries and
// returns its path.
func buildArchive(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	out, err := os.Create(path)
	require.NoError(t, err)
	writer := zip.NewWriter(out)
	for entry, content := range files {
		w, err := writer.Create(entry)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	require.NoError(t, out.Close())
	return path
}

// archiveFor builds an installable archive for a manifest plus any
// extra files.
func archiveFor(t *testing.T, manifest *PluginManifest, extra map[string]string) string {
	t.Helper()
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	files := map[string]string{"plugin.json": string(data)}
	for name, content := range extra {
		files[name] = content
	}
	return buildArchive(t, manifest.ID+".zip", files)
}

func newTestHost(t *testing.T) (*Host, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	host, err := NewHost(DefaultHostConfig(t.TempDir()), store, NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = host.Shutdown(context.Background()) })
	return host, store
}

func TestHost_InstallFresh(t *testing.T) {
	host, store := newTestHost(t)
	ctx := context.Background()

	manifest := testManifest("gallery", "1.0.0", nil)
	manifest.Routes = []RouteSpec{{Path: "/gallery", Method: "GET", Handler: "index.js"}}
	archive := archiveFor(t, manifest, map[string]string{"index.js": "module.exports = {};\n"})

	result, err := host.Install(ctx, archive, InstallOptions{UserID: "admin-user"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "gallery", result.PluginID)

	stored, err := store.FindByPluginID(ctx, "gallery")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, StatusInstalled, stored.Status)
	assert.False(t, stored.IsActive, "install does not activate")
	assert.Equal(t, "admin-user", stored.InstalledBy)
	assert.DirExists(t, stored.InstallPath)
	assert.FileExists(t, filepath.Join(stored.InstallPath, "index.js"))

	// Surfaces only go live on activation.
	assert.Empty(t, host.Surfaces().Routes())
}

func TestHost_InstallRejectsBadUploads(t *testing.T) {
	host, _ := newTestHost(t)
	ctx := context.Background()

	t.Run("wrong_extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plugin.tar.gz")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		_, err := host.Install(ctx, path, InstallOptions{})
		assertErrorCode(t, err, ErrCodeInvalidFileType)
	})

	t.Run("missing_manifest", func(t *testing.T) {
		archive := buildArchive(t, "bare.zip", map[string]string{"index.js": "x"})
		_, err := host.Install(ctx, archive, InstallOptions{})
		assertErrorCode(t, err, ErrCodeManifestNotFound)
	})

	t.Run("reserved_id", func(t *testing.T) {
		archive := archiveFor(t, testManifest("admin", "1.0.0", nil), nil)
		_, err := host.Install(ctx, archive, InstallOptions{})
		assertErrorCode(t, err, ErrCodeReservedPluginID)
	})

	t.Run("reserved_route", func(t *testing.T) {
		manifest := testManifest("sneaky", "1.0.0", nil)
		manifest.Routes = []RouteSpec{{Path: "/api/steal", Method: "GET", Handler: "h.js"}}
		archive := archiveFor(t, manifest, nil)
		_, err := host.Install(ctx, archive, InstallOptions{})
		assertErrorCode(t, err, ErrCodeReservedPath)
	})
}

func TestHost_InstallDuplicateAndOverwrite(t *testing.T) {
	host, store := newTestHost(t)
	ctx := context.Background()

	v1 := testManifest("gallery", "1.0.0", nil)
	v1.Settings.Defaults = map[string]any{"columns": float64(3)}
	_, err := host.Install(ctx, archiveFor(t, v1, nil), InstallOptions{UserID: "admin-user"})
	require.NoError(t, err)

	// User tweaks the config.
	_, err = host.Configure(ctx, "gallery", map[string]any{"columns": float64(5)}, "admin-user")
	require.NoError(t, err)

	t.Run("duplicate_refused", func(t *testing.T) {
		_, err := host.Install(ctx, archiveFor(t, v1, nil), InstallOptions{})
		assertErrorCode(t, err, ErrCodePluginExists)
	})

	t.Run("overwrite_preserves_config_and_backs_up", func(t *testing.T) {
		v2 := testManifest("gallery", "2.0.0", nil)
		v2.Settings.Defaults = map[string]any{"columns": float64(3), "lazy": true}
		result, err := host.Install(ctx, archiveFor(t, v2, nil), InstallOptions{UserID: "admin-user", Overwrite: true})
		require.NoError(t, err)
		assert.True(t, result.Success)

		stored, err := store.FindByPluginID(ctx, "gallery")
		require.NoError(t, err)
		assert.Equal(t, "2.0.0", stored.Manifest.Version)
		assert.Equal(t, StatusInstalled, stored.Status, "the updating state resolves to installed")
		assert.Equal(t, float64(5), stored.Config["columns"], "user config survives an upgrade")
		assert.Equal(t, true, stored.Config["lazy"], "new defaults fill unset keys")

		backups, err := host.Backups(ctx, "gallery")
		require.NoError(t, err)
		require.Len(t, backups, 1)
		assert.Equal(t, BackupAuto, backups[0].BackupType)
		assert.Equal(t, "1.0.0", backups[0].Version)
	})
}

func TestHost_DependencyGateOnActivation(t *testing.T) {
	host, store := newTestHost(t)
	ctx := context.Background()

	// Install the dependency but leave it inactive.
	_, err := host.Install(ctx, archiveFor(t, testManifest("user-profiles", "1.2.0", nil), nil), InstallOptions{})
	require.NoError(t, err)

	// Installing the dependent plugin succeeds with advisory warnings.
	dependent := testManifest("oauth-login", "1.0.0", map[string]string{"user-profiles": "^1.0.0"})
	result, err := host.Install(ctx, archiveFor(t, dependent, nil), InstallOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)

	stored, err := store.FindByPluginID(ctx, "oauth-login")
	require.NoError(t, err)
	require.NotEmpty(t, stored.ErrorLog, "dependency warnings are recorded")
	assert.Equal(t, "warning", stored.ErrorLog[0].Level)

	// Activation is fail-closed while the dependency is inactive.
	_, err = host.Activate(ctx, "oauth-login", ActivateOptions{})
	assertErrorCode(t, err, ErrCodeUnmetDependency)

	// Activate the dependency, then the dependent.
	_, err = host.Activate(ctx, "user-profiles", ActivateOptions{})
	require.NoError(t, err)
	result, err = host.Activate(ctx, "oauth-login", ActivateOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)

	stored, err = store.FindByPluginID(ctx, "oauth-login")
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.False(t, stored.ActivatedAt.IsZero())
	assert.Equal(t, int64(1), stored.Performance.ActivationCount)
}

func TestHost_SecurityGate(t *testing.T) {
	host, store := newTestHost(t)
	ctx := context.Background()

	malicious := testManifest("darkmode", "1.0.0", nil)
	archive := archiveFor(t, malicious, map[string]string{
		"index.js": "function apply(userInput) {\n  return eval(userInput);\n}\n",
	})

	t.Run("rejection", func(t *testing.T) {
		_, err := host.Install(ctx, archive, InstallOptions{UserID: "admin-user"})
		assertErrorCode(t, err, ErrCodeSecurityRejection)

		stored, err := store.FindByPluginID(ctx, "darkmode")
		require.NoError(t, err)
		assert.Nil(t, stored, "a rejected install leaves no record")
	})

	t.Run("override", func(t *testing.T) {
		result, err := host.Install(ctx, archive, InstallOptions{UserID: "admin-user", OverrideSecurity: true})
		require.NoError(t, err)
		assert.True(t, result.Success)
	})
}

func TestHost_ActivateEdgeCases(t *testing.T) {
	host, _ := newTestHost(t)
	ctx := context.Background()

	t.Run("not_installed", func(t *testing.T) {
		result, err := host.Activate(ctx, "ghost", ActivateOptions{})
		assertErrorCode(t, err, ErrCodePluginNotFound)
		assert.False(t, result.Success)
	})

	_, err := host.Install(ctx, archiveFor(t, testManifest("gallery", "1.0.0", nil), nil), InstallOptions{})
	require.NoError(t, err)
	_, err = host.Activate(ctx, "gallery", ActivateOptions{})
	require.NoError(t, err)

	t.Run("already_active", func(t *testing.T) {
		result, err := host.Activate(ctx, "gallery", ActivateOptions{})
		assertErrorCode(t, err, ErrCodeAlreadyActive)
		assert.False(t, result.Success)
	})
}

func TestHost_ActivationClaimsSurfaces(t *testing.T) {
	host, _ := newTestHost(t)
	ctx := context.Background()

	manifest := testManifest("shop", "1.0.0", nil)
	manifest.Routes = []RouteSpec{{Path: "/shop", Method: "GET", Handler: "shop.js"}}
	manifest.AdminPages = []AdminPageSpec{{Path: "/plugins/shop", Title: "Shop", Component: "ShopSettings"}}
	_, err := host.Install(ctx, archiveFor(t, manifest, nil), InstallOptions{Activate: true})
	require.NoError(t, err)

	routes := host.Surfaces().Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "/shop", routes[0].Route.Path)
	owner, ok := host.Surfaces().RouteOwner("GET", "/shop")
	assert.True(t, ok)
	assert.Equal(t, "shop", owner)
	assert.Len(t, host.Surfaces().AdminPages(), 1)

	// A second plugin claiming the same route is refused at activation.
	rival := testManifest("shop-rival", "1.0.0", nil)
	rival.Routes = []RouteSpec{{Path: "/shop", Method: "GET", Handler: "rival.js"}}
	_, err = host.Install(ctx, archiveFor(t, rival, nil), InstallOptions{})
	require.NoError(t, err, "install is advisory about conflicts")
	_, err = host.Activate(ctx, "shop-rival", ActivateOptions{})
	assertErrorCode(t, err, ErrCodeResourceConflict)
}

func TestHost_DeactivateIsNotIdempotent(t *testing.T) {
	host, _ := newTestHost(t)
	ctx := context.Background()

	_, err := host.Install(ctx, archiveFor(t, testManifest("gallery", "1.0.0", nil), nil), InstallOptions{Activate: true})
	require.NoError(t, err)

	events := 0
	host.Hooks().AddAction(EventPluginDeactivated, func(ctx context.Context, args ...any) (any, error) {
		events++
		return nil, nil
	}, DefaultHookPriority, "test-observer")

	result, err := host.Deactivate(ctx, "gallery", "admin-user")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, events)

	// Second deactivation: failure result, no state change, no event.
	result, err = host.Deactivate(ctx, "gallery", "admin-user")
	assertErrorCode(t, err, ErrCodePluginNotActive)
	assert.False(t, result.Success)
	assert.Equal(t, 1, events)
}

func TestHost_DeactivateReleasesSurfacesAndHooks(t *testing.T) {
	host, store := newTestHost(t)
	ctx := context.Background()

	manifest := testManifest("gallery", "1.0.0", nil)
	manifest.Routes = []RouteSpec{{Path: "/gallery", Method: "GET", Handler: "index.js"}}
	manifest.Hooks = []HookSpec{{Name: "content:render", Handler: "hooks/render.js", Priority: 10, Kind: HookFilter}}
	_, err := host.Install(ctx, archiveFor(t, manifest, nil), InstallOptions{Activate: true})
	require.NoError(t, err)

	assert.Len(t, host.Surfaces().Routes(), 1)
	assert.Equal(t, 1, host.Hooks().CountHooks("gallery"))

	_, err = host.Deactivate(ctx, "gallery", "admin-user")
	require.NoError(t, err)

	assert.Empty(t, host.Surfaces().Routes())
	assert.Equal(t, 0, host.Hooks().CountHooks("gallery"))

	stored, err := store.FindByPluginID(ctx, "gallery")
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, StatusInstalled, stored.Status, "record survives deactivation")
}

func TestHost_Configure(t *testing.T) {
	host, store := newTestHost(t)
	ctx := context.Background()

	min := float64(1)
	max := float64(12)
	manifest := testManifest("gallery", "1.0.0", nil)
	manifest.Settings = SettingsSpec{
		Schema: map[string]SettingField{
			"columns": {Type: "number", Min: &min, Max: &max},
			"theme":   {Type: "string", Enum: []any{"light", "dark"}},
		},
		Defaults: map[string]any{"columns": float64(3), "theme": "light"},
	}
	_, err := host.Install(ctx, archiveFor(t, manifest, nil), InstallOptions{})
	require.NoError(t, err)

	t.Run("valid_update_merges", func(t *testing.T) {
		result, err := host.Configure(ctx, "gallery", map[string]any{"columns": float64(6)}, "admin-user")
		require.NoError(t, err)
		assert.True(t, result.Success)

		stored, err := store.FindByPluginID(ctx, "gallery")
		require.NoError(t, err)
		assert.Equal(t, float64(6), stored.Config["columns"])
		assert.Equal(t, "light", stored.Config["theme"], "untouched keys survive")
	})

	t.Run("invalid_update_is_all_or_nothing", func(t *testing.T) {
		_, err := host.Configure(ctx, "gallery", map[string]any{
			"columns": float64(8), // valid on its own
			"theme":   "neon",     // not in the enum
		}, "admin-user")
		assertErrorCode(t, err, ErrCodeConfigSchemaViolated)

		stored, err := store.FindByPluginID(ctx, "gallery")
		require.NoError(t, err)
		assert.Equal(t, float64(6), stored.Config["columns"], "nothing from a rejected update is applied")
		assert.Equal(t, "light", stored.Config["theme"])
	})

	t.Run("emits_config_changed", func(t *testing.T) {
		var got *ConfigChangedEvent
		host.Hooks().AddAction(EventPluginConfigChanged, func(ctx context.Context, args ...any) (any, error) {
			if event, ok := args[0].(ConfigChangedEvent); ok {
				got = &event
			}
			return nil, nil
		}, DefaultHookPriority, "test-observer")

		_, err := host.Configure(ctx, "gallery", map[string]any{"theme": "dark"}, "admin-user")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "gallery", got.PluginID)
		assert.Equal(t, "dark", got.Config["theme"])
	})
}

func TestHost_BackupAndRestore(t *testing.T) {
	host, store := newTestHost(t)
	ctx := context.Background()

	manifest := testManifest("gallery", "1.0.0", nil)
	manifest.Settings.Defaults = map[string]any{"columns": float64(3)}
	_, err := host.Install(ctx, archiveFor(t, manifest, nil), InstallOptions{})
	require.NoError(t, err)

	backup, err := host.Backup(ctx, "gallery", BackupManual, "admin-user")
	require.NoError(t, err)

	// Drift the config after the backup.
	_, err = host.Configure(ctx, "gallery", map[string]any{"columns": float64(9)}, "admin-user")
	require.NoError(t, err)

	t.Run("restore_reapplies_snapshot", func(t *testing.T) {
		result, err := host.Restore(ctx, backup.BackupID, "admin-user")
		require.NoError(t, err)
		assert.True(t, result.Success)

		stored, err := store.FindByPluginID(ctx, "gallery")
		require.NoError(t, err)
		assert.Equal(t, float64(3), stored.Config["columns"])
	})

	t.Run("corrupted_backup_changes_nothing", func(t *testing.T) {
		_, err := host.Configure(ctx, "gallery", map[string]any{"columns": float64(7)}, "admin-user")
		require.NoError(t, err)

		content, err := os.ReadFile(backup.BackupPath)
		require.NoError(t, err)
		content[0] ^= 0xFF
		require.NoError(t, os.WriteFile(backup.BackupPath, content, 0o644))

		_, err = host.Restore(ctx, backup.BackupID, "admin-user")
		assertErrorCode(t, err, ErrCodeChecksumMismatch)

		stored, err := store.FindByPluginID(ctx, "gallery")
		require.NoError(t, err)
		assert.Equal(t, float64(7), stored.Config["columns"], "a failed restore mutates nothing")
	})
}

func TestHost_Uninstall(t *testing.T) {
	host, store := newTestHost(t)
	ctx := context.Background()

	manifest := testManifest("gallery", "1.0.0", nil)
	manifest.Routes = []RouteSpec{{Path: "/gallery", Method: "GET", Handler: "index.js"}}
	_, err := host.Install(ctx, archiveFor(t, manifest, map[string]string{"index.js": "x"}), InstallOptions{Activate: true})
	require.NoError(t, err)

	backup, err := host.Backup(ctx, "gallery", BackupManual, "admin-user")
	require.NoError(t, err)
	stored, err := store.FindByPluginID(ctx, "gallery")
	require.NoError(t, err)
	installPath := stored.InstallPath

	result, err := host.Uninstall(ctx, "gallery", "admin-user")
	require.NoError(t, err)
	assert.True(t, result.Success)

	gone, err := store.FindByPluginID(ctx, "gallery")
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.NoDirExists(t, installPath)
	assert.NoFileExists(t, backup.BackupPath)
	assert.Empty(t, host.Surfaces().Routes(), "active plugins are deactivated first")

	t.Run("uninstall_unknown", func(t *testing.T) {
		_, err := host.Uninstall(ctx, "gallery", "admin-user")
		assertErrorCode(t, err, ErrCodePluginNotFound)
	})
}

func TestHost_StartRestoresActivePlugins(t *testing.T) {
	store := NewMemoryStore()
	baseDir := t.TempDir()
	ctx := context.Background()

	// First host lifetime: install and activate.
	first, err := NewHost(DefaultHostConfig(baseDir), store, NewTestLogger())
	require.NoError(t, err)
	manifest := testManifest("gallery", "1.0.0", nil)
	manifest.Routes = []RouteSpec{{Path: "/gallery", Method: "GET", Handler: "index.js"}}
	_, err = first.Install(ctx, archiveFor(t, manifest, nil), InstallOptions{Activate: true})
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))

	// Second host lifetime over the same store: Start rebuilds the
	// registries from persisted state.
	second, err := NewHost(DefaultHostConfig(baseDir), store, NewTestLogger())
	require.NoError(t, err)
	defer second.Shutdown(ctx)
	require.NoError(t, second.Start(ctx))

	routes := second.Surfaces().Routes()
	require.Len(t, routes, 1)
	owner, ok := second.Surfaces().RouteOwner("GET", "/gallery")
	assert.True(t, ok)
	assert.Equal(t, "gallery", owner)
}

func TestHost_ShutdownRefusesOperations(t *testing.T) {
	host, _ := newTestHost(t)
	ctx := context.Background()
	require.NoError(t, host.Shutdown(ctx))

	_, err := host.Activate(ctx, "anything", ActivateOptions{})
	assertErrorCode(t, err, ErrCodeHostShutdown)
	_, err = host.Install(ctx, "whatever.zip", InstallOptions{})
	assertErrorCode(t, err, ErrCodeHostShutdown)

	// Shutdown is idempotent.
	require.NoError(t, host.Shutdown(ctx))
}

// failingUpdateStore passes every call through to the wrapped store
// until armed, then fails exactly one UpdateByPluginID call.
type failingUpdateStore struct {
	Store
	mu      sync.Mutex
	armed   bool
	failAt  int
	seen    int
	tripped bool
}

func (s *failingUpdateStore) arm(failAt int) {
	s.mu.Lock()
	s.armed = true
	s.failAt = failAt
	s.seen = 0
	s.tripped = false
	s.mu.Unlock()
}

func (s *failingUpdateStore) UpdateByPluginID(ctx context.Context, pluginID string, mutate func(*InstalledPlugin) error) (*InstalledPlugin, error) {
	s.mu.Lock()
	fail := false
	if s.armed && !s.tripped {
		s.seen++
		if s.seen == s.failAt {
			fail = true
			s.tripped = true
		}
	}
	s.mu.Unlock()
	if fail {
		return nil, NewStoreFailureError("update plugin", errors.New("simulated write failure"))
	}
	return s.Store.UpdateByPluginID(ctx, pluginID, mutate)
}

func TestHost_OverwritePersistFailureKeepsStoreAndDiskConsistent(t *testing.T) {
	flaky := &failingUpdateStore{Store: NewMemoryStore()}
	host, err := NewHost(DefaultHostConfig(t.TempDir()), flaky, NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = host.Shutdown(context.Background()) })
	ctx := context.Background()

	v1 := testManifest("gallery", "1.0.0", nil)
	_, err = host.Install(ctx, archiveFor(t, v1, map[string]string{"index.js": "// v1\n"}),
		InstallOptions{UserID: "admin-user"})
	require.NoError(t, err)

	// An overwrite persists twice: the updating marker, then the new
	// record once the files are swapped. Failing the second write must
	// put the previous files back.
	flaky.arm(2)

	v2 := testManifest("gallery", "2.0.0", nil)
	_, err = host.Install(ctx, archiveFor(t, v2, map[string]string{"index.js": "// v2\n"}),
		InstallOptions{UserID: "admin-user", Overwrite: true})
	assertErrorCode(t, err, ErrCodeStoreFailure)

	stored, err := flaky.FindByPluginID(ctx, "gallery")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "1.0.0", stored.Manifest.Version, "the record still describes the previous version")
	assert.Equal(t, StatusInstalled, stored.Status)

	content, err := os.ReadFile(filepath.Join(stored.InstallPath, "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "// v1\n", string(content), "the previous files are back in place")

	// No staging or retired directories linger next to the plugin.
	entries, err := os.ReadDir(filepath.Dir(stored.InstallPath))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSwapDir_RestoresPreviousWhenIncomingCannotMove(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	base := t.TempDir()
	current := filepath.Join(base, "plugin")
	require.NoError(t, os.MkdirAll(current, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(current, "index.js"), []byte("// v1\n"), 0o644))

	// The incoming package sits in a directory it cannot be renamed out
	// of, so the second rename of the swap fails.
	locked := filepath.Join(base, "locked")
	incoming := filepath.Join(locked, "pkg")
	require.NoError(t, os.MkdirAll(incoming, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(incoming, "index.js"), []byte("// v2\n"), 0o644))
	require.NoError(t, os.Chmod(locked, 0o555))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	retired := filepath.Join(base, "plugin.previous")
	restored, err := swapDir(current, incoming, retired)
	assertErrorCode(t, err, ErrCodeFilesystemFailure)
	assert.True(t, restored)

	content, err := os.ReadFile(filepath.Join(current, "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "// v1\n", string(content), "the previous contents are back at current")
	assert.NoDirExists(t, retired)
}

func TestHost_FreshInstallFailureIsRecordedAsFailed(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	host, store := newTestHost(t)
	ctx := context.Background()

	staging := filepath.Join(t.TempDir(), "staged")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	locked := filepath.Join(t.TempDir(), "locked")
	require.NoError(t, os.MkdirAll(locked, 0o755))
	require.NoError(t, os.Chmod(locked, 0o555))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	record := &InstalledPlugin{
		PluginID: "doomed",
		Status:   StatusInstalled,
		Manifest: *testManifest("doomed", "1.0.0", nil),
	}
	err := host.placeFresh(ctx, record, staging, filepath.Join(locked, "doomed"))
	assertErrorCode(t, err, ErrCodeFilesystemFailure)

	stored, err := store.FindByPluginID(ctx, "doomed")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, StatusFailed, stored.Status)
	require.NotEmpty(t, stored.ErrorLog)
	assert.Equal(t, "error", stored.ErrorLog[0].Level)
}

func TestHost_InstallScanTimeoutRejected(t *testing.T) {
	config := DefaultHostConfig(t.TempDir())
	config.Scanner.Timeout = time.Nanosecond
	store := NewMemoryStore()
	host, err := NewHost(config, store, NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = host.Shutdown(context.Background()) })
	ctx := context.Background()

	manifest := testManifest("slowpoke", "1.0.0", nil)
	archive := archiveFor(t, manifest, map[string]string{"index.js": "module.exports = {};\n"})
	_, err = host.Install(ctx, archive, InstallOptions{UserID: "admin-user"})
	assertErrorCode(t, err, ErrCodeScanTimeout)

	stored, err := store.FindByPluginID(ctx, "slowpoke")
	require.NoError(t, err)
	assert.Nil(t, stored, "a timed-out scan rejects before anything persists")
}

func TestHost_InstallRecordsPreScreenWarnings(t *testing.T) {
	host, store := newTestHost(t)
	ctx := context.Background()

	manifest := testManifest("grabby", "1.0.0", nil)
	manifest.Permissions = []string{"filesystem:write"}
	archive := archiveFor(t, manifest, map[string]string{"index.js": "module.exports = {};\n"})

	result, err := host.Install(ctx, archive, InstallOptions{UserID: "admin-user"})
	require.NoError(t, err)
	assert.True(t, result.Success, "pre-screen findings are advisory")

	stored, err := store.FindByPluginID(ctx, "grabby")
	require.NoError(t, err)
	require.NotNil(t, stored)
	found := false
	for _, entry := range stored.ErrorLog {
		if entry.Level == "warning" && strings.Contains(entry.Message, "high-risk permission filesystem:write") {
			found = true
		}
	}
	assert.True(t, found, "pre-screen findings land in the record's error log")
}
