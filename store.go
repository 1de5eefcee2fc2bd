// store.go: Persistence contract and in-memory document store
//
// The host treats persistence as an opaque document store behind the
// Store interface. The only writers are the lifecycle operations;
// uniqueness of plugin_id is the store's responsibility and a duplicate
// Create must fail detectably rather than overwrite.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Store persists plugin records and backups.
//
// Lookup methods return (nil, nil) for absent records; errors are
// reserved for infrastructure failures. Create fails with a plugin-
// exists conflict when the id is already present.
type Store interface {
	FindByPluginID(ctx context.Context, pluginID string) (*InstalledPlugin, error)
	FindActivePlugins(ctx context.Context) ([]*InstalledPlugin, error)
	FindByStatus(ctx context.Context, status PluginStatus) ([]*InstalledPlugin, error)
	Create(ctx context.Context, plugin *InstalledPlugin) error
	// UpdateByPluginID applies mutate to the stored record atomically
	// and returns the updated record, or (nil, nil) when absent.
	UpdateByPluginID(ctx context.Context, pluginID string, mutate func(*InstalledPlugin) error) (*InstalledPlugin, error)
	DeleteByPluginID(ctx context.Context, pluginID string) error
	InsertMany(ctx context.Context, plugins []*InstalledPlugin) error

	CreateBackup(ctx context.Context, backup *PluginBackup) error
	FindBackup(ctx context.Context, backupID string) (*PluginBackup, error)
	FindBackupsByPlugin(ctx context.Context, pluginID string) ([]*PluginBackup, error)
	DeleteBackupsByPlugin(ctx context.Context, pluginID string) error
}

// MemoryStore is an in-process Store used in tests and single-node
// deployments without a database. Records are cloned through JSON on
// the way in and out so callers can never alias stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	plugins map[string]*InstalledPlugin
	backups map[string]*PluginBackup
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plugins: make(map[string]*InstalledPlugin),
		backups: make(map[string]*PluginBackup),
	}
}

func clonePlugin(p *InstalledPlugin) *InstalledPlugin {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		// InstalledPlugin is plain data; marshal cannot fail on it.
		panic("pluginhost: unmarshalable plugin record: " + err.Error())
	}
	var clone InstalledPlugin
	if err := json.Unmarshal(data, &clone); err != nil {
		panic("pluginhost: plugin record roundtrip failed: " + err.Error())
	}
	return &clone
}

func cloneBackup(b *PluginBackup) *PluginBackup {
	if b == nil {
		return nil
	}
	data, _ := json.Marshal(b)
	var clone PluginBackup
	if err := json.Unmarshal(data, &clone); err != nil {
		panic("pluginhost: backup record roundtrip failed: " + err.Error())
	}
	return &clone
}

func (s *MemoryStore) FindByPluginID(_ context.Context, pluginID string) (*InstalledPlugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePlugin(s.plugins[pluginID]), nil
}

func (s *MemoryStore) FindActivePlugins(_ context.Context) ([]*InstalledPlugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*InstalledPlugin
	for _, p := range s.plugins {
		if p.IsActive {
			out = append(out, clonePlugin(p))
		}
	}
	sortPlugins(out)
	return out, nil
}

func (s *MemoryStore) FindByStatus(_ context.Context, status PluginStatus) ([]*InstalledPlugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*InstalledPlugin
	for _, p := range s.plugins {
		if p.Status == status {
			out = append(out, clonePlugin(p))
		}
	}
	sortPlugins(out)
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, plugin *InstalledPlugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plugins[plugin.PluginID]; exists {
		return NewPluginExistsError(plugin.PluginID)
	}
	s.plugins[plugin.PluginID] = clonePlugin(plugin)
	return nil
}

func (s *MemoryStore) UpdateByPluginID(_ context.Context, pluginID string, mutate func(*InstalledPlugin) error) (*InstalledPlugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.plugins[pluginID]
	if !exists {
		return nil, nil
	}
	updated := clonePlugin(current)
	if err := mutate(updated); err != nil {
		return nil, err
	}
	updated.PluginID = pluginID // id is immutable
	s.plugins[pluginID] = updated
	return clonePlugin(updated), nil
}

func (s *MemoryStore) DeleteByPluginID(_ context.Context, pluginID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plugins, pluginID)
	return nil
}

func (s *MemoryStore) InsertMany(_ context.Context, plugins []*InstalledPlugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range plugins {
		if _, exists := s.plugins[p.PluginID]; exists {
			return NewPluginExistsError(p.PluginID)
		}
	}
	for _, p := range plugins {
		s.plugins[p.PluginID] = clonePlugin(p)
	}
	return nil
}

func (s *MemoryStore) CreateBackup(_ context.Context, backup *PluginBackup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups[backup.BackupID] = cloneBackup(backup)
	return nil
}

func (s *MemoryStore) FindBackup(_ context.Context, backupID string) (*PluginBackup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBackup(s.backups[backupID]), nil
}

func (s *MemoryStore) FindBackupsByPlugin(_ context.Context, pluginID string) ([]*PluginBackup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PluginBackup
	for _, b := range s.backups {
		if b.PluginID == pluginID {
			out = append(out, cloneBackup(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteBackupsByPlugin(_ context.Context, pluginID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, b := range s.backups {
		if b.PluginID == pluginID {
			delete(s.backups, id)
		}
	}
	return nil
}

func sortPlugins(plugins []*InstalledPlugin) {
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].PluginID < plugins[j].PluginID
	})
}
