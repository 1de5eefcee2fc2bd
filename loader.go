// loader.go: Pluggable code loader with memoized single-flight loads
//
// Plugin logic is never interpreted inside the host process. The
// CodeLoader interface abstracts how a plugin's declared surfaces
// become live: the default DeclarativeLoader materializes routes, hooks
// and admin surfaces purely from manifest data, and a sandboxed
// subprocess or WASM loader can be swapped in behind the same
// interface.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"sync"
	"time"
)

// DefaultLoadWaitTimeout bounds how long a follower waits for another
// goroutine's in-flight load of the same plugin.
const DefaultLoadWaitTimeout = 30 * time.Second

// LoadedPlugin is the live, in-memory form of an activated plugin.
type LoadedPlugin struct {
	PluginID string
	Manifest PluginManifest
	Config   map[string]any
	// Hooks are the callbacks to register, keyed by declared hook spec.
	Hooks map[string]HookCallback
	// LoadedAt is when the load completed.
	LoadedAt time.Time
}

// CodeLoader turns an installed plugin record into a LoadedPlugin and
// tears it down again. Implementations must be safe for concurrent use.
type CodeLoader interface {
	Load(ctx context.Context, plugin *InstalledPlugin) (*LoadedPlugin, error)
	Unload(ctx context.Context, pluginID string) error
	// Reload applies new config to an already-loaded plugin.
	Reload(ctx context.Context, plugin *InstalledPlugin) (*LoadedPlugin, error)
}

// DeclarativeLoader is the stock CodeLoader: no executable plugin code
// enters the process. Declared hooks are registered as inert callbacks
// (actions no-op, filters pass the value through); route and admin
// surface wiring happens in the surface registry from the same manifest
// data.
type DeclarativeLoader struct {
	logger Logger

	mu     sync.Mutex
	loaded map[string]*LoadedPlugin
}

// NewDeclarativeLoader creates an empty declarative loader.
func NewDeclarativeLoader(logger Logger) *DeclarativeLoader {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &DeclarativeLoader{
		logger: logger,
		loaded: make(map[string]*LoadedPlugin),
	}
}

func (l *DeclarativeLoader) Load(_ context.Context, plugin *InstalledPlugin) (*LoadedPlugin, error) {
	hooks := make(map[string]HookCallback, len(plugin.Manifest.Hooks))
	for _, spec := range plugin.Manifest.Hooks {
		switch spec.Kind {
		case HookFilter:
			hooks[spec.Name] = func(_ context.Context, args ...any) (any, error) {
				if len(args) == 0 {
					return nil, nil
				}
				return args[0], nil
			}
		default:
			hooks[spec.Name] = func(context.Context, ...any) (any, error) {
				return nil, nil
			}
		}
	}

	loaded := &LoadedPlugin{
		PluginID: plugin.PluginID,
		Manifest: plugin.Manifest,
		Config:   plugin.Config,
		Hooks:    hooks,
		LoadedAt: time.Now(),
	}
	l.mu.Lock()
	l.loaded[plugin.PluginID] = loaded
	l.mu.Unlock()
	l.logger.Debug("plugin loaded declaratively",
		"plugin_id", plugin.PluginID, "hooks", len(hooks))
	return loaded, nil
}

func (l *DeclarativeLoader) Unload(_ context.Context, pluginID string) error {
	l.mu.Lock()
	delete(l.loaded, pluginID)
	l.mu.Unlock()
	return nil
}

func (l *DeclarativeLoader) Reload(ctx context.Context, plugin *InstalledPlugin) (*LoadedPlugin, error) {
	return l.Load(ctx, plugin)
}

// memoizedLoader wraps a CodeLoader with per-plugin single-flight
// loading: concurrent requests to load the same not-yet-loaded plugin
// share one in-flight load instead of duplicating work. Followers wait
// up to waitTimeout for the leader before failing.
type memoizedLoader struct {
	inner       CodeLoader
	waitTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingLoad
}

type pendingLoad struct {
	done   chan struct{}
	result *LoadedPlugin
	err    error
}

func newMemoizedLoader(inner CodeLoader, waitTimeout time.Duration) *memoizedLoader {
	if waitTimeout <= 0 {
		waitTimeout = DefaultLoadWaitTimeout
	}
	return &memoizedLoader{
		inner:       inner,
		waitTimeout: waitTimeout,
		pending:     make(map[string]*pendingLoad),
	}
}

func (m *memoizedLoader) Load(ctx context.Context, plugin *InstalledPlugin) (*LoadedPlugin, error) {
	m.mu.Lock()
	if inflight, ok := m.pending[plugin.PluginID]; ok {
		m.mu.Unlock()
		select {
		case <-inflight.done:
			return inflight.result, inflight.err
		case <-time.After(m.waitTimeout):
			return nil, NewLoadTimeoutError(plugin.PluginID, m.waitTimeout)
		case <-ctx.Done():
			return nil, NewLoadTimeoutError(plugin.PluginID, ctx.Err())
		}
	}

	inflight := &pendingLoad{done: make(chan struct{})}
	m.pending[plugin.PluginID] = inflight
	m.mu.Unlock()

	inflight.result, inflight.err = m.inner.Load(ctx, plugin)
	close(inflight.done)

	m.mu.Lock()
	delete(m.pending, plugin.PluginID)
	m.mu.Unlock()
	return inflight.result, inflight.err
}

func (m *memoizedLoader) Unload(ctx context.Context, pluginID string) error {
	return m.inner.Unload(ctx, pluginID)
}

func (m *memoizedLoader) Reload(ctx context.Context, plugin *InstalledPlugin) (*LoadedPlugin, error) {
	return m.inner.Reload(ctx, plugin)
}
