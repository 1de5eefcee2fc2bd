// events.go: Lifecycle event names and payloads
//
// Lifecycle transitions are announced through the hook registry as
// action hooks with typed payloads, so the admin UI and other active
// plugins can observe them with a plain AddAction.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import "time"

// Lifecycle hook names emitted by the host.
const (
	EventPluginInstalled     = "plugin:installed"
	EventPluginActivated     = "plugin:activated"
	EventPluginDeactivated   = "plugin:deactivated"
	EventPluginUninstalled   = "plugin:uninstalled"
	EventPluginConfigChanged = "plugin:config_changed"
)

// LifecycleEvent is the payload for install/activate/deactivate/
// uninstall events, passed as the first hook argument.
type LifecycleEvent struct {
	PluginID   string    `json:"plugin_id"`
	PluginName string    `json:"plugin_name"`
	Version    string    `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"user_id,omitempty"`
}

// ConfigChangedEvent is the payload for plugin:config_changed; it
// extends the lifecycle payload with the merged configuration.
type ConfigChangedEvent struct {
	LifecycleEvent
	Config map[string]any `json:"config"`
}
