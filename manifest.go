// manifest.go: Plugin manifest model, parsing and validation
//
// The manifest file (plugin.json or theme.json at the package root) is
// the declarative descriptor a plugin ships with: identity, capabilities,
// extension points, dependencies and settings schema. Manifests are
// untrusted input; parsing is permissive at the boundary but everything
// is converted into these strict typed structures and validated before
// any lifecycle operation proceeds.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"encoding/json"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	pluginIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)
	versionPattern  = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// ReservedPluginIDs are ids claimed by the host; manifests using one are
// rejected at validation time regardless of scanner outcome.
var ReservedPluginIDs = map[string]bool{
	"admin":   true,
	"api":     true,
	"auth":    true,
	"setup":   true,
	"system":  true,
	"core":    true,
	"default": true,
}

// ReservedPathPrefixes are route and admin-page prefixes owned by the
// host application. Plugin surfaces may not mount under these.
var ReservedPathPrefixes = []string{"/admin", "/api", "/auth", "/setup"}

// HookKind distinguishes the two hook callback styles.
type HookKind string

const (
	// HookAction is invoked for side effects only; return values are ignored.
	HookAction HookKind = "action"
	// HookFilter transforms and returns a value, chained across callbacks.
	HookFilter HookKind = "filter"
)

// RouteSpec declares one HTTP route a plugin wants mounted.
type RouteSpec struct {
	Path    string `json:"path" yaml:"path"`
	Method  string `json:"method" yaml:"method"`
	Handler string `json:"handler" yaml:"handler"`
}

// AdminPageSpec declares one admin panel page contributed by a plugin.
type AdminPageSpec struct {
	Path      string `json:"path" yaml:"path"`
	Title     string `json:"title" yaml:"title"`
	Component string `json:"component" yaml:"component"`
	Icon      string `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// WidgetSpec declares one dashboard widget contributed by a plugin.
type WidgetSpec struct {
	ID        string `json:"id" yaml:"id"`
	Title     string `json:"title" yaml:"title"`
	Component string `json:"component" yaml:"component"`
}

// HookSpec declares one hook registration a plugin wants on activation.
type HookSpec struct {
	Name     string   `json:"name" yaml:"name"`
	Handler  string   `json:"handler" yaml:"handler"`
	Priority int      `json:"priority,omitempty" yaml:"priority,omitempty"`
	Kind     HookKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// DependencySpec declares the plugins a plugin requires, as a map of
// plugin id to a single-range version expression.
type DependencySpec struct {
	Plugins map[string]string `json:"plugins,omitempty" yaml:"plugins,omitempty"`
}

// CompatibilitySpec lists plugin ids this plugin is explicitly
// incompatible with.
type CompatibilitySpec struct {
	Plugins []string `json:"plugins,omitempty" yaml:"plugins,omitempty"`
}

// CollectionSpec declares one database collection a plugin owns.
type CollectionSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// DatabaseSpec groups a plugin's database declarations.
type DatabaseSpec struct {
	Collections []CollectionSpec `json:"collections,omitempty" yaml:"collections,omitempty"`
}

// SettingField is the schema for one configurable setting.
//
// Supported constraints mirror the admin configuration surface: type
// check, required, numeric min/max, enum membership and regex pattern.
type SettingField struct {
	Type        string   `json:"type" yaml:"type"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Min         *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Enum        []any    `json:"enum,omitempty" yaml:"enum,omitempty"`
	Pattern     string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// SettingsSpec holds the settings schema and defaults for a plugin.
type SettingsSpec struct {
	Schema   map[string]SettingField `json:"schema,omitempty" yaml:"schema,omitempty"`
	Defaults map[string]any          `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// LifecycleScripts names the optional hook scripts a plugin declares for
// lifecycle transitions. In the declarative loader these are dispatched
// as action hooks; a sandboxed loader may map them to executable entry
// points.
type LifecycleScripts struct {
	Install    string `json:"install,omitempty" yaml:"install,omitempty"`
	Activate   string `json:"activate,omitempty" yaml:"activate,omitempty"`
	Deactivate string `json:"deactivate,omitempty" yaml:"deactivate,omitempty"`
	Uninstall  string `json:"uninstall,omitempty" yaml:"uninstall,omitempty"`
	Update     string `json:"update,omitempty" yaml:"update,omitempty"`
}

// SandboxSpec carries sandbox-related flags from the manifest. A plugin
// asking to disable sandboxing is a quick-check security signal.
type SandboxSpec struct {
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// PluginManifest is the immutable descriptor supplied by a plugin package.
//
// Example JSON manifest:
//
//	{
//	  "id": "oauth-plugin",
//	  "name": "OAuth Login",
//	  "version": "1.2.0",
//	  "category": "authentication",
//	  "permissions": ["database:write", "routes:register"],
//	  "routes": [{"path": "/oauth/callback", "method": "GET", "handler": "routes/callback.js"}],
//	  "dependencies": {"plugins": {"user-profiles": "^1.0.0"}},
//	  "database": {"collections": [{"name": "oauth_tokens"}]}
//	}
type PluginManifest struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
	License     string `json:"license,omitempty" yaml:"license,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`

	Permissions      []string        `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Routes           []RouteSpec     `json:"routes,omitempty" yaml:"routes,omitempty"`
	AdminPages       []AdminPageSpec `json:"admin_pages,omitempty" yaml:"admin_pages,omitempty"`
	DashboardWidgets []WidgetSpec    `json:"dashboard_widgets,omitempty" yaml:"dashboard_widgets,omitempty"`
	Hooks            []HookSpec      `json:"hooks,omitempty" yaml:"hooks,omitempty"`

	Dependencies  DependencySpec    `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Compatibility CompatibilitySpec `json:"compatibility,omitempty" yaml:"compatibility,omitempty"`
	Database      DatabaseSpec      `json:"database,omitempty" yaml:"database,omitempty"`
	Settings      SettingsSpec      `json:"settings,omitempty" yaml:"settings,omitempty"`
	Lifecycle     LifecycleScripts  `json:"lifecycle,omitempty" yaml:"lifecycle,omitempty"`
	Sandbox       *SandboxSpec      `json:"sandbox,omitempty" yaml:"sandbox,omitempty"`
}

// ParseManifest parses manifest bytes, accepting JSON or YAML.
//
// The format is detected from the first non-whitespace byte; anything
// that does not open a JSON object is treated as YAML. Parsing errors
// are returned as validation failures; the parsed manifest is NOT yet
// validated - call Validate before acting on it.
func ParseManifest(data []byte) (*PluginManifest, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, NewInvalidManifestError("manifest is empty", nil)
	}

	var manifest PluginManifest
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, NewInvalidManifestError("manifest is not valid JSON", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return nil, NewInvalidManifestError("manifest is not valid YAML", err)
		}
	}

	manifest.normalize()
	return &manifest, nil
}

// normalize fills in defaults for optional fields.
func (m *PluginManifest) normalize() {
	for i := range m.Hooks {
		if m.Hooks[i].Priority == 0 {
			m.Hooks[i].Priority = DefaultHookPriority
		}
		if m.Hooks[i].Kind == "" {
			m.Hooks[i].Kind = HookAction
		}
	}
	for i := range m.Routes {
		m.Routes[i].Method = strings.ToUpper(strings.TrimSpace(m.Routes[i].Method))
		if m.Routes[i].Method == "" {
			m.Routes[i].Method = "GET"
		}
	}
}

// Validate checks the manifest against the host's structural rules.
//
// Enforced regardless of scanner outcome: id and version shape, reserved
// ids, reserved route and admin-page prefixes, hook kind sanity, and
// presence of required identity fields.
func (m *PluginManifest) Validate() error {
	if m.ID == "" {
		return NewInvalidManifestError("id is required", nil)
	}
	if !pluginIDPattern.MatchString(m.ID) {
		return NewInvalidPluginIDError(m.ID)
	}
	if ReservedPluginIDs[m.ID] {
		return NewReservedPluginIDError(m.ID)
	}
	if m.Name == "" {
		return NewInvalidManifestError("name is required", nil)
	}
	if !versionPattern.MatchString(m.Version) {
		return NewInvalidVersionError(m.Version)
	}

	for _, route := range m.Routes {
		if err := checkReservedPath(route.Path); err != nil {
			return err
		}
	}
	for _, page := range m.AdminPages {
		if err := checkReservedPath(page.Path); err != nil {
			return err
		}
	}

	for _, hook := range m.Hooks {
		if hook.Name == "" {
			return NewInvalidManifestError("hook name is required", nil)
		}
		if hook.Kind != HookAction && hook.Kind != HookFilter {
			return NewInvalidManifestError("hook kind must be action or filter: "+string(hook.Kind), nil)
		}
	}

	for depID := range m.Dependencies.Plugins {
		if !pluginIDPattern.MatchString(depID) {
			return NewInvalidManifestError("dependency id is not a valid plugin id: "+depID, nil)
		}
		if depID == m.ID {
			return NewInvalidManifestError("plugin cannot depend on itself", nil)
		}
	}

	for field, schema := range m.Settings.Schema {
		switch schema.Type {
		case "string", "number", "integer", "boolean", "array", "object":
		default:
			return NewInvalidManifestError("unsupported settings type for field "+field+": "+schema.Type, nil)
		}
		if schema.Pattern != "" {
			if _, err := regexp.Compile(schema.Pattern); err != nil {
				return NewInvalidManifestError("invalid settings pattern for field "+field, err)
			}
		}
	}

	return nil
}

// checkReservedPath rejects paths mounted under host-owned prefixes.
func checkReservedPath(path string) error {
	normalized := "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
	for _, prefix := range ReservedPathPrefixes {
		if normalized == prefix || strings.HasPrefix(normalized, prefix+"/") {
			return NewReservedPathError(path)
		}
	}
	return nil
}

// DeclaredCollections returns the names of all collections the manifest
// declares, for conflict detection.
func (m *PluginManifest) DeclaredCollections() []string {
	names := make([]string, 0, len(m.Database.Collections))
	for _, c := range m.Database.Collections {
		names = append(names, c.Name)
	}
	return names
}
