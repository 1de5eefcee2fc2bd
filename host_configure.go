// host_configure.go: Plugin configuration updates
//
// Partial configuration updates are merged over the stored config and
// validated against the manifest's settings schema as a whole, compiled
// to JSON Schema. Validation is all-or-nothing: a single bad field
// rejects the entire update.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Configure merges partial config into the plugin's stored config,
// validates the result against the settings schema and persists it.
// An active plugin is hot-reloaded with the new config and a
// plugin:config_changed event is emitted.
func (h *Host) Configure(ctx context.Context, pluginID string, partial map[string]any, userID string) (*OperationResult, error) {
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

	merged := make(map[string]any, len(plugin.Config)+len(partial))
	for key, value := range plugin.Config {
		merged[key] = value
	}
	for key, value := range partial {
		merged[key] = value
	}

	if err := validateSettings(&plugin.Manifest.Settings, merged, pluginID); err != nil {
		return failure(pluginID, "configuration failed schema validation", err), err
	}

	updated, err := h.store.UpdateByPluginID(ctx, pluginID, func(p *InstalledPlugin) error {
		p.Config = merged
		return nil
	})
	if err != nil {
		return failure(pluginID, "could not persist the configuration", err), err
	}

	if updated.IsActive {
		if _, err := h.loader.Reload(ctx, updated); err != nil {
			h.logger.Warn("hot reload with new config failed",
				"plugin_id", pluginID, "error", err)
		}
	}

	h.logger.Info("plugin configured",
		"plugin_id", pluginID,
		"fields", len(partial),
		"user", userID)
	h.hooks.DoAction(ctx, EventPluginConfigChanged, ConfigChangedEvent{
		LifecycleEvent: newLifecycleEvent(updated, userID),
		Config:         merged,
	})
	return success(pluginID, fmt.Sprintf("plugin %s configuration updated", pluginID)), nil
}

// validateSettings compiles the manifest's settings schema to JSON
// Schema and validates the merged config against it.
func validateSettings(spec *SettingsSpec, config map[string]any, pluginID string) error {
	if len(spec.Schema) == 0 {
		return nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(settingsJSONSchema(spec)))
	if err != nil {
		return NewInvalidManifestError("settings schema does not compile", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return NewConfigSchemaError(pluginID, []string{err.Error()})
	}
	if result.Valid() {
		return nil
	}

	fieldErrors := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		fieldErrors = append(fieldErrors, resultErr.String())
	}
	return NewConfigSchemaError(pluginID, fieldErrors)
}

// settingsJSONSchema lowers the manifest settings schema into a JSON
// Schema document.
func settingsJSONSchema(spec *SettingsSpec) map[string]any {
	properties := make(map[string]any, len(spec.Schema))
	var required []string
	for name, field := range spec.Schema {
		property := map[string]any{"type": field.Type}
		if field.Min != nil {
			property["minimum"] = *field.Min
		}
		if field.Max != nil {
			property["maximum"] = *field.Max
		}
		if len(field.Enum) > 0 {
			property["enum"] = field.Enum
		}
		if field.Pattern != "" {
			property["pattern"] = field.Pattern
		}
		if field.Description != "" {
			property["description"] = field.Description
		}
		properties[name] = property
		if field.Required {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
