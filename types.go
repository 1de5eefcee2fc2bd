// types.go: Common data types for the plugin lifecycle system
//
// This file contains the shared data model used throughout the plugin
// lifecycle subsystem: plugin status enumeration, the persisted
// InstalledPlugin and PluginBackup records, security severities and risk
// levels, and operation result envelopes. Keeping these separate from the
// component implementations keeps the persistence contract in one place.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"time"
)

// PluginStatus represents the persisted lifecycle state of an installed plugin.
//
// Status transitions follow the lifecycle state machine:
//
//	installing -> installed | failed
//	installed  -> updating  -> installed | failed
//	any        -> (record deleted on uninstall)
//
// Activation is tracked separately via InstalledPlugin.IsActive; the
// invariant IsActive => Status == StatusInstalled holds at all times.
type PluginStatus string

const (
	StatusInstalling PluginStatus = "installing"
	StatusInstalled  PluginStatus = "installed"
	StatusFailed     PluginStatus = "failed"
	StatusDisabled   PluginStatus = "disabled"
	StatusUpdating   PluginStatus = "updating"
)

// Severity classifies a single security finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities for escalation comparisons.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// RiskLevel is the coarse security classification derived from scanner
// findings. Escalation is monotonic: a scan result's risk level is the
// maximum of the severity-derived level and the score-threshold-derived
// level, never less.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// rank orders risk levels for monotonic escalation.
func (r RiskLevel) rank() int {
	switch r {
	case RiskCritical:
		return 4
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// maxRisk returns the higher of two risk levels.
func maxRisk(a, b RiskLevel) RiskLevel {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

// BackupType describes why a backup snapshot was taken.
type BackupType string

const (
	BackupManual    BackupType = "manual"
	BackupAuto      BackupType = "auto"
	BackupMigration BackupType = "migration"
	BackupUpdate    BackupType = "update"
)

// ErrorLogEntry is one entry in an installed plugin's ordered error log.
type ErrorLogEntry struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PerformanceMetrics holds denormalized runtime metrics for an installed
// plugin. These are advisory and updated opportunistically by the host.
type PerformanceMetrics struct {
	LoadDuration    time.Duration `json:"load_duration,omitempty"`
	ActivationCount int64         `json:"activation_count,omitempty"`
	HookInvocations int64         `json:"hook_invocations,omitempty"`
	LastMeasured    time.Time     `json:"last_measured,omitempty"`
}

// InstalledPlugin is the persisted record for one installed plugin.
//
// The record embeds the manifest verbatim and denormalizes hooks, routes
// and dependencies for query efficiency. PluginID is globally unique;
// uniqueness is enforced by the Store implementation.
type InstalledPlugin struct {
	PluginID    string         `json:"plugin_id"`
	Status      PluginStatus   `json:"status"`
	IsActive    bool           `json:"is_active"`
	Manifest    PluginManifest `json:"manifest"`
	Config      map[string]any `json:"config,omitempty"`
	InstallPath string         `json:"install_path,omitempty"`
	InstalledBy string         `json:"installed_by,omitempty"`
	InstalledAt time.Time      `json:"installed_at"`
	ActivatedAt time.Time      `json:"activated_at,omitempty"`
	LastUsed    time.Time      `json:"last_used,omitempty"`

	// Denormalized from the manifest for query efficiency.
	Hooks        []HookSpec        `json:"hooks,omitempty"`
	Routes       []RouteSpec       `json:"routes,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`

	ErrorLog    []ErrorLogEntry    `json:"error_log,omitempty"`
	Performance PerformanceMetrics `json:"performance,omitempty"`
}

// AppendError appends an entry to the record's ordered error log.
func (p *InstalledPlugin) AppendError(level, message string) {
	p.ErrorLog = append(p.ErrorLog, ErrorLogEntry{
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// PluginBackup is the persisted record for one immutable backup snapshot.
//
// The snapshot content lives in a checksummed artifact at BackupPath; the
// record and the artifact are created and deleted as a pair. Checksum is
// the hex-encoded SHA-256 of the artifact content and is verified before
// any restore.
type PluginBackup struct {
	BackupID   string         `json:"backup_id"`
	PluginID   string         `json:"plugin_id"`
	Version    string         `json:"version"`
	Config     map[string]any `json:"config,omitempty"`
	BackupPath string         `json:"backup_path"`
	BackupType BackupType     `json:"backup_type"`
	Checksum   string         `json:"checksum"`
	Restorable bool           `json:"restorable"`
	CreatedAt  time.Time      `json:"created_at"`
	CreatedBy  string         `json:"created_by,omitempty"`
}

// OperationResult is the caller-facing outcome of a lifecycle operation.
//
// Every public Host operation returns an OperationResult alongside its
// error: Success reports whether the operation completed, Message carries
// a human-readable summary suitable for an admin surface, and Err holds
// the typed failure when Success is false.
type OperationResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	PluginID string `json:"plugin_id,omitempty"`
	Err      error  `json:"-"`
}

// failure builds a failed OperationResult from a typed error.
func failure(pluginID, message string, err error) *OperationResult {
	return &OperationResult{Success: false, Message: message, PluginID: pluginID, Err: err}
}

// success builds a successful OperationResult.
func success(pluginID, message string) *OperationResult {
	return &OperationResult{Success: true, Message: message, PluginID: pluginID}
}
