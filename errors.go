// errors.go: structured error definitions for the pluginhost system
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"strings"

	"github.com/agilira/go-errors"
)

// Error codes for the pluginhost system
const (
	// Validation errors (1000-1099)
	ErrCodeInvalidManifest      = "VALIDATE_1001"
	ErrCodeInvalidPluginID      = "VALIDATE_1002"
	ErrCodeInvalidVersion       = "VALIDATE_1003"
	ErrCodeReservedPluginID     = "VALIDATE_1004"
	ErrCodeReservedPath         = "VALIDATE_1005"
	ErrCodeInvalidFileType      = "VALIDATE_1006"
	ErrCodeFileTooLarge         = "VALIDATE_1007"
	ErrCodePluginExists         = "VALIDATE_1008"
	ErrCodeConfigSchemaViolated = "VALIDATE_1009"

	// Dependency errors (1100-1199)
	ErrCodeUnmetDependency  = "DEPEND_1101"
	ErrCodeDependencyCycle  = "DEPEND_1102"
	ErrCodeResourceConflict = "DEPEND_1103"
	ErrCodeUnresolvableSet  = "DEPEND_1104"

	// Security errors (1200-1299)
	ErrCodeSecurityRejection = "SECURITY_1201"
	ErrCodeScanTimeout       = "SECURITY_1202"
	ErrCodeScanFailed        = "SECURITY_1203"

	// Integrity errors (1300-1399)
	ErrCodeChecksumMismatch = "INTEGRITY_1301"
	ErrCodeBackupMissing    = "INTEGRITY_1302"
	ErrCodeNotRestorable    = "INTEGRITY_1303"

	// Infrastructure errors (1400-1499)
	ErrCodeStoreFailure      = "INFRA_1401"
	ErrCodeFilesystemFailure = "INFRA_1402"
	ErrCodeExtractionFailure = "INFRA_1403"
	ErrCodeLoadTimeout       = "INFRA_1404"
	ErrCodeHostShutdown      = "INFRA_1405"

	// Hook errors (1500-1599) - isolated at the registry boundary,
	// never propagated to hook callers
	ErrCodeHookCallbackFailed = "HOOK_1501"
	ErrCodeHookReentrancy     = "HOOK_1502"

	// Lifecycle errors (1600-1699)
	ErrCodePluginNotFound   = "LIFECYCLE_1601"
	ErrCodePluginNotActive  = "LIFECYCLE_1602"
	ErrCodeAlreadyActive    = "LIFECYCLE_1603"
	ErrCodeWrongStatus      = "LIFECYCLE_1604"
	ErrCodeManifestNotFound = "LIFECYCLE_1605"
	ErrCodeActivationFailed = "LIFECYCLE_1606"
)

// Validation error constructors

func NewInvalidManifestError(reason string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeInvalidManifest, "Invalid plugin manifest: "+reason).
			WithUserMessage("The plugin manifest is malformed or incomplete").
			WithSeverity("error")
	}
	return errors.New(ErrCodeInvalidManifest, "Invalid plugin manifest: "+reason).
		WithUserMessage("The plugin manifest is malformed or incomplete").
		WithSeverity("error")
}

func NewInvalidPluginIDError(id string) *errors.Error {
	return errors.New(ErrCodeInvalidPluginID, "Invalid plugin id").
		WithUserMessage("Plugin ids must be lowercase alphanumeric with hyphens").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewInvalidVersionError(version string) *errors.Error {
	return errors.New(ErrCodeInvalidVersion, "Invalid plugin version").
		WithUserMessage("Plugin versions must use the strict major.minor.patch form").
		WithContext("version", version).
		WithSeverity("error")
}

func NewReservedPluginIDError(id string) *errors.Error {
	return errors.New(ErrCodeReservedPluginID, "Reserved plugin id").
		WithUserMessage("This plugin id is reserved by the host and cannot be used").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewReservedPathError(path string) *errors.Error {
	return errors.New(ErrCodeReservedPath, "Reserved path prefix").
		WithUserMessage("Plugin routes and admin pages may not use reserved path prefixes").
		WithContext("path", path).
		WithSeverity("error")
}

func NewInvalidFileTypeError(filename string) *errors.Error {
	return errors.New(ErrCodeInvalidFileType, "Invalid upload file type").
		WithUserMessage("Only supported archive types can be installed").
		WithContext("filename", filename).
		WithSeverity("error")
}

func NewFileTooLargeError(filename string, size, limit int64) *errors.Error {
	return errors.New(ErrCodeFileTooLarge, "Upload exceeds size limit").
		WithUserMessage("The uploaded plugin archive is larger than the configured limit").
		WithContext("filename", filename).
		WithContext("size_bytes", size).
		WithContext("limit_bytes", limit).
		WithSeverity("error")
}

func NewPluginExistsError(id string) *errors.Error {
	return errors.New(ErrCodePluginExists, "Plugin already installed").
		WithUserMessage("A plugin with this id is already installed; pass overwrite to replace it").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewConfigSchemaError(pluginID string, fieldErrors []string) *errors.Error {
	return errors.New(ErrCodeConfigSchemaViolated, "Configuration rejected by settings schema").
		WithUserMessage("One or more configuration fields failed validation: " + strings.Join(fieldErrors, "; ")).
		WithContext("plugin_id", pluginID).
		WithContext("field_errors", fieldErrors).
		WithSeverity("error")
}

// Dependency error constructors

func NewUnmetDependencyError(pluginID string, missing []MissingDependency, conflicts []PluginConflict) *errors.Error {
	return errors.New(ErrCodeUnmetDependency, "Unmet plugin dependencies").
		WithUserMessage("The plugin's dependency requirements are not satisfied").
		WithContext("plugin_id", pluginID).
		WithContext("missing_dependencies", missing).
		WithContext("conflicting_plugins", conflicts).
		WithSeverity("error")
}

func NewDependencyCycleError(pluginID string, cycle []string) *errors.Error {
	return errors.New(ErrCodeDependencyCycle, "Circular plugin dependency detected").
		WithUserMessage("Plugin dependencies form a cycle and cannot be installed in any order").
		WithContext("plugin_id", pluginID).
		WithContext("cycle", cycle).
		WithSeverity("error")
}

func NewResourceConflictError(pluginID string, conflicts []PluginConflict) *errors.Error {
	return errors.New(ErrCodeResourceConflict, "Plugin resource conflict").
		WithUserMessage("The plugin conflicts with currently active plugins").
		WithContext("plugin_id", pluginID).
		WithContext("conflicts", conflicts).
		WithSeverity("error")
}

func NewUnresolvableSetError(offender string) *errors.Error {
	return errors.New(ErrCodeUnresolvableSet, "Dependency set cannot be ordered").
		WithUserMessage("A dependency cycle prevents computing an install order").
		WithContext("offending_plugin", offender).
		WithSeverity("error")
}

// Security error constructors

func NewSecurityRejectionError(pluginID string, risk RiskLevel, issueCount int) *errors.Error {
	return errors.New(ErrCodeSecurityRejection, "Plugin rejected by security scan").
		WithUserMessage("The security scan classified this plugin as too risky to install").
		WithContext("plugin_id", pluginID).
		WithContext("risk_level", string(risk)).
		WithContext("issue_count", issueCount).
		WithSeverity("error")
}

func NewScanTimeoutError(dir string, timeout any) *errors.Error {
	return errors.New(ErrCodeScanTimeout, "Security scan timed out").
		WithUserMessage("The security scan exceeded its time budget and the plugin was rejected").
		WithContext("directory", dir).
		WithContext("timeout", timeout).
		WithSeverity("error")
}

func NewScanFailedError(dir string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeScanFailed, "Security scan failed").
		WithUserMessage("The security scan could not be completed").
		WithContext("directory", dir).
		WithSeverity("error")
}

// Integrity error constructors

func NewChecksumMismatchError(backupID, expected, actual string) *errors.Error {
	return errors.New(ErrCodeChecksumMismatch, "Backup checksum mismatch").
		WithUserMessage("The backup artifact failed integrity verification and will not be restored").
		WithContext("backup_id", backupID).
		WithContext("expected", expected).
		WithContext("actual", actual).
		WithSeverity("error")
}

func NewBackupMissingError(backupID string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeBackupMissing, "Backup artifact missing").
		WithUserMessage("The backup record exists but its artifact could not be read").
		WithContext("backup_id", backupID).
		WithSeverity("error")
}

func NewNotRestorableError(backupID string) *errors.Error {
	return errors.New(ErrCodeNotRestorable, "Backup not restorable").
		WithUserMessage("This backup is marked as not restorable").
		WithContext("backup_id", backupID).
		WithSeverity("error")
}

// Infrastructure error constructors

func NewStoreFailureError(op string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeStoreFailure, "Persistence operation failed: "+op).
		WithUserMessage("The plugin store could not complete the operation").
		WithSeverity("error").
		AsRetryable()
}

func NewFilesystemFailureError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeFilesystemFailure, "Filesystem operation failed").
		WithUserMessage("A filesystem operation failed during the plugin operation").
		WithContext("path", path).
		WithSeverity("error")
}

func NewExtractionFailureError(archive string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeExtractionFailure, "Archive extraction failed").
		WithUserMessage("The plugin archive could not be extracted").
		WithContext("archive", archive).
		WithSeverity("error")
}

func NewLoadTimeoutError(pluginID string, timeout any) *errors.Error {
	return errors.New(ErrCodeLoadTimeout, "Plugin load timed out").
		WithUserMessage("Waiting for an in-flight plugin load exceeded the timeout").
		WithContext("plugin_id", pluginID).
		WithContext("timeout", timeout).
		WithSeverity("warning").
		AsRetryable()
}

func NewHostShutdownError() *errors.Error {
	return errors.New(ErrCodeHostShutdown, "Host is shut down").
		WithUserMessage("The plugin host is shutting down and cannot accept operations").
		WithSeverity("warning")
}

// Hook error constructors. These are logged at the registry boundary and
// are never returned to hook callers.

func NewHookCallbackError(hookName, ownerID string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeHookCallbackFailed, "Hook callback failed").
		WithUserMessage("A plugin hook callback failed and was isolated").
		WithContext("hook", hookName).
		WithContext("owner_plugin", ownerID).
		WithSeverity("warning")
}

func NewHookReentrancyError(hookName string) *errors.Error {
	return errors.New(ErrCodeHookReentrancy, "Re-entrant hook invocation refused").
		WithUserMessage("The hook is already executing; the nested invocation was refused").
		WithContext("hook", hookName).
		WithSeverity("warning")
}

// Lifecycle error constructors

func NewPluginNotFoundError(id string) *errors.Error {
	return errors.New(ErrCodePluginNotFound, "Plugin not found").
		WithUserMessage("No installed plugin exists with this id").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewPluginNotActiveError(id string) *errors.Error {
	return errors.New(ErrCodePluginNotActive, "Plugin not active").
		WithUserMessage("The plugin is not currently active").
		WithContext("plugin_id", id).
		WithSeverity("warning")
}

func NewAlreadyActiveError(id string) *errors.Error {
	return errors.New(ErrCodeAlreadyActive, "Plugin already active").
		WithUserMessage("The plugin is already active").
		WithContext("plugin_id", id).
		WithSeverity("warning")
}

func NewWrongStatusError(id string, status PluginStatus) *errors.Error {
	return errors.New(ErrCodeWrongStatus, "Plugin is not in a valid state for this operation").
		WithUserMessage("The plugin's current status does not permit this operation").
		WithContext("plugin_id", id).
		WithContext("status", string(status)).
		WithSeverity("error")
}

func NewManifestNotFoundError(dir string) *errors.Error {
	return errors.New(ErrCodeManifestNotFound, "Plugin manifest not found").
		WithUserMessage("No plugin.json or theme.json manifest was found in the package root").
		WithContext("directory", dir).
		WithSeverity("error")
}

func NewActivationFailedError(id string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeActivationFailed, "Plugin activation failed").
		WithUserMessage("The plugin could not be activated").
		WithContext("plugin_id", id).
		WithSeverity("error")
}
