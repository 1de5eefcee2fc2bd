// host_install.go: Plugin installation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// InstallOptions tune a single install operation.
type InstallOptions struct {
	// UserID attributes the install in the record and emitted events.
	UserID string
	// Activate cascades into activation after a successful install.
	Activate bool
	// Overwrite replaces an existing plugin with the same id; an
	// automatic backup of the current state is taken first.
	Overwrite bool
	// SkipSecurityScan bypasses the full scan. Audited.
	SkipSecurityScan bool
	// OverrideSecurity installs despite a high or critical scan result.
	// Audited with the scan findings.
	OverrideSecurity bool
}

// Install validates, scans and installs a plugin archive.
//
// The pipeline: upload checks (extension, size) -> extraction into a
// scratch directory -> manifest parse and validation -> security scan
// -> dependency advisory -> persist record -> move files into the
// install directory. Validation and security failures surface before
// any persisted mutation, and every scratch artifact is removed on all
// exit paths.
func (h *Host) Install(ctx context.Context, archivePath string, opts InstallOptions) (*OperationResult, error) {
	if err := h.checkRunning(); err != nil {
		return failure("", "host is shut down", err), err
	}
	config := h.currentConfig()

	if !config.allowsExtension(archivePath) {
		err := NewInvalidFileTypeError(filepath.Base(archivePath))
		return failure("", "unsupported archive type", err), err
	}
	info, statErr := os.Stat(archivePath)
	if statErr != nil {
		err := NewFilesystemFailureError(archivePath, statErr)
		return failure("", "could not read upload", err), err
	}
	if info.Size() > config.MaxUploadSize {
		err := NewFileTooLargeError(filepath.Base(archivePath), info.Size(), config.MaxUploadSize)
		return failure("", "archive exceeds the upload size limit", err), err
	}

	scratch := filepath.Join(config.TempDir, "extract-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		wrapped := NewFilesystemFailureError(scratch, err)
		return failure("", "could not prepare extraction directory", wrapped), wrapped
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			h.logger.Warn("could not clean extraction scratch", "dir", scratch, "error", err)
		}
	}()

	if err := h.extractor.Extract(archivePath, scratch); err != nil {
		return failure("", "archive extraction failed", err), err
	}

	manifest, manifestPath, err := FindManifest(scratch)
	if err != nil {
		return failure("", "plugin manifest missing or malformed", err), err
	}
	if err := manifest.Validate(); err != nil {
		return failure(manifest.ID, "plugin manifest failed validation", err), err
	}
	packageDir := filepath.Dir(manifestPath)

	unlock := h.locks.lock(manifest.ID)
	defer unlock()

	quick, err := h.runSecurityGate(ctx, manifest, packageDir, opts)
	if err != nil {
		return failure(manifest.ID, "plugin failed the security scan", err), err
	}

	// Dependency state is advisory at install time: a plugin may be
	// installed before its dependencies are active. Activation enforces
	// them fail-closed.
	report, err := h.resolver.CheckDependencies(ctx, manifest)
	if err != nil {
		return failure(manifest.ID, "dependency check failed", err), err
	}

	existing, err := h.store.FindByPluginID(ctx, manifest.ID)
	if err != nil {
		return failure(manifest.ID, "could not query installed plugins", err), err
	}
	if existing != nil && !opts.Overwrite {
		conflictErr := NewPluginExistsError(manifest.ID)
		return failure(manifest.ID, "a plugin with this id is already installed", conflictErr), conflictErr
	}
	if existing != nil {
		if _, err := h.backups.Create(ctx, existing, BackupAuto, opts.UserID); err != nil {
			return failure(manifest.ID, "automatic backup before overwrite failed", err), err
		}
	}

	installPath := filepath.Join(config.InstallDir, manifest.ID)
	staging := installPath + ".staging-" + uuid.NewString()
	if err := os.Rename(packageDir, staging); err != nil {
		wrapped := NewFilesystemFailureError(installPath, err)
		return failure(manifest.ID, "could not stage plugin files", wrapped), wrapped
	}
	defer os.RemoveAll(staging) // no-op after the final rename succeeds

	record := h.buildRecord(manifest, installPath, opts.UserID, existing)
	for _, suggestion := range report.Suggestions {
		record.AppendError("warning", suggestion)
	}
	for _, issue := range quick {
		record.AppendError("warning", "security pre-screen: "+issue.Evidence)
	}

	if existing == nil {
		err = h.placeFresh(ctx, record, staging, installPath)
	} else {
		err = h.placeOverwrite(ctx, record, staging, installPath)
	}
	if err != nil {
		return failure(manifest.ID, "plugin installation failed", err), err
	}

	h.logger.Info("plugin installed",
		"plugin_id", manifest.ID,
		"version", manifest.Version,
		"user", opts.UserID,
		"overwrite", existing != nil)
	h.hooks.DoAction(ctx, EventPluginInstalled, newLifecycleEvent(record, opts.UserID))

	if opts.Activate {
		return h.activateLocked(ctx, manifest.ID, ActivateOptions{UserID: opts.UserID})
	}
	message := fmt.Sprintf("plugin %s %s installed", manifest.ID, manifest.Version)
	if !report.Satisfied {
		message += " (dependency warnings recorded)"
	}
	return success(manifest.ID, message), nil
}

// runSecurityGate pre-screens the manifest, scans the extracted package
// and decides whether the install may proceed. The quick-check findings
// are advisory and returned for the record's error log; the full scan
// is the gate. Skips and overrides are audited with the actor.
func (h *Host) runSecurityGate(ctx context.Context, manifest *PluginManifest, dir string, opts InstallOptions) ([]SecurityIssue, error) {
	// Manifest-only pre-screen runs first: no file I/O, so it costs
	// nothing even when the full scan is skipped.
	quick := h.Scanner().QuickCheck(manifest)
	if len(quick) > 0 {
		h.logger.Warn("manifest quick check raised findings",
			"plugin_id", manifest.ID, "findings", len(quick))
	}

	if opts.SkipSecurityScan {
		h.logger.Warn("security scan skipped by request",
			"plugin_id", manifest.ID, "user", opts.UserID)
		h.auditEvent("security_scan_skipped", "Install proceeded without a security scan", map[string]any{
			"plugin_id": manifest.ID,
			"version":   manifest.Version,
			"user_id":   opts.UserID,
		})
		return quick, nil
	}

	result, err := h.Scanner().ScanPlugin(ctx, dir)
	if err != nil {
		return quick, err
	}
	if result.IsSecure() {
		return quick, nil
	}

	if opts.OverrideSecurity {
		h.logger.Warn("security rejection overridden",
			"plugin_id", manifest.ID,
			"risk", result.RiskLevel,
			"issues", len(result.Issues),
			"user", opts.UserID)
		h.auditEvent("security_override", "Install proceeded despite scan rejection", map[string]any{
			"plugin_id": manifest.ID,
			"version":   manifest.Version,
			"risk":      string(result.RiskLevel),
			"score":     result.Score,
			"issues":    len(result.Issues),
			"user_id":   opts.UserID,
			"timestamp": timecache.CachedTime(),
		})
		return quick, nil
	}

	h.auditEvent("security_rejection", "Install blocked by security scan", map[string]any{
		"plugin_id": manifest.ID,
		"version":   manifest.Version,
		"risk":      string(result.RiskLevel),
		"score":     result.Score,
		"issues":    len(result.Issues),
		"timed_out": result.TimedOut,
		"user_id":   opts.UserID,
	})
	if result.TimedOut {
		return quick, NewScanTimeoutError(dir, h.currentConfig().Scanner.Timeout)
	}
	return quick, NewSecurityRejectionError(manifest.ID, result.RiskLevel, len(result.Issues))
}

// buildRecord assembles the persisted record for a fresh install or
// overwrite, preserving nothing from the previous record except what
// the caller re-applies.
func (h *Host) buildRecord(manifest *PluginManifest, installPath, userID string, previous *InstalledPlugin) *InstalledPlugin {
	now := timecache.CachedTime()
	record := &InstalledPlugin{
		PluginID:     manifest.ID,
		Status:       StatusInstalled,
		IsActive:     false,
		Manifest:     *manifest,
		Config:       map[string]any{},
		InstallPath:  installPath,
		InstalledBy:  userID,
		InstalledAt:  now,
		Hooks:        manifest.Hooks,
		Routes:       manifest.Routes,
		Dependencies: manifest.Dependencies.Plugins,
	}
	for key, value := range manifest.Settings.Defaults {
		record.Config[key] = value
	}
	if previous != nil {
		// Carry user configuration across an overwrite; new defaults
		// only fill keys the user never set.
		for key, value := range previous.Config {
			record.Config[key] = value
		}
		record.InstalledAt = previous.InstalledAt
	}
	return record
}

// placeFresh persists a first-time record and moves the staged files
// into place, walking the installing -> installed | failed transitions.
// On a filesystem failure the record is kept in the failed state with
// the cause in its error log; a later Overwrite install replaces it.
func (h *Host) placeFresh(ctx context.Context, record *InstalledPlugin, staging, installPath string) error {
	created := *record
	created.Status = StatusInstalling
	if err := h.store.Create(ctx, &created); err != nil {
		return err
	}

	if err := replaceDir(staging, installPath); err != nil {
		_, _ = h.store.UpdateByPluginID(ctx, record.PluginID, func(p *InstalledPlugin) error {
			p.Status = StatusFailed
			p.AppendError("error", "plugin files could not be moved into place: "+err.Error())
			return nil
		})
		return err
	}

	if _, err := h.store.UpdateByPluginID(ctx, record.PluginID, func(p *InstalledPlugin) error {
		p.Status = StatusInstalled
		return nil
	}); err != nil {
		return err
	}
	return nil
}

// placeOverwrite replaces an installed plugin's files and record,
// walking installed -> updating -> installed | failed. The previous
// files are retired, not removed, until the new record is persisted, so
// every failure exit leaves the store and the disk agreeing on one
// version.
func (h *Host) placeOverwrite(ctx context.Context, record *InstalledPlugin, staging, installPath string) error {
	if _, err := h.store.UpdateByPluginID(ctx, record.PluginID, func(p *InstalledPlugin) error {
		p.Status = StatusUpdating
		return nil
	}); err != nil {
		return err
	}

	retired := installPath + ".previous-" + uuid.NewString()
	if restored, err := swapDir(installPath, staging, retired); err != nil {
		_, _ = h.store.UpdateByPluginID(ctx, record.PluginID, func(p *InstalledPlugin) error {
			if restored {
				p.Status = StatusInstalled
				p.AppendError("error", "update failed, previous version kept: "+err.Error())
			} else {
				p.Status = StatusFailed
				p.AppendError("error", "update failed and the previous files could not be restored: "+err.Error())
			}
			return nil
		})
		return err
	}

	if _, err := h.store.UpdateByPluginID(ctx, record.PluginID, func(p *InstalledPlugin) error {
		wasActive := p.IsActive
		*p = *record
		p.IsActive = wasActive
		return nil
	}); err != nil {
		// The new record did not land; put the previous files back so
		// the store keeps describing what is on disk.
		rbErr := os.RemoveAll(installPath)
		if rbErr == nil {
			rbErr = os.Rename(retired, installPath)
		}
		if rbErr != nil {
			h.logger.Error("could not restore previous plugin files after failed update",
				"plugin_id", record.PluginID, "retired", retired, "error", rbErr)
			return err
		}
		_, _ = h.store.UpdateByPluginID(ctx, record.PluginID, func(p *InstalledPlugin) error {
			p.Status = StatusInstalled
			p.AppendError("error", "update could not be persisted, previous version kept: "+err.Error())
			return nil
		})
		return err
	}

	if err := os.RemoveAll(retired); err != nil {
		h.logger.Warn("could not remove retired plugin files",
			"plugin_id", record.PluginID, "dir", retired, "error", err)
	}
	return nil
}

// replaceDir swaps dst for src, removing any previous dst. Used for
// fresh installs where there is no prior version to preserve.
func replaceDir(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return NewFilesystemFailureError(dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return NewFilesystemFailureError(dst, err)
	}
	return nil
}

// swapDir replaces current with incoming, retiring the previous
// contents to retired instead of deleting them. On failure the retired
// contents are moved back when possible; restored reports whether
// current holds the previous contents again. The caller removes retired
// once the swap is committed.
func swapDir(current, incoming, retired string) (restored bool, err error) {
	if err := os.Rename(current, retired); err != nil {
		// Nothing moved yet.
		return true, NewFilesystemFailureError(current, err)
	}
	if err := os.Rename(incoming, current); err != nil {
		wrapped := NewFilesystemFailureError(current, err)
		if backErr := os.Rename(retired, current); backErr != nil {
			return false, wrapped
		}
		return true, wrapped
	}
	return true, nil
}
