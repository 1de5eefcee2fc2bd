// config.go: Host configuration with validation and hot-reload support
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HostConfig is the top-level configuration for a plugin host.
//
// Example usage:
//
//	config := DefaultHostConfig("/var/lib/app/plugins")
//	config.Scanner.IncludeTests = true
//	host, err := NewHost(config, store, logger)
type HostConfig struct {
	// InstallDir is where activated plugin packages live, one
	// subdirectory per plugin id.
	InstallDir string `json:"install_dir" yaml:"install_dir"`
	// TempDir receives uploads and extraction scratch space. Cleared
	// per-operation, never trusted across restarts.
	TempDir string `json:"temp_dir" yaml:"temp_dir"`
	// BackupDir holds checksummed backup snapshots.
	BackupDir string `json:"backup_dir" yaml:"backup_dir"`

	// MaxUploadSize rejects plugin archives larger than this, in bytes.
	MaxUploadSize int64 `json:"max_upload_size" yaml:"max_upload_size"`
	// AllowedArchiveExts lists accepted upload extensions.
	AllowedArchiveExts []string `json:"allowed_archive_exts" yaml:"allowed_archive_exts"`

	// Scanner tunes the security scanner.
	Scanner ScannerConfig `json:"scanner" yaml:"scanner"`

	// LoadWaitTimeout bounds follower waits on in-flight plugin loads.
	LoadWaitTimeout time.Duration `json:"load_wait_timeout" yaml:"load_wait_timeout"`

	// AuditFile, when set, enables audit logging of security-relevant
	// operations (overrides, rejections) to this path.
	AuditFile string `json:"audit_file" yaml:"audit_file"`
}

// Default host limits.
const DefaultMaxUploadSize = 100 << 20

// DefaultHostConfig returns a working configuration rooted at baseDir.
func DefaultHostConfig(baseDir string) HostConfig {
	return HostConfig{
		InstallDir:         filepath.Join(baseDir, "installed"),
		TempDir:            filepath.Join(baseDir, "tmp"),
		BackupDir:          filepath.Join(baseDir, "backups"),
		MaxUploadSize:      DefaultMaxUploadSize,
		AllowedArchiveExts: []string{".zip"},
		Scanner:            DefaultScannerConfig(),
		LoadWaitTimeout:    DefaultLoadWaitTimeout,
	}
}

// LoadHostConfig reads a JSON or YAML host configuration file, fills in
// defaults for omitted fields and validates the result.
func LoadHostConfig(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewFilesystemFailureError(path, err)
	}

	var config HostConfig
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		err = json.Unmarshal(data, &config)
	} else {
		err = yaml.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, NewInvalidManifestError("host configuration is malformed", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *HostConfig) applyDefaults() {
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = DefaultMaxUploadSize
	}
	if len(c.AllowedArchiveExts) == 0 {
		c.AllowedArchiveExts = []string{".zip"}
	}
	if c.LoadWaitTimeout <= 0 {
		c.LoadWaitTimeout = DefaultLoadWaitTimeout
	}
	defaults := DefaultScannerConfig()
	if c.Scanner.Timeout <= 0 {
		c.Scanner.Timeout = defaults.Timeout
	}
	if c.Scanner.SeverityWeights == (SeverityWeights{}) {
		c.Scanner.SeverityWeights = defaults.SeverityWeights
	}
	if c.Scanner.RiskThresholds == (RiskThresholds{}) {
		c.Scanner.RiskThresholds = defaults.RiskThresholds
	}
}

// Validate checks the configuration for structural errors.
func (c *HostConfig) Validate() error {
	if c.InstallDir == "" {
		return NewInvalidManifestError("install_dir is required", nil)
	}
	if c.TempDir == "" {
		return NewInvalidManifestError("temp_dir is required", nil)
	}
	if c.BackupDir == "" {
		return NewInvalidManifestError("backup_dir is required", nil)
	}
	for _, ext := range c.AllowedArchiveExts {
		if !strings.HasPrefix(ext, ".") {
			return NewInvalidManifestError("archive extension must start with a dot: "+ext, nil)
		}
	}
	thresholds := c.Scanner.RiskThresholds
	if thresholds.Critical > thresholds.High || thresholds.High > thresholds.Medium {
		return NewInvalidManifestError("scanner risk thresholds must be ordered critical <= high <= medium", nil)
	}
	return nil
}

// allowsExtension reports whether the upload filename has an accepted
// archive extension.
func (c *HostConfig) allowsExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range c.AllowedArchiveExts {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
