// scanner.go: Security scanner for extracted plugin packages
//
// Walks a plugin's extracted file tree, applies the pattern catalog per
// file, and aggregates findings into a score and a risk level. The scan
// is bounded by a hard wall-clock timeout and fails CLOSED: a scan that
// cannot finish is reported as critical, never as clean.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agilira/go-timecache"
)

// SecurityIssue is one scanner finding.
type SecurityIssue struct {
	Type        SecurityIssueType `json:"type"`
	Severity    Severity          `json:"severity"`
	File        string            `json:"file,omitempty"`
	Line        int               `json:"line,omitempty"`
	Evidence    string            `json:"evidence,omitempty"`
	Remediation string            `json:"remediation,omitempty"`
}

// ScanResult aggregates all findings for one plugin package.
type ScanResult struct {
	RiskLevel    RiskLevel       `json:"risk_level"`
	Score        int             `json:"score"`
	Issues       []SecurityIssue `json:"issues"`
	FilesScanned int             `json:"files_scanned"`
	Duration     time.Duration   `json:"duration"`
	TimedOut     bool            `json:"timed_out"`
}

// IsSecure reports whether the result permits installation: risk is
// neither high nor critical.
func (r *ScanResult) IsSecure() bool {
	return r.RiskLevel != RiskHigh && r.RiskLevel != RiskCritical
}

// SeverityWeights are the per-severity score deductions.
type SeverityWeights struct {
	Critical int `json:"critical" yaml:"critical"`
	High     int `json:"high" yaml:"high"`
	Medium   int `json:"medium" yaml:"medium"`
	Low      int `json:"low" yaml:"low"`
}

// RiskThresholds map score bands to risk levels: score below Critical
// is critical risk, below High is high, below Medium is medium.
type RiskThresholds struct {
	Critical int `json:"critical" yaml:"critical"`
	High     int `json:"high" yaml:"high"`
	Medium   int `json:"medium" yaml:"medium"`
}

// ScannerConfig tunes the scanner. The weights and thresholds are
// heuristic constants carried from operational experience, kept
// configurable so a security review can recalibrate them without a
// code change.
type ScannerConfig struct {
	// Timeout bounds the whole scan. Zero means DefaultScanTimeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// IncludeTests scans test files too; off by default.
	IncludeTests bool `json:"include_tests" yaml:"include_tests"`
	// MaxFileSize skips content-scanning files larger than this.
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`
	// MaxFiles aborts the walk past this many files.
	MaxFiles int `json:"max_files" yaml:"max_files"`
	// ObfuscationThreshold is the per-file encoded-pattern count above
	// which an obfuscation issue is raised.
	ObfuscationThreshold int `json:"obfuscation_threshold" yaml:"obfuscation_threshold"`

	SeverityWeights SeverityWeights `json:"severity_weights" yaml:"severity_weights"`
	RiskThresholds  RiskThresholds  `json:"risk_thresholds" yaml:"risk_thresholds"`
}

// Default scanner bounds.
const (
	DefaultScanTimeout     = 60 * time.Second
	DefaultMaxScanFileSize = 5 << 20
	DefaultMaxScanFiles    = 5000
)

// DefaultScannerConfig returns the stock scanner tuning.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Timeout:              DefaultScanTimeout,
		MaxFileSize:          DefaultMaxScanFileSize,
		MaxFiles:             DefaultMaxScanFiles,
		ObfuscationThreshold: 5,
		SeverityWeights:      SeverityWeights{Critical: 30, High: 15, Medium: 5, Low: 2},
		RiskThresholds:       RiskThresholds{Critical: 30, High: 50, Medium: 70},
	}
}

// Scanner applies the pattern catalog to plugin packages.
type Scanner struct {
	config ScannerConfig
	logger Logger
}

// NewScanner creates a scanner with the given tuning. Zero-valued
// fields fall back to defaults.
func NewScanner(config ScannerConfig, logger Logger) *Scanner {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	defaults := DefaultScannerConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = defaults.MaxFileSize
	}
	if config.MaxFiles <= 0 {
		config.MaxFiles = defaults.MaxFiles
	}
	if config.ObfuscationThreshold <= 0 {
		config.ObfuscationThreshold = defaults.ObfuscationThreshold
	}
	if config.SeverityWeights == (SeverityWeights{}) {
		config.SeverityWeights = defaults.SeverityWeights
	}
	if config.RiskThresholds == (RiskThresholds{}) {
		config.RiskThresholds = defaults.RiskThresholds
	}
	return &Scanner{config: config, logger: logger}
}

// ScanPlugin walks dir and returns the aggregated result.
//
// The scan runs in a worker goroutine under a deadline; when the
// deadline (or the caller's ctx) expires first, the partial result is
// discarded and a synthetic critical scan_timeout issue is returned
// instead. The error return is reserved for infrastructure failures
// reading the tree; a timed-out scan is a valid (critical) result, not
// an error.
func (s *Scanner) ScanPlugin(ctx context.Context, dir string) (*ScanResult, error) {
	start := timecache.CachedTime()
	scanCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	type walkOutcome struct {
		issues  []SecurityIssue
		scanned int
		err     error
	}
	done := make(chan walkOutcome, 1)
	go func() {
		issues, scanned, err := s.walk(scanCtx, dir)
		done <- walkOutcome{issues: issues, scanned: scanned, err: err}
	}()

	select {
	case outcome := <-done:
		if outcome.err != nil {
			if scanCtx.Err() != nil {
				break // deadline surfaced through the walk
			}
			return nil, outcome.err
		}
		result := s.aggregate(outcome.issues)
		result.FilesScanned = outcome.scanned
		result.Duration = time.Since(start)
		s.logger.Info("security scan complete",
			"dir", dir,
			"files", result.FilesScanned,
			"issues", len(result.Issues),
			"score", result.Score,
			"risk", result.RiskLevel)
		return result, nil
	case <-scanCtx.Done():
	}

	s.logger.Warn("security scan timed out, failing closed", "dir", dir, "timeout", s.config.Timeout)
	return &ScanResult{
		RiskLevel: RiskCritical,
		Score:     0,
		TimedOut:  true,
		Duration:  time.Since(start),
		Issues: []SecurityIssue{{
			Type:        IssueScanTimeout,
			Severity:    SeverityCritical,
			Evidence:    fmt.Sprintf("scan exceeded %s", s.config.Timeout),
			Remediation: "reduce package size or raise the scan timeout after review",
		}},
	}, nil
}

// walk visits every file under dir, applying size limits, skip lists
// and the pattern catalog.
func (s *Scanner) walk(ctx context.Context, dir string) ([]SecurityIssue, int, error) {
	var issues []SecurityIssue
	scanned := 0

	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			if skipDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		if !s.config.IncludeTests && isTestFile(rel) {
			return nil
		}

		scanned++
		if s.config.MaxFiles > 0 && scanned > s.config.MaxFiles {
			issues = append(issues, SecurityIssue{
				Type:        IssueManifestHeuristic,
				Severity:    SeverityMedium,
				Evidence:    fmt.Sprintf("package exceeds %d files, scan truncated", s.config.MaxFiles),
				Remediation: "ship only the files the plugin needs at runtime",
			})
			return filepath.SkipAll
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return infoErr
		}
		if info.Size() > s.config.MaxFileSize {
			issues = append(issues, SecurityIssue{
				Type:        IssueManifestHeuristic,
				Severity:    SeverityMedium,
				File:        rel,
				Evidence:    fmt.Sprintf("file is %d bytes, content scan skipped", info.Size()),
				Remediation: "large binary blobs should not ship inside a plugin package",
			})
			return nil
		}
		if !textExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		issues = append(issues, s.scanContent(rel, content)...)
		if filepath.Base(rel) == "package.json" {
			issues = append(issues, s.scanDependencyManifest(rel, content)...)
		}
		return nil
	})
	if err != nil {
		return nil, scanned, NewScanFailedError(dir, err)
	}
	return issues, scanned, nil
}

// scanContent applies the content catalog, signature search and
// obfuscation heuristic to one file.
func (s *Scanner) scanContent(rel string, content []byte) []SecurityIssue {
	var issues []SecurityIssue

	for _, signature := range maliciousSignatures {
		if bytes.Contains(content, signature) {
			issues = append(issues, SecurityIssue{
				Type:        IssueMaliciousSignature,
				Severity:    issueSeverity[IssueMaliciousSignature],
				File:        rel,
				Evidence:    "known malicious byte signature",
				Remediation: "this package matches a known attack payload and must not be installed",
			})
		}
	}

	lines := strings.Split(string(content), "\n")
	for lineNo, line := range lines {
		for _, group := range contentPatterns {
			for _, pattern := range group.patterns {
				match := pattern.FindString(line)
				if match == "" {
					continue
				}
				issues = append(issues, SecurityIssue{
					Type:        group.issueType,
					Severity:    issueSeverity[group.issueType],
					File:        rel,
					Line:        lineNo + 1,
					Evidence:    truncateEvidence(match),
					Remediation: group.remediation,
				})
				break // one issue per group per line
			}
		}
	}

	encoded := 0
	for _, pattern := range obfuscationPatterns {
		encoded += len(pattern.FindAll(content, -1))
	}
	if encoded > s.config.ObfuscationThreshold {
		issues = append(issues, SecurityIssue{
			Type:        IssueObfuscation,
			Severity:    issueSeverity[IssueObfuscation],
			File:        rel,
			Evidence:    fmt.Sprintf("%d encoded-content patterns", encoded),
			Remediation: "ship readable source; heavy encoding defeats review",
		})
	}
	return issues
}

// scanDependencyManifest cross-checks a package.json-style dependency
// manifest against the advisory vulnerable-package list.
func (s *Scanner) scanDependencyManifest(rel string, content []byte) []SecurityIssue {
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(content, &manifest); err != nil {
		return nil // advisory check only; malformed manifests are someone else's problem
	}

	var issues []SecurityIssue
	check := func(deps map[string]string) {
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			reason, bad := vulnerablePackages[name]
			if !bad {
				continue
			}
			issues = append(issues, SecurityIssue{
				Type:        IssueVulnerablePackage,
				Severity:    issueSeverity[IssueVulnerablePackage],
				File:        rel,
				Evidence:    name + ": " + reason,
				Remediation: "pin a reviewed version or replace the package",
			})
		}
	}
	check(manifest.Dependencies)
	check(manifest.DevDependencies)
	return issues
}

// aggregate turns a finding list into score and risk level. Score
// starts at 100 and each issue deducts its severity weight, floored at
// zero. Risk is the MAXIMUM of the severity-derived level and the
// score-band level; escalation is monotonic, never averaged down.
func (s *Scanner) aggregate(issues []SecurityIssue) *ScanResult {
	score := 100
	var maxSeverity Severity
	for _, issue := range issues {
		if issue.Severity.rank() > maxSeverity.rank() {
			maxSeverity = issue.Severity
		}
		switch issue.Severity {
		case SeverityCritical:
			score -= s.config.SeverityWeights.Critical
		case SeverityHigh:
			score -= s.config.SeverityWeights.High
		case SeverityMedium:
			score -= s.config.SeverityWeights.Medium
		case SeverityLow:
			score -= s.config.SeverityWeights.Low
		}
	}
	if score < 0 {
		score = 0
	}

	risk := RiskLow
	switch maxSeverity {
	case SeverityCritical:
		risk = RiskCritical
	case SeverityHigh:
		risk = RiskHigh
	}

	switch {
	case score < s.config.RiskThresholds.Critical:
		risk = maxRisk(risk, RiskCritical)
	case score < s.config.RiskThresholds.High:
		risk = maxRisk(risk, RiskHigh)
	case score < s.config.RiskThresholds.Medium:
		risk = maxRisk(risk, RiskMedium)
	}

	return &ScanResult{RiskLevel: risk, Score: score, Issues: issues}
}

// QuickCheck is a manifest-only pre-screen with no file I/O. It is
// deliberately coarser than ScanPlugin and never replaces it.
func (s *Scanner) QuickCheck(manifest *PluginManifest) []SecurityIssue {
	var issues []SecurityIssue

	if len(manifest.Permissions) > 8 {
		issues = append(issues, SecurityIssue{
			Type:        IssueManifestHeuristic,
			Severity:    SeverityMedium,
			Evidence:    fmt.Sprintf("%d permissions requested", len(manifest.Permissions)),
			Remediation: "request only the permissions the plugin actually uses",
		})
	}
	for _, perm := range manifest.Permissions {
		if highRiskPermissions[perm] {
			issues = append(issues, SecurityIssue{
				Type:        IssueManifestHeuristic,
				Severity:    SeverityMedium,
				Evidence:    "high-risk permission " + perm,
				Remediation: "high-risk permissions require manual review",
			})
		}
	}
	for _, route := range manifest.Routes {
		if strings.Contains(route.Path, "..") || strings.Contains(route.Path, "%") {
			issues = append(issues, SecurityIssue{
				Type:        IssueManifestHeuristic,
				Severity:    SeverityMedium,
				Evidence:    "suspicious route path " + route.Path,
				Remediation: "route paths must be literal and absolute",
			})
		}
	}
	if len(manifest.Dependencies.Plugins) > 10 {
		issues = append(issues, SecurityIssue{
			Type:        IssueManifestHeuristic,
			Severity:    SeverityMedium,
			Evidence:    fmt.Sprintf("%d plugin dependencies declared", len(manifest.Dependencies.Plugins)),
			Remediation: "deep dependency chains are hard to audit; flatten them",
		})
	}
	if manifest.Sandbox != nil && manifest.Sandbox.Disabled {
		issues = append(issues, SecurityIssue{
			Type:        IssueManifestHeuristic,
			Severity:    SeverityMedium,
			Evidence:    "manifest requests sandbox disable",
			Remediation: "sandbox opt-out requires explicit administrator approval",
		})
	}
	return issues
}

func isTestFile(rel string) bool {
	for _, pattern := range testFilePatterns {
		if pattern.MatchString(rel) {
			return true
		}
	}
	return false
}

func truncateEvidence(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
