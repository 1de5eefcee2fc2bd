// scanner_patterns.go: Static pattern catalog for the security scanner
//
// The catalog is a fixed set of regex groups, each tagged with an issue
// type and a severity. Severities are fixed per issue type; tuning
// happens through the scanner's score weights, not here.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"encoding/base64"
	"regexp"
)

// SecurityIssueType identifies a class of scanner finding.
type SecurityIssueType string

const (
	IssueCodeInjection      SecurityIssueType = "code_injection"
	IssueCommandInjection   SecurityIssueType = "command_injection"
	IssuePathTraversal      SecurityIssueType = "path_traversal"
	IssueXSS                SecurityIssueType = "xss"
	IssueSQLInjection       SecurityIssueType = "sql_injection"
	IssueFileInclusion      SecurityIssueType = "file_inclusion"
	IssueHardcodedSecret    SecurityIssueType = "hardcoded_secret"
	IssueWeakCrypto         SecurityIssueType = "weak_crypto"
	IssuePrototypePollution SecurityIssueType = "prototype_pollution"
	IssueUnsafeFileOp       SecurityIssueType = "unsafe_file_op"
	IssueSuspiciousNetwork  SecurityIssueType = "suspicious_network"
	IssueInsecureRandom     SecurityIssueType = "insecure_random"
	IssueObfuscation        SecurityIssueType = "obfuscation"
	IssueMaliciousSignature SecurityIssueType = "malicious_signature"
	IssueVulnerablePackage  SecurityIssueType = "vulnerable_package"
	IssueScanTimeout        SecurityIssueType = "scan_timeout"
	IssueManifestHeuristic  SecurityIssueType = "manifest_heuristic"
)

// patternGroup couples one issue type with the regexes that detect it
// and a remediation hint attached to every resulting issue.
type patternGroup struct {
	issueType   SecurityIssueType
	patterns    []*regexp.Regexp
	remediation string
}

// issueSeverity fixes the severity for each issue type. Critical for
// anything that executes attacker-controlled input, high for content
// and filesystem injection, medium for hygiene findings, low for weak
// randomness.
var issueSeverity = map[SecurityIssueType]Severity{
	IssueCodeInjection:      SeverityCritical,
	IssueCommandInjection:   SeverityCritical,
	IssueMaliciousSignature: SeverityCritical,
	IssuePathTraversal:      SeverityHigh,
	IssueXSS:                SeverityHigh,
	IssueSQLInjection:       SeverityHigh,
	IssueFileInclusion:      SeverityHigh,
	IssueScanTimeout:        SeverityCritical,
	IssueHardcodedSecret:    SeverityMedium,
	IssueWeakCrypto:         SeverityMedium,
	IssuePrototypePollution: SeverityMedium,
	IssueUnsafeFileOp:       SeverityMedium,
	IssueSuspiciousNetwork:  SeverityMedium,
	IssueVulnerablePackage:  SeverityMedium,
	IssueManifestHeuristic:  SeverityMedium,
	IssueInsecureRandom:     SeverityLow,
	IssueObfuscation:        SeverityMedium,
}

// contentPatterns is the per-line pattern catalog applied to every
// text-like file.
var contentPatterns = []patternGroup{
	{
		issueType: IssueCodeInjection,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\beval\s*\(`),
			regexp.MustCompile(`new\s+Function\s*\(`),
			regexp.MustCompile(`\bsetTimeout\s*\(\s*["'` + "`" + `]`),
			regexp.MustCompile(`\bsetInterval\s*\(\s*["'` + "`" + `]`),
			regexp.MustCompile(`\bvm\.(runInContext|runInNewContext|runInThisContext)\s*\(`),
		},
		remediation: "never evaluate dynamically constructed code; use data-driven dispatch instead",
	},
	{
		issueType: IssueCommandInjection,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bchild_process\b`),
			regexp.MustCompile(`\b(exec|execSync|spawn|spawnSync|execFile)\s*\(`),
			regexp.MustCompile(`\bos\.system\s*\(`),
			regexp.MustCompile(`\bsubprocess\.(call|run|Popen)\s*\(`),
		},
		remediation: "plugins must not spawn processes; request a host capability instead",
	},
	{
		issueType: IssuePathTraversal,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\.\./\.\./`),
			regexp.MustCompile(`\.\.\\\.\.\\`),
			regexp.MustCompile(`(readFile|writeFile|createReadStream|open)\s*\([^)]*\.\.[/\\]`),
			regexp.MustCompile(`%2e%2e[/\\%]`),
		},
		remediation: "resolve and validate paths against the plugin's own directory before use",
	},
	{
		issueType: IssueXSS,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\.innerHTML\s*=`),
			regexp.MustCompile(`\.outerHTML\s*=`),
			regexp.MustCompile(`document\.write\s*\(`),
			regexp.MustCompile(`dangerouslySetInnerHTML`),
			regexp.MustCompile(`v-html\s*=`),
		},
		remediation: "render untrusted content through escaping APIs, not raw HTML sinks",
	},
	{
		issueType: IssueSQLInjection,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(select|insert|update|delete)\s+.*\+\s*(req\.|request\.|params|query|body)`),
			regexp.MustCompile("(?i)query\\s*\\(\\s*[`\"'].*\\$\\{"),
			regexp.MustCompile(`\$where\s*:`),
			regexp.MustCompile(`(?i)execute\s*\(\s*f?["'].*%s`),
		},
		remediation: "use parameterized queries; never interpolate request data into query text",
	},
	{
		issueType: IssueFileInclusion,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`require\s*\(\s*(req\.|request\.|params|query|body)`),
			regexp.MustCompile(`import\s*\(\s*(req\.|request\.|params|query|body)`),
			regexp.MustCompile(`include\s*\(\s*\$_(GET|POST|REQUEST)`),
		},
		remediation: "module paths must be static; dynamic inclusion of request data is remote code execution",
	},
	{
		issueType: IssueHardcodedSecret,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token)\s*[:=]\s*["'][A-Za-z0-9+/_-]{16,}["']`),
			regexp.MustCompile(`(?i)password\s*[:=]\s*["'][^"']{6,}["']`),
			regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
			regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]`),
		},
		remediation: "move credentials into plugin settings; never embed them in source",
	},
	{
		issueType: IssueWeakCrypto,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)createHash\s*\(\s*["'](md5|sha1)["']`),
			regexp.MustCompile(`(?i)\b(md5|sha1)\s*\(`),
			regexp.MustCompile(`(?i)createCipheriv?\s*\(\s*["'](des|rc4|des-ede3)`),
		},
		remediation: "use SHA-256 or stronger for hashing and AES-GCM for encryption",
	},
	{
		issueType: IssuePrototypePollution,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`__proto__`),
			regexp.MustCompile(`constructor\s*\[\s*["']prototype["']\s*\]`),
			regexp.MustCompile(`Object\.prototype\s*\[`),
		},
		remediation: "guard merge/assign helpers against __proto__ and constructor keys",
	},
	{
		issueType: IssueUnsafeFileOp,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(rmdir|unlink|rm)\s*\(\s*["']?/`),
			regexp.MustCompile(`(?i)chmod\s*\(\s*[^,]+,\s*0?777`),
			regexp.MustCompile(`fs\.(rmSync|rmdirSync)\s*\([^)]*recursive`),
		},
		remediation: "restrict filesystem writes to the plugin's own data directory",
	},
	{
		issueType: IssueSuspiciousNetwork,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`),
			regexp.MustCompile(`(?i)https?://[a-z0-9.-]+\.(tk|ml|ga|cf|gq)\b`),
			regexp.MustCompile(`(?i)(bitcoin|monero|crypto)[-_]?(miner|mining)`),
		},
		remediation: "declare outbound endpoints in the manifest; raw IP and throwaway domains are refused",
	},
	{
		issueType: IssueInsecureRandom,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`Math\.random\s*\(\s*\)`),
			regexp.MustCompile(`\brandom\.randint\s*\(`),
		},
		remediation: "use a cryptographic random source for anything security sensitive",
	},
}

// obfuscationPatterns are counted per file; a file is flagged only past
// the scanner's ObfuscationThreshold, so legitimately encoded short
// strings don't trip it.
var obfuscationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\\x[0-9a-fA-F]{2}(\\x[0-9a-fA-F]{2}){3,}`),
	regexp.MustCompile(`\\u[0-9a-fA-F]{4}(\\u[0-9a-fA-F]{4}){3,}`),
	regexp.MustCompile(`[A-Za-z0-9+/]{120,}={0,2}`),
	regexp.MustCompile(`String\.fromCharCode\s*\(\s*\d+\s*(,\s*\d+\s*){5,}\)`),
	regexp.MustCompile(`atob\s*\(`),
}

// maliciousSignatures are byte sequences matched by plain substring
// search, independent of the regex pass. Stored base64-encoded so this
// file does not itself trip scanners.
var maliciousSignatures = func() [][]byte {
	encoded := []string{
		"cmV2ZXJzZV9zaGVsbA==",                     // reverse_shell
		"L2Rldi90Y3Av",                             // /dev/tcp/
		"bmMgLWUgL2Jpbi9zaA==",                     // nc -e /bin/sh
		"Y3VybCAuKiB8IHNo",                         // curl pipe to sh
		"ZXZhbChiYXNlNjRfZGVjb2Rl",                 // eval(base64_decode
		"ZG9jdW1lbnQuY29va2llLmVuY29kZVVSSQ==",     // cookie exfiltration
		"d2dldCAuKiAtTyAuKiAmJiBjaG1vZCAreA==",     // wget && chmod +x
		"cHJvY2Vzcy5lbnZbIkFXU19TRUNSRVRfQUNDRVNT", // env secret harvest
	}
	signatures := make([][]byte, 0, len(encoded))
	for _, e := range encoded {
		decoded, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			continue
		}
		signatures = append(signatures, decoded)
	}
	return signatures
}()

// vulnerablePackages is a short advisory list of historically
// compromised or vulnerable package names cross-checked against a
// plugin's declared third-party dependencies. Best-effort; not a CVE
// database.
var vulnerablePackages = map[string]string{
	"event-stream":   "3.3.6 shipped a credential-stealing payload",
	"flatmap-stream": "malicious dependency injected via event-stream",
	"ua-parser-js":   "compromised releases delivered cryptominers",
	"coa":            "compromised release executed arbitrary code on install",
	"rc":             "compromised release executed arbitrary code on install",
	"node-ipc":       "shipped a destructive protestware payload",
	"colors":         "intentionally sabotaged release loops forever",
	"faker":          "intentionally sabotaged release wiped functionality",
	"left-pad":       "unpinned dependency caused a supply-chain outage",
	"eslint-scope":   "compromised release exfiltrated npm credentials",
}

// textExtensions is the content-scan allow-list. Anything else still
// counts toward size limits but is not pattern-matched.
var textExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".mjs": true, ".cjs": true, ".vue": true, ".svelte": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".html": true, ".htm": true, ".css": true, ".scss": true,
	".md": true, ".txt": true, ".sql": true, ".sh": true,
	".py": true, ".rb": true, ".php": true, ".env": true,
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".svn":         true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"coverage":     true,
	"__pycache__":  true,
}

// testFilePatterns identify test files, skipped unless IncludeTests.
var testFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.test\.[jt]sx?$`),
	regexp.MustCompile(`\.spec\.[jt]sx?$`),
	regexp.MustCompile(`(^|/)__tests__/`),
	regexp.MustCompile(`(^|/)tests?/`),
	regexp.MustCompile(`_test\.(js|ts|py)$`),
}

// highRiskPermissions trip the manifest quick check on their own.
var highRiskPermissions = map[string]bool{
	"filesystem:write":  true,
	"filesystem:delete": true,
	"process:spawn":     true,
	"network:raw":       true,
	"database:admin":    true,
	"users:impersonate": true,
	"system:exec":       true,
}
