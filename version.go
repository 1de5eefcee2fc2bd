// version.go: Permissive semantic version parsing and range matching
//
// Plugin manifests declare dependency requirements as single-range
// expressions against strict x.y.z versions. Because both sides of a
// comparison ultimately come from untrusted plugin packages, parsing here
// is permissive and never fails: a missing or malformed component is
// treated as zero. Range composition (AND/OR) is not supported.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed major.minor.patch triple.
//
// Original preserves the input string for diagnostics. Components that
// could not be parsed are zero; Version values therefore always compare
// cleanly and Parse never reports an error.
type Version struct {
	Major    int    `json:"major"`
	Minor    int    `json:"minor"`
	Patch    int    `json:"patch"`
	Original string `json:"original"`
}

// ParseVersion parses a version string permissively.
//
// Each dot-separated component is parsed as a non-negative integer;
// missing, extra or malformed components degrade to zero rather than
// producing an error. "1.2" parses as 1.2.0, "abc" as 0.0.0.
func ParseVersion(s string) Version {
	v := Version{Original: s}
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)

	comps := [3]int{}
	for i := 0; i < len(parts) && i < 3; i++ {
		comps[i] = parseComponent(parts[i])
	}

	v.Major, v.Minor, v.Patch = comps[0], comps[1], comps[2]
	return v
}

// parseComponent parses one version component, degrading to 0 on any
// malformed or negative input.
func parseComponent(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// String returns the canonical x.y.z rendering of the parsed triple.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare compares two versions component-wise. Returns -1 if v < other,
// 0 if equal, 1 if v > other.
func (v Version) Compare(other Version) int {
	if c := compareInt(v.Major, other.Major); c != 0 {
		return c
	}
	if c := compareInt(v.Minor, other.Minor); c != 0 {
		return c
	}
	return compareInt(v.Patch, other.Patch)
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompareVersions compares two version strings after permissive parsing.
func CompareVersions(a, b string) int {
	return ParseVersion(a).Compare(ParseVersion(b))
}

// Satisfies reports whether an installed version satisfies a single-range
// expression.
//
// Recognized range forms, checked in this order:
//
//	">=x.y.z"  numeric comparison of the full triple
//	">x.y.z"
//	"<=x.y.z"
//	"<x.y.z"
//	"^x.y.z"   same major, installed >= required
//	"~x.y.z"   same major and minor, installed >= required
//	"x.y.z"    exact equality of all three components
//
// Malformed expressions degrade through permissive parsing rather than
// erroring; "*" and the empty range accept any version.
func Satisfies(installed, rangeExpr string) bool {
	rangeExpr = strings.TrimSpace(rangeExpr)
	if rangeExpr == "" || rangeExpr == "*" {
		return true
	}

	have := ParseVersion(installed)

	switch {
	case strings.HasPrefix(rangeExpr, ">="):
		return have.Compare(ParseVersion(rangeExpr[2:])) >= 0
	case strings.HasPrefix(rangeExpr, ">"):
		return have.Compare(ParseVersion(rangeExpr[1:])) > 0
	case strings.HasPrefix(rangeExpr, "<="):
		return have.Compare(ParseVersion(rangeExpr[2:])) <= 0
	case strings.HasPrefix(rangeExpr, "<"):
		return have.Compare(ParseVersion(rangeExpr[1:])) < 0
	case strings.HasPrefix(rangeExpr, "^"):
		want := ParseVersion(rangeExpr[1:])
		return have.Major == want.Major && have.Compare(want) >= 0
	case strings.HasPrefix(rangeExpr, "~"):
		want := ParseVersion(rangeExpr[1:])
		return have.Major == want.Major && have.Minor == want.Minor && have.Compare(want) >= 0
	default:
		want := ParseVersion(rangeExpr)
		return have.Compare(want) == 0
	}
}
