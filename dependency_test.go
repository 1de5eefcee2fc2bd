// dependency_test.go: Tests for dependency checking and install ordering
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest(id, version string, deps map[string]string) *PluginManifest {
	return &PluginManifest{
		ID:           id,
		Name:         id,
		Version:      version,
		Dependencies: DependencySpec{Plugins: deps},
	}
}

func seedPlugin(t *testing.T, store Store, manifest *PluginManifest, active bool) {
	t.Helper()
	err := store.Create(context.Background(), &InstalledPlugin{
		PluginID:     manifest.ID,
		Status:       StatusInstalled,
		IsActive:     active,
		Manifest:     *manifest,
		Routes:       manifest.Routes,
		Dependencies: manifest.Dependencies.Plugins,
	})
	require.NoError(t, err)
}

func TestCheckDependencies_MissingAndInactive(t *testing.T) {
	store := NewMemoryStore()
	resolver := NewResolver(store, NewTestLogger())
	ctx := context.Background()

	seedPlugin(t, store, testManifest("p", "1.0.0", nil), false) // installed, inactive

	candidate := testManifest("q", "1.0.0", map[string]string{
		"p":      "^1.0.0",
		"absent": ">=2.0.0",
	})

	report, err := resolver.CheckDependencies(ctx, candidate)
	require.NoError(t, err)
	assert.False(t, report.Satisfied)
	require.Len(t, report.Missing, 2)

	// Missing entries are sorted by plugin id.
	assert.Equal(t, "absent", report.Missing[0].PluginID)
	assert.Equal(t, "not_installed", report.Missing[0].Reason)
	assert.Equal(t, "p", report.Missing[1].PluginID)
	assert.Equal(t, "inactive", report.Missing[1].Reason)
	assert.NotEmpty(t, report.Suggestions)
}

func TestCheckDependencies_VersionMismatch(t *testing.T) {
	store := NewMemoryStore()
	resolver := NewResolver(store, NewTestLogger())

	seedPlugin(t, store, testManifest("p", "1.1.0", nil), true)

	report, err := resolver.CheckDependencies(context.Background(),
		testManifest("q", "1.0.0", map[string]string{"p": "^2.0.0"}))
	require.NoError(t, err)
	assert.False(t, report.Satisfied)
	require.Len(t, report.Missing, 1)
	assert.Equal(t, "version_mismatch", report.Missing[0].Reason)
	assert.Equal(t, "1.1.0", report.Missing[0].Installed)
}

func TestCheckDependencies_SatisfiedByActiveDependency(t *testing.T) {
	store := NewMemoryStore()
	resolver := NewResolver(store, NewTestLogger())

	seedPlugin(t, store, testManifest("p", "1.4.2", nil), true)

	report, err := resolver.CheckDependencies(context.Background(),
		testManifest("q", "1.0.0", map[string]string{"p": "^1.2.0"}))
	require.NoError(t, err)
	assert.True(t, report.Satisfied)
	assert.Empty(t, report.Missing)
	assert.Empty(t, report.Conflicts)
}

func TestCheckDependencies_ConflictsAgainstActiveOnly(t *testing.T) {
	store := NewMemoryStore()
	resolver := NewResolver(store, NewTestLogger())

	route := RouteSpec{Path: "/shop/checkout", Method: "POST", Handler: "checkout.js"}
	activeManifest := testManifest("active-shop", "1.0.0", nil)
	activeManifest.Routes = []RouteSpec{route}
	seedPlugin(t, store, activeManifest, true)

	inactiveManifest := testManifest("inactive-shop", "1.0.0", nil)
	inactiveManifest.Routes = []RouteSpec{route}
	seedPlugin(t, store, inactiveManifest, false)

	candidate := testManifest("new-shop", "1.0.0", nil)
	candidate.Routes = []RouteSpec{route}

	report, err := resolver.CheckDependencies(context.Background(), candidate)
	require.NoError(t, err)
	assert.False(t, report.Satisfied)

	// Only the ACTIVE plugin's route collides; the inactive plugin is
	// not flagged until it activates.
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, "active-shop", report.Conflicts[0].PluginID)
	assert.Equal(t, "route", report.Conflicts[0].Kind)
}

func TestCheckDependencies_ExplicitIncompatibilityBothDirections(t *testing.T) {
	store := NewMemoryStore()
	resolver := NewResolver(store, NewTestLogger())

	hostile := testManifest("legacy-auth", "1.0.0", nil)
	hostile.Compatibility.Plugins = []string{"new-auth"}
	seedPlugin(t, store, hostile, true)

	report, err := resolver.CheckDependencies(context.Background(),
		testManifest("new-auth", "1.0.0", nil))
	require.NoError(t, err)
	assert.False(t, report.Satisfied)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, "incompatible", report.Conflicts[0].Kind)
}

func TestCheckDependencies_CycleDetected(t *testing.T) {
	store := NewMemoryStore()
	resolver := NewResolver(store, NewTestLogger())

	// a -> b -> c -> a
	seedPlugin(t, store, testManifest("b", "1.0.0", map[string]string{"c": "^1.0.0"}), true)
	seedPlugin(t, store, testManifest("c", "1.0.0", map[string]string{"a": "^1.0.0"}), true)
	seedPlugin(t, store, testManifest("a", "1.0.0", map[string]string{"b": "^1.0.0"}), true)

	report, err := resolver.CheckDependencies(context.Background(),
		testManifest("a", "1.0.0", map[string]string{"b": "^1.0.0"}))
	require.NoError(t, err)
	assert.False(t, report.Satisfied)
	require.NotNil(t, report.Cycle)
	assert.Contains(t, report.Cycle, "a")
	assert.Contains(t, report.Cycle, "b")
	assert.Contains(t, report.Cycle, "c")

	cycleSuggested := false
	for _, s := range report.Suggestions {
		if strings.Contains(s, "cycle") {
			cycleSuggested = true
		}
	}
	assert.True(t, cycleSuggested, "expected a cycle-related suggestion, got %v", report.Suggestions)
}

func TestResolveDependencies_SimpleChain(t *testing.T) {
	resolver := NewResolver(NewMemoryStore(), NewTestLogger())

	plan, err := resolver.ResolveDependencies([]*PluginManifest{
		testManifest("app", "1.0.0", map[string]string{"lib": "^1.0.0"}),
		testManifest("lib", "1.0.0", map[string]string{"base": "^1.0.0"}),
		testManifest("base", "1.0.0", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "lib", "app"}, plan.InstallOrder)
	assert.Equal(t, []string{"app", "lib", "base"}, plan.ActivationOrder)
	assert.Empty(t, plan.Warnings)
}

func TestResolveDependencies_OutsideSetWarns(t *testing.T) {
	resolver := NewResolver(NewMemoryStore(), NewTestLogger())

	plan, err := resolver.ResolveDependencies([]*PluginManifest{
		testManifest("app", "1.0.0", map[string]string{"external": "^1.0.0"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, plan.InstallOrder)
	require.Len(t, plan.Warnings, 1)
	assert.Contains(t, plan.Warnings[0], "external")
}

func TestResolveDependencies_CycleFailsLoudly(t *testing.T) {
	resolver := NewResolver(NewMemoryStore(), NewTestLogger())

	plan, err := resolver.ResolveDependencies([]*PluginManifest{
		testManifest("a", "1.0.0", map[string]string{"b": "^1.0.0"}),
		testManifest("b", "1.0.0", map[string]string{"c": "^1.0.0"}),
		testManifest("c", "1.0.0", map[string]string{"a": "^1.0.0"}),
	})
	require.Error(t, err)
	assert.Nil(t, plan, "a cyclic set must not yield a truncated order")
}

// Topological validity over randomly generated acyclic graphs: every
// plugin appears after all of its dependencies. Order among independent
// plugins is unspecified and deliberately not asserted.
func TestResolveDependencies_RandomAcyclicGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 20; trial++ {
		n := 10 + rng.Intn(41) // up to ~50 nodes
		manifests := make([]*PluginManifest, n)
		for i := 0; i < n; i++ {
			deps := map[string]string{}
			// Edges only point to lower indices, guaranteeing acyclicity.
			for j := 0; j < i; j++ {
				if rng.Intn(5) == 0 {
					deps[fmt.Sprintf("plugin-%03d", j)] = "^1.0.0"
				}
			}
			manifests[i] = testManifest(fmt.Sprintf("plugin-%03d", i), "1.0.0", deps)
		}

		plan, err := resolverForTest(t).ResolveDependencies(manifests)
		require.NoError(t, err, "trial %d", trial)
		require.Len(t, plan.InstallOrder, n)

		position := make(map[string]int, n)
		for idx, id := range plan.InstallOrder {
			position[id] = idx
		}
		for _, m := range manifests {
			for depID := range m.Dependencies.Plugins {
				assert.Less(t, position[depID], position[m.ID],
					"trial %d: %s must install after %s", trial, m.ID, depID)
			}
		}

		// Activation order is the exact reverse.
		for i, id := range plan.ActivationOrder {
			assert.Equal(t, plan.InstallOrder[n-1-i], id)
		}
	}
}

func resolverForTest(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(NewMemoryStore(), NewTestLogger())
}
