// dependency.go: Dependency checking, conflict detection and install ordering
//
// The resolver answers two questions: "can THIS plugin activate right
// now?" (CheckDependencies, against the store's installed state) and
// "in what order do I install THIS SET of plugins?" (ResolveDependencies,
// a topological sort over the set's declared dependency edges).
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"fmt"
	"sort"
)

// MissingDependency describes one unsatisfied dependency requirement.
type MissingDependency struct {
	PluginID string `json:"plugin_id"`
	Required string `json:"required"`
	// Installed is the version found, empty when the plugin is absent.
	Installed string `json:"installed,omitempty"`
	// Reason is one of "not_installed", "inactive", "version_mismatch".
	Reason string `json:"reason"`
}

// PluginConflict describes one conflict between the candidate plugin and
// an active plugin.
type PluginConflict struct {
	PluginID string `json:"plugin_id"`
	// Kind is one of "incompatible", "route", "collection".
	Kind     string `json:"kind"`
	Resource string `json:"resource,omitempty"`
}

// DependencyReport is the full outcome of a dependency check.
type DependencyReport struct {
	Satisfied bool                `json:"satisfied"`
	Missing   []MissingDependency `json:"missing,omitempty"`
	Conflicts []PluginConflict    `json:"conflicts,omitempty"`
	// Cycle holds the dependency loop when one is reachable from the
	// candidate, nil otherwise. A cycle is reported, never resolved.
	Cycle []string `json:"cycle,omitempty"`
	// Suggestions are human-readable remediation hints, one per finding.
	Suggestions []string `json:"suggestions,omitempty"`
	// Tree maps each reachable dependency to its own dependency ids.
	Tree map[string][]string `json:"tree,omitempty"`
}

// ResolutionPlan is the outcome of ordering a set of plugins.
type ResolutionPlan struct {
	// InstallOrder lists plugin ids so that every plugin appears after
	// its dependencies.
	InstallOrder []string `json:"install_order"`
	// ActivationOrder is InstallOrder reversed; teardown of a set is the
	// reverse of its activation.
	ActivationOrder []string `json:"activation_order"`
	// Warnings lists dependencies pointing outside the resolved set;
	// those must already be installed for the plan to succeed.
	Warnings []string `json:"warnings,omitempty"`
}

// Resolver checks dependency satisfaction and computes install orderings
// against the plugin store.
type Resolver struct {
	store  Store
	logger Logger
}

// NewResolver creates a resolver bound to the given store.
func NewResolver(store Store, logger Logger) *Resolver {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &Resolver{store: store, logger: logger}
}

// CheckDependencies verifies the manifest's requirements against the
// current installed state.
//
// A requirement is satisfied only by an INSTALLED, ACTIVE plugin whose
// version satisfies the declared range. Conflicts are evaluated against
// active plugins only: explicit incompatibility declarations (in either
// direction), route collisions (on path, irrespective of method) and
// database collection collisions. The report also carries the transitive dependency tree,
// built with a visited set so shared subtrees are expanded once.
func (r *Resolver) CheckDependencies(ctx context.Context, manifest *PluginManifest) (*DependencyReport, error) {
	report := &DependencyReport{Satisfied: true, Tree: make(map[string][]string)}

	active, err := r.store.FindActivePlugins(ctx)
	if err != nil {
		return nil, NewStoreFailureError("find active plugins", err)
	}
	activeByID := make(map[string]*InstalledPlugin, len(active))
	for _, p := range active {
		activeByID[p.PluginID] = p
	}

	for depID, required := range manifest.Dependencies.Plugins {
		installed, err := r.store.FindByPluginID(ctx, depID)
		if err != nil {
			return nil, NewStoreFailureError("find dependency "+depID, err)
		}
		switch {
		case installed == nil:
			report.Missing = append(report.Missing, MissingDependency{
				PluginID: depID, Required: required, Reason: "not_installed",
			})
		case !installed.IsActive:
			report.Missing = append(report.Missing, MissingDependency{
				PluginID: depID, Required: required,
				Installed: installed.Manifest.Version, Reason: "inactive",
			})
		case !Satisfies(installed.Manifest.Version, required):
			report.Missing = append(report.Missing, MissingDependency{
				PluginID: depID, Required: required,
				Installed: installed.Manifest.Version, Reason: "version_mismatch",
			})
		}
	}

	report.Conflicts = r.findConflicts(manifest, active)

	if err := r.buildTree(ctx, manifest.ID, manifest.Dependencies.Plugins, report.Tree, map[string]bool{manifest.ID: true}); err != nil {
		return nil, err
	}
	report.Cycle = findTreeCycle(manifest.ID, report.Tree)

	sort.Slice(report.Missing, func(i, j int) bool {
		return report.Missing[i].PluginID < report.Missing[j].PluginID
	})
	for _, m := range report.Missing {
		switch m.Reason {
		case "not_installed":
			report.Suggestions = append(report.Suggestions, fmt.Sprintf("install %s %s before activating %s", m.PluginID, m.Required, manifest.ID))
		case "inactive":
			report.Suggestions = append(report.Suggestions, fmt.Sprintf("activate %s (installed at %s) before activating %s", m.PluginID, m.Installed, manifest.ID))
		case "version_mismatch":
			report.Suggestions = append(report.Suggestions, fmt.Sprintf("update %s from %s to a version satisfying %s", m.PluginID, m.Installed, m.Required))
		}
	}
	for _, c := range report.Conflicts {
		switch c.Kind {
		case "incompatible":
			report.Suggestions = append(report.Suggestions, fmt.Sprintf("deactivate %s: it is declared incompatible with %s", c.PluginID, manifest.ID))
		default:
			report.Suggestions = append(report.Suggestions, fmt.Sprintf("resolve %s conflict with %s over %q", c.Kind, c.PluginID, c.Resource))
		}
	}
	if report.Cycle != nil {
		report.Suggestions = append(report.Suggestions, fmt.Sprintf(
			"break the dependency cycle %v: a circular dependency can never be installed", report.Cycle))
	}

	report.Satisfied = len(report.Missing) == 0 && len(report.Conflicts) == 0 && report.Cycle == nil
	return report, nil
}

// findConflicts collects incompatibilities and resource collisions
// between the candidate manifest and the active plugin set.
func (r *Resolver) findConflicts(manifest *PluginManifest, active []*InstalledPlugin) []PluginConflict {
	var conflicts []PluginConflict

	declaredIncompatible := make(map[string]bool, len(manifest.Compatibility.Plugins))
	for _, id := range manifest.Compatibility.Plugins {
		declaredIncompatible[id] = true
	}

	routes := make(map[string]bool, len(manifest.Routes))
	for _, route := range manifest.Routes {
		routes[route.Path] = true
	}
	collections := make(map[string]bool)
	for _, name := range manifest.DeclaredCollections() {
		collections[name] = true
	}

	for _, other := range active {
		if other.PluginID == manifest.ID {
			continue
		}
		incompatible := declaredIncompatible[other.PluginID]
		for _, id := range other.Manifest.Compatibility.Plugins {
			if id == manifest.ID {
				incompatible = true
			}
		}
		if incompatible {
			conflicts = append(conflicts, PluginConflict{
				PluginID: other.PluginID, Kind: "incompatible",
			})
		}
		for _, route := range other.Routes {
			if routes[route.Path] {
				conflicts = append(conflicts, PluginConflict{
					PluginID: other.PluginID, Kind: "route", Resource: route.Path,
				})
			}
		}
		for _, name := range other.Manifest.DeclaredCollections() {
			if collections[name] {
				conflicts = append(conflicts, PluginConflict{
					PluginID: other.PluginID, Kind: "collection", Resource: name,
				})
			}
		}
	}

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].PluginID != conflicts[j].PluginID {
			return conflicts[i].PluginID < conflicts[j].PluginID
		}
		return conflicts[i].Resource < conflicts[j].Resource
	})
	return conflicts
}

// buildTree expands the transitive dependency tree from the store. Nodes
// already visited are recorded but not re-expanded, so diamond-shaped
// graphs terminate.
func (r *Resolver) buildTree(ctx context.Context, node string, deps map[string]string, tree map[string][]string, visited map[string]bool) error {
	children := make([]string, 0, len(deps))
	for depID := range deps {
		children = append(children, depID)
	}
	sort.Strings(children)
	tree[node] = children

	for _, depID := range children {
		if visited[depID] {
			continue
		}
		visited[depID] = true
		installed, err := r.store.FindByPluginID(ctx, depID)
		if err != nil {
			return NewStoreFailureError("find dependency "+depID, err)
		}
		if installed == nil {
			tree[depID] = nil
			continue
		}
		if err := r.buildTree(ctx, depID, installed.Dependencies, tree, visited); err != nil {
			return err
		}
	}
	return nil
}

// findTreeCycle runs a three-color depth-first search from root and
// returns the cycle path when one exists, nil otherwise.
func findTreeCycle(root string, tree map[string][]string) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(tree))
	var path []string

	var visit func(node string) []string
	visit = func(node string) []string {
		color[node] = gray
		path = append(path, node)
		for _, child := range tree[node] {
			switch color[child] {
			case gray:
				// Found the back edge; slice the path from the first
				// occurrence of child and close the loop.
				for i, id := range path {
					if id == child {
						cycle := append([]string{}, path[i:]...)
						return append(cycle, child)
					}
				}
			case white:
				if cycle := visit(child); cycle != nil {
					return cycle
				}
			}
		}
		color[node] = black
		path = path[:len(path)-1]
		return nil
	}
	return visit(root)
}

// ResolveDependencies orders a set of manifests so that every plugin is
// installed after its dependencies.
//
// Only edges inside the set participate in the ordering; dependencies
// pointing outside it produce warnings and are assumed already
// installed. Ordering uses Kahn's algorithm with sorted zero-degree
// selection so the result is deterministic; when no valid order exists
// the error names one plugin still holding unresolved edges.
func (r *Resolver) ResolveDependencies(manifests []*PluginManifest) (*ResolutionPlan, error) {
	inSet := make(map[string]*PluginManifest, len(manifests))
	for _, m := range manifests {
		inSet[m.ID] = m
	}

	plan := &ResolutionPlan{}
	inDegree := make(map[string]int, len(manifests))
	dependents := make(map[string][]string, len(manifests))
	for _, m := range manifests {
		inDegree[m.ID] += 0
		for depID, required := range m.Dependencies.Plugins {
			if _, ok := inSet[depID]; !ok {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf(
					"%s requires %s %s which is outside the set and must already be installed",
					m.ID, depID, required))
				continue
			}
			inDegree[m.ID]++
			dependents[depID] = append(dependents[depID], m.ID)
		}
	}

	ready := make([]string, 0, len(inDegree))
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		plan.InstallOrder = append(plan.InstallOrder, id)

		released := make([]string, 0, len(dependents[id]))
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		sort.Strings(released)
		ready = append(ready, released...)
	}

	if len(plan.InstallOrder) != len(manifests) {
		remaining := make([]string, 0)
		for id, degree := range inDegree {
			if degree > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		r.logger.Warn("dependency set is unresolvable", "remaining", remaining)
		return nil, NewUnresolvableSetError(remaining[0])
	}

	plan.ActivationOrder = make([]string, len(plan.InstallOrder))
	for i, id := range plan.InstallOrder {
		plan.ActivationOrder[len(plan.InstallOrder)-1-i] = id
	}
	sort.Strings(plan.Warnings)
	return plan, nil
}
