// doc.go: Package documentation for the pluginhost library
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package pluginhost implements the plugin lifecycle and dependency
// management subsystem for a modular web application: installing,
// activating, deactivating, configuring, backing up and uninstalling
// installable plugins, together with the supporting machinery that makes
// those operations safe against untrusted plugin packages.
//
// The package is organized around five cooperating components:
//
//   - Version matching: permissive semantic version parsing and range
//     satisfaction (exact, >=, >, <=, <, caret, tilde) used for
//     dependency range checks. See version.go.
//
//   - Dependency resolution: per-candidate installability checks
//     (missing/inactive/mismatched dependencies, explicit
//     incompatibilities, route and collection conflicts), dependency
//     tree expansion with cycle detection, and batch install/activation
//     ordering via topological sort. See dependency.go.
//
//   - Security scanning: a static pattern scanner that walks an
//     extracted plugin directory, applies a catalog of signature rules
//     per file, aggregates findings into a 0-100 score and a coarse
//     risk level, and fails closed on timeout. See scanner.go.
//
//   - Hook registry: an in-process, priority-ordered action/filter
//     dispatch mechanism with per-callback error isolation and
//     re-entrancy guards, through which lifecycle events are published.
//     See hooks.go.
//
//   - Lifecycle management: the Host type orchestrates the install,
//     activate, deactivate, configure, backup, restore and uninstall
//     state machine per plugin, serializing operations per plugin id
//     and persisting every transition through a pluggable Store.
//     See host.go and its satellites.
//
// Plugin code is never loaded into the host process. The CodeLoader
// interface (loader.go) defaults to a declarative loader that
// materializes routes, admin surfaces and hook bindings from the
// manifest as data; hosts that need executable plugin logic are
// expected to provide a sandboxed loader implementation.
//
// Basic usage:
//
//	store := pluginhost.NewMemoryStore()
//	host, err := pluginhost.NewHost(pluginhost.DefaultHostConfig("/var/lib/app/plugins"), store, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := host.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := host.Install(ctx, "/uploads/oauth-plugin.zip", pluginhost.InstallOptions{
//	    UserID:   "admin@example.com",
//	    Activate: true,
//	})
//	if err != nil {
//	    log.Printf("install failed: %s", result.Message)
//	}
package pluginhost
