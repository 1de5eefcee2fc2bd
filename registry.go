// registry.go: Global surface registry for routes, admin pages and widgets
//
// Process-local and non-persisted: rebuilt from active plugin records on
// startup, mutated only by the lifecycle operations. A route is claimed
// by at most one plugin at a time.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"sort"
	"sync"
)

// RegisteredRoute is one live route binding.
type RegisteredRoute struct {
	PluginID string
	Route    RouteSpec
}

// RegisteredPage is one live admin page binding.
type RegisteredPage struct {
	PluginID string
	Page     AdminPageSpec
}

// RegisteredWidget is one live dashboard widget binding.
type RegisteredWidget struct {
	PluginID string
	Widget   WidgetSpec
}

// SurfaceRegistry tracks which plugin owns which user-facing surface.
type SurfaceRegistry struct {
	mu      sync.RWMutex
	routes  map[string]RegisteredRoute // keyed by "METHOD path"
	pages   map[string]RegisteredPage  // keyed by path
	widgets map[string]RegisteredWidget
	logger  Logger
}

// NewSurfaceRegistry creates an empty registry.
func NewSurfaceRegistry(logger Logger) *SurfaceRegistry {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &SurfaceRegistry{
		routes:  make(map[string]RegisteredRoute),
		pages:   make(map[string]RegisteredPage),
		widgets: make(map[string]RegisteredWidget),
		logger:  logger,
	}
}

func routeKey(r RouteSpec) string { return r.Method + " " + r.Path }

// RegisterPlugin claims every surface the manifest declares. The claim
// is all-or-nothing: on any collision nothing is registered and the
// conflicting owner is reported.
func (s *SurfaceRegistry) RegisterPlugin(pluginID string, manifest *PluginManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, route := range manifest.Routes {
		if existing, taken := s.routes[routeKey(route)]; taken && existing.PluginID != pluginID {
			return NewResourceConflictError(pluginID, []PluginConflict{{
				PluginID: existing.PluginID, Kind: "route", Resource: route.Path,
			}})
		}
	}
	for _, page := range manifest.AdminPages {
		if existing, taken := s.pages[page.Path]; taken && existing.PluginID != pluginID {
			return NewResourceConflictError(pluginID, []PluginConflict{{
				PluginID: existing.PluginID, Kind: "route", Resource: page.Path,
			}})
		}
	}
	for _, widget := range manifest.DashboardWidgets {
		if existing, taken := s.widgets[widget.ID]; taken && existing.PluginID != pluginID {
			return NewResourceConflictError(pluginID, []PluginConflict{{
				PluginID: existing.PluginID, Kind: "widget", Resource: widget.ID,
			}})
		}
	}

	for _, route := range manifest.Routes {
		s.routes[routeKey(route)] = RegisteredRoute{PluginID: pluginID, Route: route}
	}
	for _, page := range manifest.AdminPages {
		s.pages[page.Path] = RegisteredPage{PluginID: pluginID, Page: page}
	}
	for _, widget := range manifest.DashboardWidgets {
		s.widgets[widget.ID] = RegisteredWidget{PluginID: pluginID, Widget: widget}
	}

	s.logger.Debug("surfaces registered",
		"plugin_id", pluginID,
		"routes", len(manifest.Routes),
		"pages", len(manifest.AdminPages),
		"widgets", len(manifest.DashboardWidgets))
	return nil
}

// UnregisterPlugin releases every surface owned by pluginID.
func (s *SurfaceRegistry) UnregisterPlugin(pluginID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, route := range s.routes {
		if route.PluginID == pluginID {
			delete(s.routes, key)
		}
	}
	for key, page := range s.pages {
		if page.PluginID == pluginID {
			delete(s.pages, key)
		}
	}
	for key, widget := range s.widgets {
		if widget.PluginID == pluginID {
			delete(s.widgets, key)
		}
	}
}

// Routes returns all live route bindings sorted by key.
func (s *SurfaceRegistry) Routes() []RegisteredRoute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RegisteredRoute, 0, len(s.routes))
	for _, route := range s.routes {
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool {
		return routeKey(out[i].Route) < routeKey(out[j].Route)
	})
	return out
}

// AdminPages returns all live admin page bindings sorted by path.
func (s *SurfaceRegistry) AdminPages() []RegisteredPage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RegisteredPage, 0, len(s.pages))
	for _, page := range s.pages {
		out = append(out, page)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Page.Path < out[j].Page.Path })
	return out
}

// Widgets returns all live widget bindings sorted by id.
func (s *SurfaceRegistry) Widgets() []RegisteredWidget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RegisteredWidget, 0, len(s.widgets))
	for _, widget := range s.widgets {
		out = append(out, widget)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Widget.ID < out[j].Widget.ID })
	return out
}

// RouteOwner reports which plugin owns the method+path binding.
func (s *SurfaceRegistry) RouteOwner(method, path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	route, ok := s.routes[method+" "+path]
	return route.PluginID, ok
}
