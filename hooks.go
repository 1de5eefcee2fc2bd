// hooks.go: Priority-ordered action and filter hook registry
//
// The registry is the in-process extension bus: plugins register named
// callbacks, the host and other plugins invoke them by name. Two
// callback styles exist: actions run for side effects, filters form a
// sequential value pipeline. Callbacks are untrusted plugin code, so
// every invocation is isolated: a panic or error is logged against the
// owning plugin and never reaches the caller or the rest of the chain.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"sort"
	"sync"
)

// DefaultHookPriority is used when a registration omits a priority.
// Lower numbers run earlier.
const DefaultHookPriority = 10

// HookCallback is the signature for both actions and filters. Actions
// ignore the returned value. Filters receive the current pipeline value
// as args[0] and return the next value; returning nil leaves the value
// unchanged.
type HookCallback func(ctx context.Context, args ...any) (any, error)

// hookRegistration is one callback bound to a hook name.
type hookRegistration struct {
	callback HookCallback
	priority int
	seq      uint64 // insertion order, tie-break for equal priority
	ownerID  string
}

// HookRegistry holds all registered actions and filters, keyed by hook
// name. Safe for concurrent use. Registrations live for the process
// lifetime and are rebuilt from persisted active plugins on startup.
type HookRegistry struct {
	mu      sync.Mutex
	actions map[string][]hookRegistration
	filters map[string][]hookRegistration
	nextSeq uint64
	logger  Logger
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry(logger Logger) *HookRegistry {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &HookRegistry{
		actions: make(map[string][]hookRegistration),
		filters: make(map[string][]hookRegistration),
		logger:  logger,
	}
}

// hookChainKey carries the set of hook names already dispatching in the
// current call chain. Recursion is detected per chain: a callback that
// re-invokes its own hook (directly or through other hooks) is refused,
// while independent dispatches of the same name from other goroutines
// proceed normally.
type hookChainKey struct{}

func chainHas(ctx context.Context, name string) bool {
	set, _ := ctx.Value(hookChainKey{}).(map[string]bool)
	return set[name]
}

func chainWith(ctx context.Context, name string) context.Context {
	prev, _ := ctx.Value(hookChainKey{}).(map[string]bool)
	next := make(map[string]bool, len(prev)+1)
	for n := range prev {
		next[n] = true
	}
	next[name] = true
	return context.WithValue(ctx, hookChainKey{}, next)
}

// AddAction registers callback for the named action hook. Priority
// orders execution ascending; equal priorities keep insertion order.
// ownerID ties the registration to a plugin for bulk teardown and may
// be empty for host-owned callbacks.
func (r *HookRegistry) AddAction(name string, callback HookCallback, priority int, ownerID string) {
	r.add(r.actions, name, callback, priority, ownerID)
}

// AddFilter registers callback for the named filter hook.
func (r *HookRegistry) AddFilter(name string, callback HookCallback, priority int, ownerID string) {
	r.add(r.filters, name, callback, priority, ownerID)
}

func (r *HookRegistry) add(table map[string][]hookRegistration, name string, callback HookCallback, priority int, ownerID string) {
	if callback == nil {
		r.logger.Warn("ignoring nil hook callback", "hook", name, "owner", ownerID)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := hookRegistration{
		callback: callback,
		priority: priority,
		seq:      r.nextSeq,
		ownerID:  ownerID,
	}
	r.nextSeq++
	regs := append(table[name], reg)
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority < regs[j].priority
		}
		return regs[i].seq < regs[j].seq
	})
	table[name] = regs
}

// DoAction invokes every callback registered for name, in priority
// order, and returns after all have run. Callback errors and panics are
// logged and swallowed; one failing listener never blocks the rest.
// Recursive invocation from within the same dispatch chain is refused;
// concurrent dispatches from other goroutines are independent.
func (r *HookRegistry) DoAction(ctx context.Context, name string, args ...any) {
	if chainHas(ctx, name) {
		r.logger.Warn("recursive hook invocation refused",
			"hook", name, "error", NewHookReentrancyError(name))
		return
	}
	ctx = chainWith(ctx, name)

	for _, reg := range r.snapshot(r.actions, name) {
		r.invoke(ctx, name, reg, args)
	}
}

// ApplyFilters pipes value through every callback registered for name,
// in priority order: each callback receives the current value followed
// by args and its non-nil return becomes the next value. A callback
// that errors, panics, or returns nil leaves the value unchanged for
// the next stage. Recursive invocation from within the same dispatch
// chain returns the value unmodified.
func (r *HookRegistry) ApplyFilters(ctx context.Context, name string, value any, args ...any) any {
	if chainHas(ctx, name) {
		r.logger.Warn("recursive hook invocation refused",
			"hook", name, "error", NewHookReentrancyError(name))
		return value
	}
	ctx = chainWith(ctx, name)

	for _, reg := range r.snapshot(r.filters, name) {
		callArgs := append([]any{value}, args...)
		result, invoked := r.invoke(ctx, name, reg, callArgs)
		if invoked && result != nil {
			value = result
		}
	}
	return value
}

// snapshot copies the registrations for name so callbacks run outside
// the registry lock and see a stable list even if they mutate it.
func (r *HookRegistry) snapshot(table map[string][]hookRegistration, name string) []hookRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := make([]hookRegistration, len(table[name]))
	copy(regs, table[name])
	return regs
}

// invoke runs one callback with panic isolation. The bool reports
// whether the callback completed without error or panic.
func (r *HookRegistry) invoke(ctx context.Context, name string, reg hookRegistration, args []any) (result any, completed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("hook callback panicked",
				"hook", name, "owner", reg.ownerID, "panic", rec)
			result, completed = nil, false
		}
	}()

	result, err := reg.callback(ctx, args...)
	if err != nil {
		r.logger.Error("hook callback failed",
			"error", NewHookCallbackError(name, reg.ownerID, err))
		return nil, false
	}
	return result, true
}

// RemoveAction removes every action registration owned by ownerID for
// the named hook.
func (r *HookRegistry) RemoveAction(name, ownerID string) {
	r.remove(r.actions, name, ownerID)
}

// RemoveFilter removes every filter registration owned by ownerID for
// the named hook.
func (r *HookRegistry) RemoveFilter(name, ownerID string) {
	r.remove(r.filters, name, ownerID)
}

func (r *HookRegistry) remove(table map[string][]hookRegistration, name, ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := table[name][:0]
	for _, reg := range table[name] {
		if reg.ownerID != ownerID {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(table, name)
	} else {
		table[name] = kept
	}
}

// RemovePluginHooks removes every action and filter owned by ownerID,
// across all hook names. Called on deactivate and uninstall.
func (r *HookRegistry) RemovePluginHooks(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, table := range []map[string][]hookRegistration{r.actions, r.filters} {
		for name, regs := range table {
			kept := regs[:0]
			for _, reg := range regs {
				if reg.ownerID != ownerID {
					kept = append(kept, reg)
				}
			}
			if len(kept) == 0 {
				delete(table, name)
			} else {
				table[name] = kept
			}
		}
	}
}

// HasAction reports whether any callback is registered for the named
// action hook.
func (r *HookRegistry) HasAction(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions[name]) > 0
}

// CountHooks returns the number of registrations owned by ownerID.
func (r *HookRegistry) CountHooks(ownerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, table := range []map[string][]hookRegistration{r.actions, r.filters} {
		for _, regs := range table {
			for _, reg := range regs {
				if reg.ownerID == ownerID {
					count++
				}
			}
		}
	}
	return count
}
