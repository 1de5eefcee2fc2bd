// hooks_test.go: Tests for the action/filter hook registry
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoAction_PriorityOrdering(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())
	var order []int

	record := func(n int) HookCallback {
		return func(ctx context.Context, args ...any) (any, error) {
			order = append(order, n)
			return nil, nil
		}
	}

	registry.AddAction("content:render", record(20), 20, "late")
	registry.AddAction("content:render", record(5), 5, "early")
	registry.AddAction("content:render", record(10), 10, "middle")

	registry.DoAction(context.Background(), "content:render")
	assert.Equal(t, []int{5, 10, 20}, order)
}

func TestDoAction_EqualPriorityKeepsInsertionOrder(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())
	var order []string

	for _, owner := range []string{"first", "second", "third"} {
		owner := owner
		registry.AddAction("startup", func(ctx context.Context, args ...any) (any, error) {
			order = append(order, owner)
			return nil, nil
		}, DefaultHookPriority, owner)
	}

	registry.DoAction(context.Background(), "startup")
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestDoAction_IsolatesFailingListeners(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())
	var ran []string

	registry.AddAction("save", func(ctx context.Context, args ...any) (any, error) {
		ran = append(ran, "panics")
		panic("listener bug")
	}, 1, "broken-a")
	registry.AddAction("save", func(ctx context.Context, args ...any) (any, error) {
		ran = append(ran, "errors")
		return nil, errors.New("listener failed")
	}, 2, "broken-b")
	registry.AddAction("save", func(ctx context.Context, args ...any) (any, error) {
		ran = append(ran, "succeeds")
		return nil, nil
	}, 3, "healthy")

	// Must not panic, and every listener must still run.
	registry.DoAction(context.Background(), "save")
	assert.Equal(t, []string{"panics", "errors", "succeeds"}, ran)
}

func TestApplyFilters_Pipeline(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())

	registry.AddFilter("title", func(ctx context.Context, args ...any) (any, error) {
		return args[0].(string) + "!", nil
	}, 20, "exclaim")
	registry.AddFilter("title", func(ctx context.Context, args ...any) (any, error) {
		return "[" + args[0].(string) + "]", nil
	}, 10, "bracket")

	// Priority 10 runs first: "home" -> "[home]" -> "[home]!"
	result := registry.ApplyFilters(context.Background(), "title", "home")
	assert.Equal(t, "[home]!", result)
}

func TestApplyFilters_ExtraArgsPassedThrough(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())

	registry.AddFilter("excerpt", func(ctx context.Context, args ...any) (any, error) {
		text := args[0].(string)
		limit := args[1].(int)
		if len(text) > limit {
			return text[:limit], nil
		}
		return text, nil
	}, DefaultHookPriority, "trimmer")

	result := registry.ApplyFilters(context.Background(), "excerpt", "hello world", 5)
	assert.Equal(t, "hello", result)
}

func TestApplyFilters_NilAndFailureLeaveValueUnchanged(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())

	registry.AddFilter("body", func(ctx context.Context, args ...any) (any, error) {
		return nil, nil // inspect-only filter
	}, 1, "observer")
	registry.AddFilter("body", func(ctx context.Context, args ...any) (any, error) {
		return "poisoned", errors.New("filter failed")
	}, 2, "broken")
	registry.AddFilter("body", func(ctx context.Context, args ...any) (any, error) {
		panic("filter bug")
	}, 3, "panicky")

	result := registry.ApplyFilters(context.Background(), "body", "original")
	assert.Equal(t, "original", result)
}

func TestApplyFilters_NoRegistrationsReturnsValue(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())
	assert.Equal(t, 42, registry.ApplyFilters(context.Background(), "unknown", 42))
}

func TestHooks_ReentrancyRefused(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())
	calls := 0

	registry.AddAction("nested", func(ctx context.Context, args ...any) (any, error) {
		calls++
		// Recursing into the hook being dispatched must be a no-op, not
		// a deadlock or infinite loop.
		registry.DoAction(ctx, "nested")
		return nil, nil
	}, DefaultHookPriority, "recursive")

	registry.DoAction(context.Background(), "nested")
	assert.Equal(t, 1, calls)

	registry.AddFilter("nested-filter", func(ctx context.Context, args ...any) (any, error) {
		inner := registry.ApplyFilters(ctx, "nested-filter", args[0].(int)+1)
		return inner, nil
	}, DefaultHookPriority, "recursive")

	// The inner call refuses and returns its input (2) unmodified.
	assert.Equal(t, 2, registry.ApplyFilters(context.Background(), "nested-filter", 1))
}

func TestHooks_DifferentNamesMayNest(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())
	innerRan := false

	registry.AddAction("inner", func(ctx context.Context, args ...any) (any, error) {
		innerRan = true
		return nil, nil
	}, DefaultHookPriority, "p")
	registry.AddAction("outer", func(ctx context.Context, args ...any) (any, error) {
		registry.DoAction(ctx, "inner")
		return nil, nil
	}, DefaultHookPriority, "p")

	registry.DoAction(context.Background(), "outer")
	assert.True(t, innerRan)
}

func TestHooks_ConcurrentSameNameDispatchesAreIndependent(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())

	var calls atomic.Int64
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	registry.AddAction("plugin:activated", func(ctx context.Context, args ...any) (any, error) {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		return nil, nil
	}, DefaultHookPriority, "audit")

	// Two unrelated goroutines dispatch the same hook name. Neither is
	// recursing, so neither may be refused: both must reach the callback
	// while the other dispatch is still in flight.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.DoAction(context.Background(), "plugin:activated")
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("a concurrent dispatch of an in-flight hook name was refused")
		}
	}
	close(release)
	wg.Wait()
	assert.Equal(t, int64(2), calls.Load())
}

func TestHooks_ConcurrentSameNameFiltersAreIndependent(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	registry.AddFilter("title", func(ctx context.Context, args ...any) (any, error) {
		entered <- struct{}{}
		<-release
		return args[0].(string) + "!", nil
	}, DefaultHookPriority, "decorate")

	results := make(chan string, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- registry.ApplyFilters(context.Background(), "title", "home").(string)
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("a concurrent filter dispatch of an in-flight hook name was refused")
		}
	}
	close(release)
	for i := 0; i < 2; i++ {
		assert.Equal(t, "home!", <-results)
	}
}

func TestRemovePluginHooks_BulkTeardown(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())
	noop := func(ctx context.Context, args ...any) (any, error) { return nil, nil }

	registry.AddAction("a", noop, 1, "doomed")
	registry.AddAction("b", noop, 1, "doomed")
	registry.AddFilter("c", noop, 1, "doomed")
	registry.AddAction("a", noop, 1, "survivor")

	require.Equal(t, 3, registry.CountHooks("doomed"))
	registry.RemovePluginHooks("doomed")
	assert.Equal(t, 0, registry.CountHooks("doomed"))
	assert.Equal(t, 1, registry.CountHooks("survivor"))
	assert.True(t, registry.HasAction("a"))
	assert.False(t, registry.HasAction("b"))
}

func TestRemoveAction_RemovesOnlyOwner(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())
	var ran []string

	for _, owner := range []string{"p", "q"} {
		owner := owner
		registry.AddAction("publish", func(ctx context.Context, args ...any) (any, error) {
			ran = append(ran, owner)
			return nil, nil
		}, DefaultHookPriority, owner)
	}

	registry.RemoveAction("publish", "p")
	registry.DoAction(context.Background(), "publish")
	assert.Equal(t, []string{"q"}, ran)
}

func TestHookRegistry_ConcurrentRegistrationAndDispatch(t *testing.T) {
	registry := NewHookRegistry(NewTestLogger())
	var counter sync.Map

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			owner := string(rune('a' + n))
			registry.AddAction("tick", func(ctx context.Context, args ...any) (any, error) {
				counter.Store(owner, true)
				return nil, nil
			}, n, owner)
			registry.DoAction(context.Background(), "tick")
		}(i)
	}
	wg.Wait()

	registry.DoAction(context.Background(), "tick")
	for i := 0; i < 8; i++ {
		_, ok := counter.Load(string(rune('a' + i)))
		assert.True(t, ok)
	}
}
