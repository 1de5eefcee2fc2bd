// panic_recovery.go: Panic recovery for host background goroutines
//
// The hook registry isolates plugin callback panics itself; these
// helpers cover the host's own async work (config reload, event fanout)
// so a bug there logs a stack trace instead of taking the process down.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import "runtime"

// withStackRecover returns a deferred recovery function that logs the
// panic value with a full stack trace.
//
//	go func() {
//	    defer withStackRecover(logger)()
//	    // potentially panicking code
//	}()
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)
			logger.Error("panic recovered in goroutine",
				"panic", r,
				"stack", string(buf[:n]))
		}
	}
}

// safeGo runs fn in a new goroutine with panic recovery.
func safeGo(logger Logger, fn func()) {
	go func() {
		defer withStackRecover(logger)()
		fn()
	}()
}
