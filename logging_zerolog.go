// logging_zerolog.go: zerolog adapter for the Logger interface
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ZerologAdapter wraps a zerolog.Logger behind the Logger interface so
// hosts that already use zerolog get structured plugin logs for free.
//
// Example usage:
//
//	zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
//	host, err := pluginhost.NewHost(cfg, store, pluginhost.NewZerologAdapter(zl))
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a Logger backed by the given zerolog.Logger.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// Debug implements Logger interface
func (z *ZerologAdapter) Debug(msg string, args ...any) {
	applyFields(z.logger.Debug(), args).Msg(msg)
}

// Info implements Logger interface
func (z *ZerologAdapter) Info(msg string, args ...any) {
	applyFields(z.logger.Info(), args).Msg(msg)
}

// Warn implements Logger interface
func (z *ZerologAdapter) Warn(msg string, args ...any) {
	applyFields(z.logger.Warn(), args).Msg(msg)
}

// Error implements Logger interface
func (z *ZerologAdapter) Error(msg string, args ...any) {
	applyFields(z.logger.Error(), args).Msg(msg)
}

// With implements Logger interface
func (z *ZerologAdapter) With(args ...any) Logger {
	ctx := z.logger.With()
	for i := 0; i+1 < len(args); i += 2 {
		ctx = ctx.Interface(fieldKey(args[i]), args[i+1])
	}
	return &ZerologAdapter{logger: ctx.Logger()}
}

// applyFields attaches alternating key-value pairs to a zerolog event.
// A trailing key without a value is recorded under the key itself.
func applyFields(ev *zerolog.Event, args []any) *zerolog.Event {
	i := 0
	for ; i+1 < len(args); i += 2 {
		ev = ev.Interface(fieldKey(args[i]), args[i+1])
	}
	if i < len(args) {
		ev = ev.Interface("arg", args[i])
	}
	return ev
}

func fieldKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
