// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

// Package errutil provides helpers for logging and testing oops errors.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors it extracts the message, code, and context; standard
// errors log as a plain string.
func LogError(logger *slog.Logger, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{
			"error", oopsErr.Error(),
		}
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		logger.Error(msg, attrs...)
	} else {
		logger.Error(msg, "error", err)
	}
}

// CodeOf returns the oops code attached to err, or "" for plain errors and
// non-string codes. The web layer uses it to map domain failures onto HTTP
// statuses. Code() reports the deepest code in a wrapped chain, so callers
// assigning a code must not wrap an error that already carries one.
func CodeOf(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}

// ContextValue returns the context value stored under key on an oops error,
// or nil when absent.
func ContextValue(err error, key string) any {
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Context()[key]
	}
	return nil
}
