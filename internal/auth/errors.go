// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness constraint rejects a write.
// Repository implementations wrap it with the offending column in context.
var ErrConflict = errors.New("already exists")
