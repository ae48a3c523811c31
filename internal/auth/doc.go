// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

// Package auth implements the CyberNet account and credential-reset domain.
//
// # Domain Types
//
// Domain types (User, Session, PasswordReset) should be created using their
// respective constructors:
//   - NewUser - creates a User with a validated username, email, and hash
//   - NewSession - creates a Session bound to a user and expiry
//   - NewPasswordReset - creates a PasswordReset with a validated expiry
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - registration, login, logout, session validation
//   - PasswordResetService - reset-token issuance, validation, redemption
//
// Services are created with New*Service constructors that validate
// dependencies.
package auth
