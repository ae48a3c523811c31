// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package auth

import (
	"unicode"

	"github.com/samber/oops"
)

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

// ValidatePassword checks a candidate password against the account policy:
// at least MinPasswordLength characters, at least one letter, and at least
// one digit. There is no maximum length and no special-character requirement.
// The function is pure; hashing happens elsewhere.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("min", MinPasswordLength).
			Errorf("Password must be at least %d characters long", MinPasswordLength)
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasLetter {
		return oops.Code("AUTH_WEAK_PASSWORD").Errorf("Password must contain at least one letter")
	}
	if !hasDigit {
		return oops.Code("AUTH_WEAK_PASSWORD").Errorf("Password must contain at least one number")
	}
	return nil
}
