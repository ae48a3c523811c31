// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ResetNotifier delivers the reset link to the account's email address.
// Implemented by internal/mail.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, email, resetLink string) error
}

// Transactor runs a function inside a storage transaction. Repository calls
// made with the context it provides join that transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// PasswordResetService handles the reset-token workflow: issuance, emailing,
// validation, and single-use redemption.
type PasswordResetService struct {
	users    UserRepository
	resets   PasswordResetRepository
	hasher   PasswordHasher
	notifier ResetNotifier
	tx       Transactor
	logger   *slog.Logger
}

// NewPasswordResetService creates a new PasswordResetService.
func NewPasswordResetService(
	users UserRepository,
	resets PasswordResetRepository,
	hasher PasswordHasher,
	notifier ResetNotifier,
	tx Transactor,
	logger *slog.Logger,
) (*PasswordResetService, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if resets == nil {
		return nil, oops.Errorf("resets repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if notifier == nil {
		return nil, oops.Errorf("reset notifier is required")
	}
	if tx == nil {
		return nil, oops.Errorf("transactor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PasswordResetService{
		users:    users,
		resets:   resets,
		hasher:   hasher,
		notifier: notifier,
		tx:       tx,
		logger:   logger,
	}, nil
}

// RequestReset issues a reset token for the account with the given email and
// mails the redemption link. An unknown email returns nil with no store
// mutation, indistinguishable to the caller from the known case, so responses
// cannot be used to enumerate accounts.
//
// Issuing a new token invalidates the user's prior outstanding tokens in the
// same transaction. If the email cannot be sent the token record is kept and
// a NOTIFY_FAILED error is returned; the next request supersedes it anyway.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string, linkFor func(token string) string) error {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("STORE_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	reset, err := NewPasswordReset(user.ID, hash, time.Now().Add(ResetTokenExpiry))
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "build reset record").
			Wrap(err)
	}

	err = s.tx.InTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.resets.InvalidateByUser(txCtx, user.ID); err != nil {
			return err
		}
		return s.resets.Create(txCtx, reset)
	})
	if err != nil {
		return oops.Code("STORE_FAILED").
			With("operation", "store reset request").
			Wrap(err)
	}

	if err := s.notifier.SendPasswordReset(ctx, user.Email, linkFor(token)); err != nil {
		// The token row stays valid; surface the delivery failure distinctly
		// from persistence failure.
		return oops.Code("NOTIFY_FAILED").
			With("operation", "send reset email").
			Wrap(err)
	}

	s.logger.Info("password reset requested", "user_id", user.ID.String())
	return nil
}

// ValidateToken checks that a reset token is outstanding and unexpired and
// returns the owning user's ID. Absent, used, and expired tokens all report
// the same RESET_TOKEN_INVALID code so callers cannot probe token state.
func (s *PasswordResetService) ValidateToken(ctx context.Context, token string) (ulid.ULID, error) {
	reset, err := s.lookupRedeemable(ctx, token)
	if err != nil {
		return ulid.ULID{}, err
	}
	return reset.UserID, nil
}

// ConfirmReset redeems a reset token and installs the new password.
// The token is re-validated here even if a prior ValidateToken succeeded,
// since it may have expired or been consumed between render and submit. The
// conditional consume and the password update commit atomically; of two
// concurrent redemptions exactly one wins.
func (s *PasswordResetService) ConfirmReset(ctx context.Context, token, newPassword, confirmPassword string) error {
	var violations []string
	if newPassword != confirmPassword {
		violations = append(violations, "Passwords do not match")
	}
	if err := ValidatePassword(newPassword); err != nil {
		violations = append(violations, err.Error())
	}
	if len(violations) > 0 {
		return oops.Code("VALIDATION_FAILED").
			With("errors", violations).
			Errorf("password validation failed")
	}

	reset, err := s.lookupRedeemable(ctx, token)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_CONFIRM_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	err = s.tx.InTransaction(ctx, func(txCtx context.Context) error {
		if err := s.resets.Consume(txCtx, reset.ID); err != nil {
			return err
		}
		return s.users.UpdatePassword(txCtx, reset.UserID, hash)
	})
	if err != nil {
		// A concurrent redemption already consumed the token.
		if errors.Is(err, ErrNotFound) {
			return invalidResetToken()
		}
		return oops.Code("STORE_FAILED").
			With("operation", "redeem reset token").
			Wrap(err)
	}

	s.logger.Info("password reset completed", "user_id", reset.UserID.String())
	return nil
}

func (s *PasswordResetService) lookupRedeemable(ctx context.Context, token string) (*PasswordReset, error) {
	if token == "" {
		return nil, invalidResetToken()
	}

	reset, err := s.resets.GetByTokenHash(ctx, HashResetToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidResetToken()
		}
		return nil, oops.Code("STORE_FAILED").
			With("operation", "get reset by token hash").
			Wrap(err)
	}

	if reset.IsExpired() {
		return nil, invalidResetToken()
	}

	return reset, nil
}

// invalidResetToken collapses absent, used, and expired tokens into one
// message so error responses do not act as a token oracle.
func invalidResetToken() error {
	return oops.Code("RESET_TOKEN_INVALID").Errorf("Invalid or expired reset link")
}
