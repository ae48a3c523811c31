// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/cybernet/cybernet/internal/auth"
)

// PasswordResetRepository implements auth.PasswordResetRepository using
// PostgreSQL.
type PasswordResetRepository struct {
	db DB
}

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(db DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Create stores a new password reset request.
func (r *PasswordResetRepository) Create(ctx context.Context, reset *auth.PasswordReset) error {
	_, err := querierFrom(ctx, r.db).Exec(ctx, `
		INSERT INTO password_resets (id, user_id, token_hash, used, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reset.ID.String(), reset.UserID.String(), reset.TokenHash, reset.Used, reset.ExpiresAt, reset.CreatedAt)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert password_reset").
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves an unused reset request by its token hash.
// Already-used tokens report ErrNotFound; the expiry window is checked by
// the caller against wall-clock time.
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	row := querierFrom(ctx, r.db).QueryRow(ctx, `
		SELECT id, user_id, token_hash, used, expires_at, created_at
		FROM password_resets
		WHERE token_hash = $1 AND used = FALSE
	`, tokenHash)

	reset, err := r.scanReset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return reset, nil
}

// Consume marks an unused, unexpired reset request as used. The conditional
// update is the arbiter under concurrency: the row flips at most once, so of
// two simultaneous redemptions exactly one sees RowsAffected() == 1.
func (r *PasswordResetRepository) Consume(ctx context.Context, id ulid.ULID) error {
	result, err := querierFrom(ctx, r.db).Exec(ctx, `
		UPDATE password_resets SET used = TRUE
		WHERE id = $1 AND used = FALSE AND expires_at > $2
	`, id.String(), time.Now())
	if err != nil {
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "mark password_reset used").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("RESET_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// InvalidateByUser marks all outstanding unused requests for a user as used.
func (r *PasswordResetRepository) InvalidateByUser(ctx context.Context, userID ulid.ULID) (int64, error) {
	result, err := querierFrom(ctx, r.db).Exec(ctx, `
		UPDATE password_resets SET used = TRUE
		WHERE user_id = $1 AND used = FALSE
	`, userID.String())
	if err != nil {
		return 0, oops.Code("RESET_INVALIDATE_FAILED").
			With("operation", "invalidate password_resets by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	// Zero rows is a valid state: nothing was outstanding.
	return result.RowsAffected(), nil
}

// scanReset scans a single row into a PasswordReset.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *PasswordResetRepository) scanReset(row pgx.Row) (*auth.PasswordReset, error) {
	var (
		idStr     string
		userIDStr string
		tokenHash string
		used      bool
		expiresAt time.Time
		createdAt time.Time
	)

	err := row.Scan(&idStr, &userIDStr, &tokenHash, &used, &expiresAt, &createdAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("RESET_SCAN_FAILED").
			With("operation", "scan password_reset").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_ID").
			With("operation", "parse reset id").
			With("id", idStr).
			Wrap(err)
	}

	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_USER_ID").
			With("operation", "parse user id").
			With("user_id", userIDStr).
			Wrap(err)
	}

	return &auth.PasswordReset{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		Used:      used,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// Compile-time interface check.
var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
