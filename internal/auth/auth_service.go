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

// Service provides registration, login, logout, and session validation.
type Service struct {
	users      UserRepository
	sessions   SessionStore
	hasher     PasswordHasher
	logger     *slog.Logger
	sessionTTL time.Duration
}

// NewService creates a new Service.
func NewService(users UserRepository, sessions SessionStore, hasher PasswordHasher) (*Service, error) {
	return NewServiceWithLogger(users, sessions, hasher, slog.Default())
}

// NewServiceWithLogger creates a new Service with an explicit logger.
func NewServiceWithLogger(users UserRepository, sessions SessionStore, hasher PasswordHasher, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("sessions store is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Service{
		users:      users,
		sessions:   sessions,
		hasher:     hasher,
		logger:     logger,
		sessionTTL: SessionTokenExpiry,
	}, nil
}

// SetSessionTTL overrides the default session lifetime. Non-positive
// durations are ignored.
func (s *Service) SetSessionTTL(d time.Duration) {
	if d > 0 {
		s.sessionTTL = d
	}
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing
// attacks: password verification still runs so response time stays uniform.
// This is NOT a real credential and never matches any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Register creates a new account and logs it straight in.
// All violated rules are aggregated into a single VALIDATION_FAILED error
// whose "errors" context carries the user-facing messages. Uniqueness races
// that slip past the pre-check are arbitrated by the store's constraints and
// surface as CONFLICT.
func (s *Service) Register(ctx context.Context, username, email, password, confirmPassword, userAgent, ipAddress string) (*User, *Session, string, error) {
	var violations []string

	if err := ValidateUsername(username); err != nil {
		violations = append(violations, err.Error())
	}
	if err := ValidateEmail(email); err != nil {
		violations = append(violations, err.Error())
	}
	if password != confirmPassword {
		violations = append(violations, "Passwords do not match")
	}
	if err := ValidatePassword(password); err != nil {
		violations = append(violations, err.Error())
	}

	// Pre-check duplicates so they aggregate with the other violations.
	// The database constraint remains the sole arbiter under concurrency.
	// Username-only lookup here; GetByIdentifier would also match another
	// account's email.
	if username != "" {
		if _, err := s.users.GetByUsername(ctx, username); err == nil {
			violations = append(violations, "Username already exists")
		} else if !errors.Is(err, ErrNotFound) {
			return nil, nil, "", oops.Code("STORE_FAILED").
				With("operation", "check duplicate username").
				Wrap(err)
		}
	}
	if email != "" {
		if _, err := s.users.GetByEmail(ctx, email); err == nil {
			violations = append(violations, "Email already registered")
		} else if !errors.Is(err, ErrNotFound) {
			return nil, nil, "", oops.Code("STORE_FAILED").
				With("operation", "check duplicate email").
				Wrap(err)
		}
	}

	if len(violations) > 0 {
		return nil, nil, "", oops.Code("VALIDATION_FAILED").
			With("errors", violations).
			Errorf("registration validation failed")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, nil, "", oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(username, email, hash)
	if err != nil {
		return nil, nil, "", err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, nil, "", oops.Code("CONFLICT").
				With("username", username).
				Wrap(err)
		}
		return nil, nil, "", oops.Code("STORE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}

	session, token, err := s.createSession(ctx, user, userAgent, ipAddress)
	if err != nil {
		return nil, nil, "", err
	}

	s.logger.Info("user registered", "username", user.Username, "user_id", user.ID.String())
	return user, session, token, nil
}

// Login authenticates a user by username or email and creates a session.
// Returns the session and its plaintext cookie token.
// Runs password verification even for unknown identifiers so timing does not
// leak which accounts exist.
func (s *Service) Login(ctx context.Context, identifier, password, userAgent, ipAddress string) (*Session, string, error) {
	user, lookupErr := s.users.GetByIdentifier(ctx, identifier)

	targetHash := dummyPasswordHash
	userExists := false

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, "", oops.Code("STORE_FAILED").
				With("operation", "get user by identifier").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !userExists {
			return nil, "", invalidCredentials()
		}
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !userExists || !valid {
		if userExists {
			user.RecordFailure()
			_ = s.users.Update(ctx, user) //nolint:errcheck // Best effort, failure already being reported
		}
		return nil, "", invalidCredentials()
	}

	// Lockout and active checks come after verification to keep timing flat.
	if user.IsLocked() {
		return nil, "", oops.Code("AUTH_ACCOUNT_LOCKED").
			With("locked_until", user.LockedUntil).
			Errorf("account is temporarily locked")
	}
	if !user.Active {
		return nil, "", oops.Code("AUTH_ACCOUNT_DEACTIVATED").Errorf("Account is deactivated")
	}

	user.RecordSuccess()
	if err := s.users.Update(ctx, user); err != nil {
		return nil, "", oops.Code("STORE_FAILED").
			With("operation", "update last login").
			Wrap(err)
	}

	session, token, err := s.createSession(ctx, user, userAgent, ipAddress)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("user logged in", "username", user.Username, "user_id", user.ID.String())
	return session, token, nil
}

// Logout invalidates the session for the given cookie token.
// Logging out an already-anonymous client is a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := s.sessions.Delete(ctx, HashSessionToken(token))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	return nil
}

// ValidateSession resolves a cookie token to its session, rejecting expired
// or unknown tokens, and slides the last-seen timestamp.
func (s *Service) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}

	tokenHash := HashSessionToken(token)

	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Errorf("invalid session token")
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if session.IsExpired() {
		return nil, oops.Code("SESSION_EXPIRED").Errorf("session has expired")
	}

	_ = s.sessions.UpdateLastSeen(ctx, tokenHash, time.Now()) //nolint:errcheck // Best effort, validation succeeds regardless

	return session, nil
}

// GetUser retrieves a user by ID, for profile rendering.
func (s *Service) GetUser(ctx context.Context, id ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("USER_NOT_FOUND").
				With("user_id", id.String()).
				Wrap(err)
		}
		return nil, oops.Code("STORE_FAILED").
			With("operation", "get user by id").
			Wrap(err)
	}
	return user, nil
}

func (s *Service) createSession(ctx context.Context, user *User, userAgent, ipAddress string) (*Session, string, error) {
	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	session, err := NewSession(user.ID, user.Username, tokenHash, userAgent, ipAddress, time.Now().Add(s.sessionTTL))
	if err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	return session, token, nil
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid username/email or password")
}
