// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

// Package redis provides the Redis-backed implementation of the session
// store. Sessions are keyed by token hash and expire automatically with the
// record's TTL, so no sweeper is needed.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/cybernet/cybernet/internal/auth"
)

const (
	sessionKeyPrefix = "cybernet:sess:"
	userSetKeyPrefix = "cybernet:sess:user:"
)

// SessionStore implements auth.SessionStore using Redis.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func sessionKey(tokenHash string) string {
	return sessionKeyPrefix + tokenHash
}

func userSetKey(userID ulid.ULID) string {
	return userSetKeyPrefix + userID.String()
}

// Create stores a session record with a TTL ending at its expiry, and
// indexes the token hash under the owning user for bulk invalidation.
func (s *SessionStore) Create(ctx context.Context, session *auth.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return oops.Code("SESSION_INVALID_EXPIRY").Errorf("session already expired")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "marshal session").
			Wrap(err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.TokenHash), payload, ttl)
	pipe.SAdd(ctx, userSetKey(session.UserID), session.TokenHash)
	pipe.Expire(ctx, userSetKey(session.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "store session").
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (s *SessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
		}
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "get session").
			Wrap(err)
	}

	var session auth.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "unmarshal session").
			Wrap(err)
	}
	// The hash is the key, not part of the stored payload.
	session.TokenHash = tokenHash
	return &session, nil
}

// UpdateLastSeen rewrites the session record with a fresh LastSeenAt,
// preserving the remaining TTL.
func (s *SessionStore) UpdateLastSeen(ctx context.Context, tokenHash string, lastSeen time.Time) error {
	session, err := s.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return err
	}

	session.LastSeenAt = lastSeen
	payload, err := json.Marshal(session)
	if err != nil {
		return oops.Code("SESSION_UPDATE_FAILED").
			With("operation", "marshal session").
			Wrap(err)
	}

	if err := s.client.Set(ctx, sessionKey(tokenHash), payload, redis.KeepTTL).Err(); err != nil {
		return oops.Code("SESSION_UPDATE_FAILED").
			With("operation", "store session").
			Wrap(err)
	}
	return nil
}

// Delete removes a session by token hash.
func (s *SessionStore) Delete(ctx context.Context, tokenHash string) error {
	// Resolve the owner first so the user index stays consistent.
	session, err := s.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, sessionKey(tokenHash))
	pipe.SRem(ctx, userSetKey(session.UserID), tokenHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	if del.Val() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes all sessions for a user.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	hashes, err := s.client.SMembers(ctx, userSetKey(userID)).Result()
	if err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "list user sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, sessionKey(h))
	}
	keys = append(keys, userSetKey(userID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "delete user sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ auth.SessionStore = (*SessionStore)(nil)
